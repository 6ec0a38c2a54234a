// Package main is the entry point for the agentwatch server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/config"
	"github.com/capitalize-ai/agentwatch/internal/handler"
	natsclient "github.com/capitalize-ai/agentwatch/internal/nats"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/tracing"
)

const streamStatsInterval = 30 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting agentwatch", zap.String("lmstudio_url", cfg.LMStudioURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agentwatch", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	hub := service.NewHub()
	publishers := []natsclient.Publisher{hub}

	var (
		natsClient    *natsclient.Client
		streamManager *natsclient.StreamManager
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     cfg.NATSName,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streamManager = natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publishers = append(publishers, streamManager)
		go collectStreamStats(ctx, streamManager, log)
	}

	registry := service.NewRegistry(
		service.NewTrackerFactory(cfg.TrackerConfig(), log, publishers...),
		log,
	)
	registry.AddDefault(ctx, cfg.LMStudioURL)

	routerCfg := handler.RouterConfig{
		Registry:          registry,
		Hub:               hub,
		NATSClient:        natsClient,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	}
	if streamManager != nil {
		routerCfg.Replayer = streamManager
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, admin routes are unauthenticated")
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Flushes every tracker's queued events before the NATS connection drains.
	registry.Close(shutdownCtx)

	log.Info("server stopped")
}

func collectStreamStats(ctx context.Context, sm *natsclient.StreamManager, log *logger.Logger) {
	ticker := time.NewTicker(streamStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sm.CollectStats(ctx); err != nil {
				log.Warn("failed to collect stream stats", zap.Error(err))
			}
		}
	}
}
