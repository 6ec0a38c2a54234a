package model

import (
	"time"
)

// SessionMetrics aggregates the events of one session.
type SessionMetrics struct {
	SessionID           string    `json:"sessionId"`
	UserID              string    `json:"userId,omitempty"`
	StartTime           time.Time `json:"startTime"`
	EndTime             time.Time `json:"endTime"`
	TotalMessages       int       `json:"totalMessages"`
	TotalTokens         int       `json:"totalTokens"`
	TotalCost           float64   `json:"totalCost"`
	AverageResponseTime float64   `json:"averageResponseTime"`
	ModelsUsed          []string  `json:"modelsUsed"`
	Errors              int       `json:"errors"`
}

// Duration returns the time between the first and last event.
func (m SessionMetrics) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

// UserMetrics aggregates the events of one user across sessions.
type UserMetrics struct {
	UserID               string    `json:"userId"`
	TotalSessions        int       `json:"totalSessions"`
	TotalMessages        int       `json:"totalMessages"`
	TotalTokens          int       `json:"totalTokens"`
	TotalCost            float64   `json:"totalCost"`
	AverageSessionLength float64   `json:"averageSessionLength"`
	FavoriteModels       []string  `json:"favoriteModels"`
	LastActivity         time.Time `json:"lastActivity"`
}

// TimeRange is an inclusive time window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ProviderMetrics aggregates the events of one provider in a time window.
type ProviderMetrics struct {
	Provider            string    `json:"provider"`
	TotalRequests       int       `json:"totalRequests"`
	TotalTokens         int       `json:"totalTokens"`
	TotalCost           float64   `json:"totalCost"`
	AverageResponseTime float64   `json:"averageResponseTime"`
	ErrorRate           float64   `json:"errorRate"`
	ModelsUsed          []string  `json:"modelsUsed"`
	TimeRange           TimeRange `json:"timeRange"`
}

// MetricsQuery filters events. Zero values mean "no filter"; Limit 0 means unlimited.
type MetricsQuery struct {
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Model     string     `json:"model,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Matches reports whether e passes every filter of q.
func (q MetricsQuery) Matches(e *Event) bool {
	if q.StartDate != nil && e.Timestamp.Before(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && e.Timestamp.After(*q.EndDate) {
		return false
	}
	if q.SessionID != "" && e.SessionID != q.SessionID {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Provider != "" && e.Provider != q.Provider {
		return false
	}
	if q.Model != "" && e.Model != q.Model {
		return false
	}
	return true
}

// ReportSummary holds the totals of a report.
type ReportSummary struct {
	TotalEvents         int     `json:"totalEvents"`
	TotalSessions       int     `json:"totalSessions"`
	TotalUsers          int     `json:"totalUsers"`
	TotalTokens         int     `json:"totalTokens"`
	TotalCost           float64 `json:"totalCost"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// ReportBreakdown counts events per dimension. ByTime is keyed by UTC hour "0".."23".
type ReportBreakdown struct {
	ByProvider  map[string]int `json:"byProvider"`
	ByModel     map[string]int `json:"byModel"`
	ByEventType map[string]int `json:"byEventType"`
	ByTime      map[string]int `json:"byTime"`
}

// TrackingReport is the aggregate answer to a MetricsQuery.
type TrackingReport struct {
	Summary     ReportSummary    `json:"summary"`
	Breakdown   ReportBreakdown  `json:"breakdown"`
	TopSessions []SessionMetrics `json:"topSessions"`
	TopUsers    []UserMetrics    `json:"topUsers"`
}

// StorageStats summarizes a storage backend.
type StorageStats struct {
	TotalEvents   int `json:"totalEvents"`
	TotalSessions int `json:"totalSessions"`
	TotalUsers    int `json:"totalUsers"`
	StorageSize   int `json:"storageSize"`
}

// TrackingResult is returned by every tracking call.
// Success is false only when the storage write failed.
type TrackingResult struct {
	Success   bool      `json:"success"`
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}
