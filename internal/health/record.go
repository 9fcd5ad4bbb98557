package health

import (
	"time"

	"gameforge/internal/provider"
)

// Status is the liveness classification of one provider.
type Status string

const (
	StatusOnline        Status = "online"
	StatusDegraded      Status = "degraded"
	StatusOffline       Status = "offline"
	StatusNotConfigured Status = "not_configured"
)

// Usable reports whether routing may send requests to a provider in this
// status.
func (s Status) Usable() bool {
	return s == StatusOnline || s == StatusDegraded
}

// Metrics holds rolling averages for one provider. Latency and success
// rate are exponentially weighted so recent behavior dominates.
type Metrics struct {
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	SuccessRate     float64 `json:"successRate"`
	TokensPerSecond float64 `json:"tokensPerSecond"`
	TotalRequests   int64   `json:"totalRequests"`
	TotalFailures   int64   `json:"totalFailures"`
}

// Record is the externally visible health state of one provider.
type Record struct {
	Name                string              `json:"name"`
	Capability          provider.Capability `json:"capability"`
	Status              Status              `json:"status"`
	Metrics             Metrics             `json:"metrics"`
	LastCheckedAt       time.Time           `json:"lastCheckedAt"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
}

// OverallStatus summarizes the whole provider fleet.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// Report is a point-in-time snapshot of every configured provider.
type Report struct {
	Services      []Record      `json:"services"`
	OverallStatus OverallStatus `json:"overallStatus"`
	Summary       string        `json:"summary"`
	GeneratedAt   time.Time     `json:"generatedAt"`
}
