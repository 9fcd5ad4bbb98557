package health

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a point-in-time health event that stays open until an operator
// resolves it (or the self-heal policy does on recovery).
type Alert struct {
	ID           string     `json:"id"`
	ProviderName string     `json:"providerName"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

func newAlert(providerName string, severity Severity, message string) *Alert {
	return &Alert{
		ID:           uuid.NewString(),
		ProviderName: providerName,
		Severity:     severity,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
}

// Alerts returns alerts newest first. Resolved alerts are included only
// when includeResolved is set.
func (m *Monitor) Alerts(includeResolved bool) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if !includeResolved && a.ResolvedAt != nil {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// ResolveAlert marks the alert as acknowledged by an operator.
func (m *Monitor) ResolveAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == id {
			if a.ResolvedAt == nil {
				now := time.Now().UTC()
				a.ResolvedAt = &now
			}
			return nil
		}
	}
	return ErrUnknownAlert
}

// resolveProviderAlertsLocked closes every open alert for a provider.
// Used by the self-heal policy on recovery.
func (m *Monitor) resolveProviderAlertsLocked(name string) {
	now := time.Now().UTC()
	for _, a := range m.alerts {
		if a.ProviderName == name && a.ResolvedAt == nil {
			a.ResolvedAt = &now
		}
	}
}
