package health

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gameforge/internal/provider"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownAlert    = errors.New("unknown alert")
)

// Thresholds are the status-transition constants. A provider moves
// online -> degraded after DegradedAfter consecutive failures inside
// FailureWindow, and degraded -> offline after OfflineAfter.
type Thresholds struct {
	DegradedAfter int
	OfflineAfter  int
	FailureWindow time.Duration
	// LatencyAlpha is the EWMA weight of the newest observation.
	LatencyAlpha float64
}

// DefaultThresholds mirror the values the router is tuned against.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedAfter: 3,
		OfflineAfter:  6,
		FailureWindow: 2 * time.Minute,
		LatencyAlpha:  0.3,
	}
}

type providerState struct {
	record      Record
	lastFailure time.Time
}

// Monitor keeps one health record per configured provider. Recording an
// outcome is a short critical section over in-memory state and never calls
// out to a provider.
type Monitor struct {
	mu       sync.RWMutex
	states   map[string]*providerState
	order    []string
	alerts   []*Alert
	active   map[provider.Capability]string
	th       Thresholds
	selfHeal bool
	bus      *Bus
	log      *slog.Logger
}

// NewMonitor creates a monitor. bus may be nil when no streaming consumers
// exist (tests).
func NewMonitor(th Thresholds, selfHeal bool, bus *Bus, log *slog.Logger) *Monitor {
	if th.DegradedAfter <= 0 {
		th.DegradedAfter = DefaultThresholds().DegradedAfter
	}
	if th.OfflineAfter <= th.DegradedAfter {
		th.OfflineAfter = th.DegradedAfter + 3
	}
	if th.FailureWindow <= 0 {
		th.FailureWindow = DefaultThresholds().FailureWindow
	}
	if th.LatencyAlpha <= 0 || th.LatencyAlpha > 1 {
		th.LatencyAlpha = DefaultThresholds().LatencyAlpha
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		states:   make(map[string]*providerState),
		active:   make(map[provider.Capability]string),
		th:       th,
		selfHeal: selfHeal,
		bus:      bus,
		log:      log,
	}
}

// Register adds a provider record. configured=false records the provider
// as present in the catalog but without credentials.
func (m *Monitor) Register(name string, capability provider.Capability, configured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[name]; ok {
		return
	}
	status := StatusOnline
	if !configured {
		status = StatusNotConfigured
	}
	m.states[name] = &providerState{
		record: Record{
			Name:       name,
			Capability: capability,
			Status:     status,
			Metrics:    Metrics{SuccessRate: 1},
		},
	}
	m.order = append(m.order, name)
}

// RecordOutcome folds one attempt result into the provider's rolling
// metrics and applies status transitions.
func (m *Monitor) RecordOutcome(name string, success bool, latency time.Duration, tokensOut int) {
	now := time.Now().UTC()

	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	rec := &st.record
	rec.LastCheckedAt = now
	rec.Metrics.TotalRequests++

	alpha := m.th.LatencyAlpha
	obsMs := float64(latency.Milliseconds())
	if rec.Metrics.AvgLatencyMs == 0 {
		rec.Metrics.AvgLatencyMs = obsMs
	} else {
		rec.Metrics.AvgLatencyMs = alpha*obsMs + (1-alpha)*rec.Metrics.AvgLatencyMs
	}

	obsSuccess := 0.0
	if success {
		obsSuccess = 1.0
	}
	rec.Metrics.SuccessRate = alpha*obsSuccess + (1-alpha)*rec.Metrics.SuccessRate

	if success && tokensOut > 0 && latency > 0 {
		tps := float64(tokensOut) / latency.Seconds()
		if rec.Metrics.TokensPerSecond == 0 {
			rec.Metrics.TokensPerSecond = tps
		} else {
			rec.Metrics.TokensPerSecond = alpha*tps + (1-alpha)*rec.Metrics.TokensPerSecond
		}
	}

	var events []Event
	if success {
		rec.ConsecutiveFailures = 0
		if rec.Status == StatusDegraded || rec.Status == StatusOffline {
			events = m.transitionLocked(st, StatusOnline)
		}
	} else {
		rec.Metrics.TotalFailures++
		// Failures only accumulate while they land inside the window.
		if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > m.th.FailureWindow {
			rec.ConsecutiveFailures = 0
		}
		st.lastFailure = now
		rec.ConsecutiveFailures++

		switch {
		case rec.ConsecutiveFailures >= m.th.OfflineAfter && rec.Status != StatusOffline:
			events = m.transitionLocked(st, StatusOffline)
		case rec.ConsecutiveFailures >= m.th.DegradedAfter && rec.Status == StatusOnline:
			events = m.transitionLocked(st, StatusDegraded)
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.bus.Publish(ev)
	}
}

// RecordProbe folds an active probe result in. A successful probe brings
// an offline provider back online.
func (m *Monitor) RecordProbe(name string, success bool, latency time.Duration) {
	m.RecordOutcome(name, success, latency, 0)
}

// transitionLocked changes a provider's status, opens an alert when the
// provider crosses into degraded or offline, and returns the events to
// publish once the lock is released.
func (m *Monitor) transitionLocked(st *providerState, to Status) []Event {
	rec := &st.record
	from := rec.Status
	if from == to {
		return nil
	}
	rec.Status = to

	m.log.Info("provider status changed",
		"provider", rec.Name, "from", string(from), "to", string(to))

	events := []Event{{
		Type:     EventHealthUpdated,
		Provider: rec.Name,
		Status:   to,
	}}

	switch to {
	case StatusDegraded, StatusOffline:
		severity := SeverityWarning
		if to == StatusOffline {
			severity = SeverityCritical
		}
		alert := newAlert(rec.Name, severity,
			fmt.Sprintf("provider %s is %s after %d consecutive failures", rec.Name, to, rec.ConsecutiveFailures))
		m.alerts = append(m.alerts, alert)
		events = append(events, Event{
			Type:     EventAlertCreated,
			Provider: rec.Name,
			Status:   to,
			Alert:    alert,
		})
	case StatusOnline:
		if m.selfHeal {
			m.resolveProviderAlertsLocked(rec.Name)
		}
	}
	return events
}

// HealthData returns the record for one provider.
func (m *Monitor) HealthData(name string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return st.record, nil
}

// IsUsable reports whether routing may currently use the provider.
func (m *Monitor) IsUsable(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[name]
	return ok && st.record.Status.Usable()
}

// SetActive records the provider currently serving a capability and
// announces manual failovers on the bus.
func (m *Monitor) SetActive(capability provider.Capability, name string, manual bool) {
	m.mu.Lock()
	prev := m.active[capability]
	m.active[capability] = name
	m.mu.Unlock()

	if manual && prev != name {
		m.bus.Publish(Event{
			Type:     EventFailoverActivated,
			Provider: name,
			Message:  fmt.Sprintf("routing for %s capability pinned to %s", capability, name),
		})
	}
}

// ActiveService returns the provider currently selected for a capability.
func (m *Monitor) ActiveService(capability provider.Capability) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.active[capability]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no active service for %s", ErrUnknownProvider, capability)
	}
	return name, nil
}

// Report snapshots the whole fleet.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]Record, 0, len(m.order))
	var online, offline, configured int
	for _, name := range m.order {
		rec := m.states[name].record
		services = append(services, rec)
		if rec.Status == StatusNotConfigured {
			continue
		}
		configured++
		switch rec.Status {
		case StatusOnline, StatusDegraded:
			online++
		case StatusOffline:
			offline++
		}
	}

	overall := OverallHealthy
	switch {
	case configured > 0 && online == 0:
		overall = OverallCritical
	case offline > 0:
		overall = OverallDegraded
	}

	return Report{
		Services:      services,
		OverallStatus: overall,
		Summary:       fmt.Sprintf("%d/%d configured providers usable, %d offline", online, configured, offline),
		GeneratedAt:   time.Now().UTC(),
	}
}
