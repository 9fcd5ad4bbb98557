package health

import (
	"sync"
	"testing"
	"time"

	"gameforge/internal/provider"
)

func newTestMonitor(t *testing.T, selfHeal bool, bus *Bus) *Monitor {
	t.Helper()
	m := NewMonitor(Thresholds{
		DegradedAfter: 3,
		OfflineAfter:  6,
		FailureWindow: 2 * time.Minute,
	}, selfHeal, bus, nil)
	m.Register("deepseek", provider.CapabilityText, true)
	return m
}

func fail(m *Monitor, name string, n int) {
	for i := 0; i < n; i++ {
		m.RecordOutcome(name, false, 100*time.Millisecond, 0)
	}
}

func status(t *testing.T, m *Monitor, name string) Status {
	t.Helper()
	rec, err := m.HealthData(name)
	if err != nil {
		t.Fatalf("health data: %v", err)
	}
	return rec.Status
}

func TestStatusTransitions(t *testing.T) {
	m := newTestMonitor(t, false, nil)

	fail(m, "deepseek", 2)
	if got := status(t, m, "deepseek"); got != StatusOnline {
		t.Fatalf("after 2 failures: %q", got)
	}

	fail(m, "deepseek", 1)
	if got := status(t, m, "deepseek"); got != StatusDegraded {
		t.Fatalf("after 3 failures: %q", got)
	}

	fail(m, "deepseek", 3)
	if got := status(t, m, "deepseek"); got != StatusOffline {
		t.Fatalf("after 6 failures: %q", got)
	}
	if m.IsUsable("deepseek") {
		t.Fatalf("offline provider reported usable")
	}

	// A successful probe restores the provider.
	m.RecordProbe("deepseek", true, 50*time.Millisecond)
	if got := status(t, m, "deepseek"); got != StatusOnline {
		t.Fatalf("after successful probe: %q", got)
	}
	if !m.IsUsable("deepseek") {
		t.Fatalf("online provider reported unusable")
	}
}

func TestDegradedProviderStaysUsable(t *testing.T) {
	m := newTestMonitor(t, false, nil)
	fail(m, "deepseek", 3)
	if got := status(t, m, "deepseek"); got != StatusDegraded {
		t.Fatalf("status: %q", got)
	}
	if !m.IsUsable("deepseek") {
		t.Fatalf("degraded provider must remain usable")
	}
}

func TestFailureWindowResetsCount(t *testing.T) {
	m := NewMonitor(Thresholds{
		DegradedAfter: 3,
		OfflineAfter:  6,
		FailureWindow: 10 * time.Millisecond,
	}, false, nil, nil)
	m.Register("deepseek", provider.CapabilityText, true)

	fail(m, "deepseek", 2)
	time.Sleep(20 * time.Millisecond)
	fail(m, "deepseek", 2)

	// The first two failures fell out of the window, so only two count.
	if got := status(t, m, "deepseek"); got != StatusOnline {
		t.Fatalf("stale failures still counted: %q", got)
	}
}

func TestAlertOpenedOncePerTransition(t *testing.T) {
	m := newTestMonitor(t, false, nil)

	fail(m, "deepseek", 4)
	alerts := m.Alerts(false)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert after degraded transition, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityWarning {
		t.Fatalf("degraded alert severity: %q", alerts[0].Severity)
	}

	fail(m, "deepseek", 2)
	alerts = m.Alerts(false)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts after offline transition, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityCritical {
		t.Fatalf("offline alert severity: %q", alerts[0].Severity)
	}
}

func TestAlertsSurviveRecoveryWithoutSelfHeal(t *testing.T) {
	m := newTestMonitor(t, false, nil)
	fail(m, "deepseek", 3)
	m.RecordOutcome("deepseek", true, 50*time.Millisecond, 100)

	if got := status(t, m, "deepseek"); got != StatusOnline {
		t.Fatalf("status after recovery: %q", got)
	}
	if alerts := m.Alerts(false); len(alerts) != 1 {
		t.Fatalf("recovery must not auto-resolve alerts, got %d open", len(alerts))
	}
}

func TestSelfHealResolvesAlertsOnRecovery(t *testing.T) {
	m := newTestMonitor(t, true, nil)
	fail(m, "deepseek", 3)
	m.RecordOutcome("deepseek", true, 50*time.Millisecond, 100)

	if alerts := m.Alerts(false); len(alerts) != 0 {
		t.Fatalf("self-heal should resolve alerts, %d still open", len(alerts))
	}
	if alerts := m.Alerts(true); len(alerts) != 1 {
		t.Fatalf("resolved alert should remain in history, got %d", len(alerts))
	}
}

func TestResolveAlert(t *testing.T) {
	m := newTestMonitor(t, false, nil)
	fail(m, "deepseek", 3)

	alerts := m.Alerts(false)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if err := m.ResolveAlert(alerts[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if remaining := m.Alerts(false); len(remaining) != 0 {
		t.Fatalf("alert still open after resolve")
	}
	if err := m.ResolveAlert("no-such-alert"); err != ErrUnknownAlert {
		t.Fatalf("expected ErrUnknownAlert, got %v", err)
	}
}

func TestNotConfiguredProvider(t *testing.T) {
	m := newTestMonitor(t, false, nil)
	m.Register("claude", provider.CapabilityText, false)

	if m.IsUsable("claude") {
		t.Fatalf("unconfigured provider must not be usable")
	}
	rep := m.Report()
	if len(rep.Services) != 2 {
		t.Fatalf("report should list the full fleet, got %d", len(rep.Services))
	}
	if rep.OverallStatus != OverallHealthy {
		t.Fatalf("unconfigured providers must not drag overall status: %q", rep.OverallStatus)
	}
}

func TestOverallStatus(t *testing.T) {
	m := newTestMonitor(t, false, nil)
	m.Register("claude", provider.CapabilityText, true)

	fail(m, "deepseek", 6)
	if rep := m.Report(); rep.OverallStatus != OverallDegraded {
		t.Fatalf("one provider down: %q", rep.OverallStatus)
	}

	fail(m, "claude", 6)
	if rep := m.Report(); rep.OverallStatus != OverallCritical {
		t.Fatalf("all providers down: %q", rep.OverallStatus)
	}
}

func TestBusReceivesTransitionEvents(t *testing.T) {
	bus := NewBus(16)
	m := newTestMonitor(t, false, bus)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 8)
	unsubscribe := bus.Subscribe(func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubscribe()

	fail(m, "deepseek", 3)

	// The degraded transition publishes health-updated and alert-created.
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	types := map[EventType]bool{}
	for _, evt := range got {
		types[evt.Type] = true
		if evt.Timestamp.IsZero() {
			t.Fatalf("event published without timestamp")
		}
	}
	if !types[EventHealthUpdated] || !types[EventAlertCreated] {
		t.Fatalf("missing event types: %v", types)
	}
}

func TestManualFailoverEvent(t *testing.T) {
	bus := NewBus(16)
	m := newTestMonitor(t, false, bus)

	done := make(chan Event, 1)
	unsubscribe := bus.Subscribe(func(evt Event) {
		if evt.Type == EventFailoverActivated {
			done <- evt
		}
	})
	defer unsubscribe()

	m.SetActive(provider.CapabilityText, "deepseek", true)
	select {
	case evt := <-done:
		if evt.Provider != "deepseek" {
			t.Fatalf("event provider: %q", evt.Provider)
		}
	case <-time.After(time.Second):
		t.Fatalf("no failover event published")
	}

	if name, err := m.ActiveService(provider.CapabilityText); err != nil || name != "deepseek" {
		t.Fatalf("active service: %q, %v", name, err)
	}
}
