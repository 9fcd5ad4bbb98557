package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"gameforge/internal/provider"
)

const defaultProbeTimeout = 10 * time.Second

// Prober actively checks providers on a cron schedule so an offline
// provider can recover without waiting for live traffic to hit it.
type Prober struct {
	monitor *Monitor
	clients map[string]provider.Client
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	log     *slog.Logger
}

// NewProber creates a prober. spec is a standard 5-field cron expression,
// e.g. "*/1 * * * *" for every minute.
func NewProber(monitor *Monitor, clients []provider.Client, spec string, log *slog.Logger) *Prober {
	byName := make(map[string]provider.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	if spec == "" {
		spec = "*/1 * * * *"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Prober{
		monitor: monitor,
		clients: byName,
		cron:    cron.New(),
		spec:    spec,
		timeout: defaultProbeTimeout,
		log:     log,
	}
}

// Start registers the probe job and starts the cron ticker.
func (p *Prober) Start() error {
	if _, err := p.cron.AddFunc(p.spec, p.RunOnce); err != nil {
		return err
	}
	p.cron.Start()
	p.log.Info("health prober started", "schedule", p.spec, "providers", len(p.clients))
	return nil
}

// Stop halts the cron ticker and waits for a running probe pass to finish.
func (p *Prober) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// RunOnce probes every provider that is not currently usable. Healthy
// providers already get passive coverage from live traffic.
func (p *Prober) RunOnce() {
	for name, client := range p.clients {
		if p.monitor.IsUsable(name) {
			continue
		}
		rec, err := p.monitor.HealthData(name)
		if err != nil || rec.Status == StatusNotConfigured {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		started := time.Now()
		probeErr := client.Probe(ctx)
		cancel()

		p.monitor.RecordProbe(name, probeErr == nil, time.Since(started))
		if probeErr != nil {
			p.log.Debug("probe failed", "provider", name, "error", probeErr)
		} else {
			p.log.Info("provider recovered by probe", "provider", name)
		}
	}
}
