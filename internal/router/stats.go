package router

import "sync"

// Stats is a snapshot of routing activity since process start or the last
// reset.
type Stats struct {
	Requests  int64                    `json:"requests"`
	Successes int64                    `json:"successes"`
	Failures  int64                    `json:"failures"`
	Providers map[string]ProviderStats `json:"providers"`
}

// ProviderStats counts per-provider attempts.
type ProviderStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

type statsCounters struct {
	mu        sync.Mutex
	requests  int64
	successes int64
	failures  int64
	providers map[string]ProviderStats
}

func newStatsCounters() *statsCounters {
	return &statsCounters{providers: make(map[string]ProviderStats)}
}

func (s *statsCounters) recordRequest(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func (s *statsCounters) recordAttempt(name string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.providers[name]
	ps.Attempts++
	if success {
		ps.Successes++
	} else {
		ps.Failures++
	}
	s.providers[name] = ps
}

// Stats returns a copy of the current counters.
func (r *Router) Stats() Stats {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	providers := make(map[string]ProviderStats, len(r.stats.providers))
	for name, ps := range r.stats.providers {
		providers[name] = ps
	}
	return Stats{
		Requests:  r.stats.requests,
		Successes: r.stats.successes,
		Failures:  r.stats.failures,
		Providers: providers,
	}
}

// ResetStats zeroes all counters.
func (r *Router) ResetStats() {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()
	r.stats.requests = 0
	r.stats.successes = 0
	r.stats.failures = 0
	r.stats.providers = make(map[string]ProviderStats)
}
