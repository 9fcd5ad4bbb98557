package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gameforge/internal/health"
	"gameforge/internal/provider"
)

var (
	// ErrAllProvidersExhausted is returned when every eligible provider
	// failed or none was usable for the capability.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	// ErrInvalidProvider is returned for failover targets that are unknown
	// or not currently usable.
	ErrInvalidProvider = errors.New("invalid provider")
)

// Config holds the static routing policy.
type Config struct {
	// AttemptTimeout bounds each single provider call.
	AttemptTimeout time.Duration
	// MaxAttempts bounds the failover chain per request.
	MaxAttempts int
	// Priority lists provider names per capability, best first.
	Priority map[provider.Capability][]string
}

// DefaultConfig is the shipped routing policy: DeepSeek leads for text,
// OpenAI images lead for image generation.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 45 * time.Second,
		MaxAttempts:    3,
		Priority: map[provider.Capability][]string{
			provider.CapabilityText:  {"deepseek", "claude", "openai", "gemini"},
			provider.CapabilityImage: {"openai-image", "stability"},
		},
	}
}

// Router selects a provider client per request, consulting the health
// monitor, and fails over along the priority list.
type Router struct {
	cfg     Config
	monitor *health.Monitor
	log     *slog.Logger

	mu      sync.RWMutex
	clients map[string]provider.Client
	pinned  map[provider.Capability]string

	stats *statsCounters
}

// New creates a router over the given clients. Every client must already
// be registered with the monitor.
func New(cfg Config, monitor *health.Monitor, clients []provider.Client, log *slog.Logger) *Router {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Priority == nil {
		cfg.Priority = DefaultConfig().Priority
	}
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]provider.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Router{
		cfg:     cfg,
		monitor: monitor,
		log:     log,
		clients: byName,
		pinned:  make(map[provider.Capability]string),
		stats:   newStatsCounters(),
	}
}

// Generate runs one generation request, failing over across healthy
// providers. preferred, when non-empty and healthy, is tried first.
func (r *Router) Generate(ctx context.Context, capability provider.Capability, req provider.Request, preferred string) (*provider.Result, error) {
	candidates := r.candidates(capability, preferred)
	if len(candidates) == 0 {
		r.stats.recordRequest(false)
		return nil, fmt.Errorf("%w: no usable %s provider", ErrAllProvidersExhausted, capability)
	}

	attempts := 0
	var lastErr error
	for _, name := range candidates {
		if attempts >= r.cfg.MaxAttempts {
			break
		}
		client := r.client(name)
		if client == nil {
			continue
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		started := time.Now()
		result, err := client.Generate(attemptCtx, req)
		elapsed := time.Since(started)
		cancel()

		if err != nil {
			lastErr = err
			r.monitor.RecordOutcome(name, false, elapsed, 0)
			r.stats.recordAttempt(name, false)
			r.log.Warn("provider attempt failed",
				"provider", name, "capability", string(capability), "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		r.monitor.RecordOutcome(name, true, elapsed, result.TokensOut)
		r.stats.recordAttempt(name, true)
		r.stats.recordRequest(true)
		r.monitor.SetActive(capability, name, false)
		return result, nil
	}

	r.stats.recordRequest(false)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last attempt: %v", ErrAllProvidersExhausted, lastErr)
	}
	return nil, fmt.Errorf("%w: no usable %s provider", ErrAllProvidersExhausted, capability)
}

// candidates builds the ordered provider list for a request: the pinned
// provider first (while it stays healthy), then the caller's preference,
// then the static priority list, all filtered through the monitor.
func (r *Router) candidates(capability provider.Capability, preferred string) []string {
	r.mu.Lock()
	pin := r.pinned[capability]
	if pin != "" && !r.monitor.IsUsable(pin) {
		// A pin to an unhealthy provider clears itself.
		delete(r.pinned, capability)
		pin = ""
	}
	r.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		c := r.client(name)
		if c == nil || c.Capability() != capability {
			return
		}
		if !r.monitor.IsUsable(name) {
			return
		}
		out = append(out, name)
	}

	add(pin)
	add(preferred)
	for _, name := range r.cfg.Priority[capability] {
		add(name)
	}
	return out
}

func (r *Router) client(name string) provider.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// ForceFailover pins routing for the target's capability to the target
// until cleared or until the target itself becomes unhealthy.
func (r *Router) ForceFailover(target string) error {
	client := r.client(target)
	if client == nil {
		return fmt.Errorf("%w: %s is not registered", ErrInvalidProvider, target)
	}
	if !r.monitor.IsUsable(target) {
		return fmt.Errorf("%w: %s is not healthy", ErrInvalidProvider, target)
	}

	r.mu.Lock()
	r.pinned[client.Capability()] = target
	r.mu.Unlock()

	r.monitor.SetActive(client.Capability(), target, true)
	r.log.Info("manual failover activated", "provider", target, "capability", string(client.Capability()))
	return nil
}

// ClearFailover removes the manual pin for a capability.
func (r *Router) ClearFailover(capability provider.Capability) {
	r.mu.Lock()
	delete(r.pinned, capability)
	r.mu.Unlock()
}

// PinnedProvider returns the current manual pin, if any.
func (r *Router) PinnedProvider(capability provider.Capability) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.pinned[capability]
	return name, ok && name != ""
}
