package provider

import "context"

// Client is a uniform wrapper around one upstream AI service. Generate must
// honor ctx cancellation; callers apply per-attempt timeouts through ctx.
type Client interface {
	Name() string
	Capability() Capability
	Generate(ctx context.Context, req Request) (*Result, error)
	// Probe performs a cheap liveness check against the upstream service.
	Probe(ctx context.Context) error
	Close() error
}
