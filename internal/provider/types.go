package provider

import (
	"errors"
	"fmt"
	"time"
)

// Capability is the category of generation a client can serve.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

// Request is a capability-typed generation request. Text requests use
// Prompt/System; image requests use Prompt/Size/Style.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float32
	WantJSON    bool

	Size  string
	Style string
}

// Result is a successful generation outcome with its usage metadata.
type Result struct {
	Text     string
	ImageRef string

	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	Latency   time.Duration
}

// FailureKind classifies a failed attempt against one upstream provider.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureAuthRejected FailureKind = "auth_rejected"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureUpstream     FailureKind = "upstream_error"
)

var ErrInvalidJSON = errors.New("invalid json from provider")

// Failure is a typed per-attempt failure. The router treats every kind as
// retriable on the next provider; the kind is kept for health metrics and
// operator-facing messages.
type Failure struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err as a typed attempt failure for the named provider.
func NewFailure(kind FailureKind, provider string, err error) error {
	return &Failure{Kind: kind, Provider: provider, Err: err}
}

// classifyStatus maps an upstream HTTP status to a failure kind.
func classifyStatus(code int) FailureKind {
	switch {
	case code == 401 || code == 403:
		return FailureAuthRejected
	case code == 429:
		return FailureRateLimited
	default:
		return FailureUpstream
	}
}
