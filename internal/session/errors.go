package session

import (
	"errors"

	"gameforge/internal/store"
)

var (
	// ErrInvalidInput is returned for malformed requests. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when an operation contradicts committed
	// session state (wrong step, different variant after commit, completing
	// with steps remaining).
	ErrConflict = errors.New("conflict with committed session state")
	// ErrPaused rejects mutations on a paused session.
	ErrPaused = errors.New("session is paused")
)

// ErrNotFound is shared with the store so callers match one sentinel for
// unknown sessions, steps, and variants.
var ErrNotFound = store.ErrNotFound
