package store

import (
	"time"

	"gameforge/internal/pipeline"
)

// SessionStatus is the state-machine position of a session.
type SessionStatus string

const (
	StatusPendingSelection   SessionStatus = "pending_selection"
	StatusAwaitingCompletion SessionStatus = "awaiting_completion"
	StatusCompleted          SessionStatus = "completed"
	StatusFailed             SessionStatus = "failed"
	StatusAbandoned          SessionStatus = "abandoned"
)

// Session is one generation workflow instance. GameID is the externally
// visible stable identifier; PK is the internal primary key.
type Session struct {
	PK             int64
	GameID         string
	UserID         string
	Title          string
	Description    string
	Genre          string
	Config         map[string]string
	Metadata       map[string]string
	CurrentStep    int
	TotalSteps     int
	CompletedSteps []int
	Status         SessionStatus
	IsActive       bool
	IsPaused       bool
	FinalArtifact  []byte
	Error          *string
	StartedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
}

// StepCompleted reports whether the given step index has a recorded
// selection.
func (s *Session) StepCompleted(index int) bool {
	for _, i := range s.CompletedSteps {
		if i == index {
			return true
		}
	}
	return false
}

// Step is one pipeline stage bound to a session.
type Step struct {
	PK                int64
	SessionPK         int64
	StepID            string
	Name              string
	Description       string
	Type              pipeline.StepType
	Order             int
	SelectedVariantID *string
}

// Variant is one AI-proposed option for a step. Immutable once created.
type Variant struct {
	ID          string
	StepPK      int64
	Title       string
	Description string
	Details     []byte
	AIGenerated bool
	Provider    string
	Model       string
	LatencyMs   int64
	TokensOut   int
	GeneratedAt time.Time
}
