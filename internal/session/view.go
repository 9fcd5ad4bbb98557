package session

import (
	"encoding/json"
	"time"

	"gameforge/internal/pipeline"
	"gameforge/internal/store"
)

// VariantMetadata carries generation provenance for one variant.
type VariantMetadata struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	LatencyMs   int64     `json:"latencyMs"`
	TokensOut   int       `json:"tokensOut"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// VariantView is a variant as exposed to callers.
type VariantView struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details,omitempty"`
	AIGenerated bool            `json:"aiGenerated"`
	Metadata    VariantMetadata `json:"metadata"`
}

// StepView is one step with its generated variants.
type StepView struct {
	StepID            string            `json:"stepId"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Type              pipeline.StepType `json:"type"`
	Order             int               `json:"order"`
	SelectedVariantID *string           `json:"selectedVariantId,omitempty"`
	Variants          []VariantView     `json:"variants"`
}

// View is the session snapshot returned by read and mutate operations.
// Step is the current step including its variants.
type View struct {
	GameID         string              `json:"gameId"`
	UserID         string              `json:"userId,omitempty"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Genre          string              `json:"genre,omitempty"`
	CurrentStep    int                 `json:"currentStep"`
	TotalSteps     int                 `json:"totalSteps"`
	CompletedSteps []int               `json:"completedSteps"`
	Status         store.SessionStatus `json:"status"`
	IsActive       bool                `json:"isActive"`
	IsPaused       bool                `json:"isPaused"`
	Error          *string             `json:"error,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
	Step           *StepView           `json:"step,omitempty"`
	StartedAt      time.Time           `json:"startedAt"`
	LastActivityAt time.Time           `json:"lastActivityAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
}

// SelectResult is the outcome of a variant selection: either the next step
// with fresh variants, or completionPending after the last step.
type SelectResult struct {
	SelectedVariant   VariantView `json:"selectedVariant"`
	NextStep          *StepView   `json:"nextStep,omitempty"`
	CompletionPending bool        `json:"completionPending"`
}

func variantView(v store.Variant) VariantView {
	return VariantView{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		Details:     json.RawMessage(v.Details),
		AIGenerated: v.AIGenerated,
		Metadata: VariantMetadata{
			Provider:    v.Provider,
			Model:       v.Model,
			LatencyMs:   v.LatencyMs,
			TokensOut:   v.TokensOut,
			GeneratedAt: v.GeneratedAt,
		},
	}
}

func stepView(st store.Step, variants []store.Variant) *StepView {
	views := make([]VariantView, 0, len(variants))
	for _, v := range variants {
		views = append(views, variantView(v))
	}
	return &StepView{
		StepID:            st.StepID,
		Name:              st.Name,
		Description:       st.Description,
		Type:              st.Type,
		Order:             st.Order,
		SelectedVariantID: st.SelectedVariantID,
		Variants:          views,
	}
}

func sessionView(sess *store.Session, step *StepView) *View {
	completed := sess.CompletedSteps
	if completed == nil {
		completed = []int{}
	}
	return &View{
		GameID:         sess.GameID,
		UserID:         sess.UserID,
		Title:          sess.Title,
		Description:    sess.Description,
		Genre:          sess.Genre,
		CurrentStep:    sess.CurrentStep,
		TotalSteps:     sess.TotalSteps,
		CompletedSteps: completed,
		Status:         sess.Status,
		IsActive:       sess.IsActive,
		IsPaused:       sess.IsPaused,
		Error:          sess.Error,
		Metadata:       sess.Metadata,
		Step:           step,
		StartedAt:      sess.StartedAt,
		LastActivityAt: sess.LastActivityAt,
		CompletedAt:    sess.CompletedAt,
	}
}
