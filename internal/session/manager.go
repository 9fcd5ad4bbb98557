package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gameforge/internal/artifact"
	"gameforge/internal/pipeline"
	"gameforge/internal/provider"
	"gameforge/internal/store"
)

// Generator is the routing capability the manager depends on. Satisfied by
// *router.Router.
type Generator interface {
	Generate(ctx context.Context, capability provider.Capability, req provider.Request, preferred string) (*provider.Result, error)
}

const (
	artifactCacheSize = 512
	bundlePath        = "game.json"
)

// StartInput is the caller-supplied session seed.
type StartInput struct {
	Title       string
	Description string
	Genre       string
	UserID      string
	Quality     string
}

// Manager drives the interactive generation state machine. All mutating
// operations on one game id are serialized through a per-session lock.
type Manager struct {
	store     *store.Store
	generator Generator
	pipe      *pipeline.Pipeline
	artifacts artifact.Store
	locks     *keyedLocks
	cache     *lru.Cache[string, *pipeline.Artifact]
	log       *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// NewManager wires the session manager. pipe defaults to the built-in
// five-stage pipeline when nil.
func NewManager(st *store.Store, gen Generator, pipe *pipeline.Pipeline, artifacts artifact.Store, log *slog.Logger) (*Manager, error) {
	if pipe == nil {
		pipe = pipeline.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[string, *pipeline.Artifact](artifactCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:     st,
		generator: gen,
		pipe:      pipe,
		artifacts: artifacts,
		locks:     newKeyedLocks(),
		cache:     cache,
		log:       log,
		inflight:  make(map[string]context.CancelFunc),
	}, nil
}

// Start creates a session with the pipeline's fixed step sequence,
// generates variants for step 0, and returns the session with those
// variants visible.
func (m *Manager) Start(ctx context.Context, in StartInput) (*View, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	sess := &store.Session{
		GameID:         uuid.NewString(),
		UserID:         strings.TrimSpace(in.UserID),
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Genre:          strings.TrimSpace(in.Genre),
		Config:         map[string]string{},
		Metadata:       map[string]string{},
		TotalSteps:     m.pipe.Len(),
		CompletedSteps: []int{},
		Status:         store.StatusPendingSelection,
		IsActive:       true,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if in.Quality != "" {
		sess.Config["quality"] = in.Quality
	}

	steps := make([]store.Step, 0, m.pipe.Len())
	for i, stage := range m.pipe.Stages {
		steps = append(steps, store.Step{
			StepID:      stage.ID,
			Name:        stage.Name,
			Description: stage.Description,
			Type:        stage.Type,
			Order:       i,
		})
	}
	if err := m.store.CreateSession(ctx, sess, steps); err != nil {
		return nil, err
	}

	stage, _ := m.pipe.Stage(0)
	variants, degraded, err := m.generateVariants(ctx, sess, stage, steps[0].PK, nil)
	if err != nil {
		return nil, err
	}
	if err := m.store.AdvanceStep(ctx, sess.GameID, 0, variants, degraded); err != nil {
		return nil, err
	}

	m.log.Info("session started",
		"gameId", sess.GameID, "totalSteps", sess.TotalSteps, "degraded", degraded)
	return m.State(ctx, sess.GameID)
}

// State is a read-only fetch of a session including the current step's
// variants.
func (m *Manager) State(ctx context.Context, gameID string) (*View, error) {
	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	steps, err := m.store.Steps(ctx, sess.PK)
	if err != nil {
		return nil, err
	}
	var step *StepView
	if sess.CurrentStep >= 0 && sess.CurrentStep < len(steps) {
		cur := steps[sess.CurrentStep]
		variants, err := m.store.Variants(ctx, cur.PK)
		if err != nil {
			return nil, err
		}
		step = stepView(cur, variants)
	}
	return sessionView(sess, step), nil
}

// SelectVariant records the user's choice for the session's current step.
// Re-selecting the committed variant is a no-op; selecting a different one
// fails with ErrConflict. When steps remain, the next step's variants are
// generated only after the selection is durably persisted.
func (m *Manager) SelectVariant(ctx context.Context, gameID, stepID, variantID string) (*SelectResult, error) {
	release, err := m.locks.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status == store.StatusCompleted || sess.Status == store.StatusAbandoned:
		return nil, fmt.Errorf("%w: session is %s", ErrConflict, sess.Status)
	case sess.Status == store.StatusFailed:
		return nil, fmt.Errorf("%w: session failed, retry the step first", ErrConflict)
	case sess.IsPaused:
		return nil, ErrPaused
	}

	steps, err := m.store.Steps(ctx, sess.PK)
	if err != nil {
		return nil, err
	}
	target := -1
	for i := range steps {
		if steps[i].StepID == stepID {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: step %q", ErrNotFound, stepID)
	}
	if target != sess.CurrentStep {
		// Re-sending a commit that already advanced the session is a
		// no-op; anything else is out of order.
		if target < sess.CurrentStep && steps[target].SelectedVariantID != nil {
			if *steps[target].SelectedVariantID == variantID {
				return m.replaySelection(ctx, sess, steps, target)
			}
			return nil, fmt.Errorf("%w: variant %q is already selected", ErrConflict, *steps[target].SelectedVariantID)
		}
		return nil, fmt.Errorf("%w: step %q is not the current step", ErrConflict, stepID)
	}
	cur := steps[target]

	variants, err := m.store.Variants(ctx, cur.PK)
	if err != nil {
		return nil, err
	}
	var chosen *store.Variant
	for i := range variants {
		if variants[i].ID == variantID {
			chosen = &variants[i]
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: variant %q does not belong to step %q", ErrNotFound, variantID, stepID)
	}
	if cur.SelectedVariantID != nil && *cur.SelectedVariantID != variantID {
		return nil, fmt.Errorf("%w: variant %q is already selected", ErrConflict, *cur.SelectedVariantID)
	}

	finalStep := target == sess.TotalSteps-1
	if err := m.store.CommitSelection(ctx, gameID, cur.PK, variantID, target, finalStep); err != nil {
		if errors.Is(err, store.ErrAlreadySelected) {
			return nil, fmt.Errorf("%w: a different variant is already selected", ErrConflict)
		}
		return nil, err
	}

	result := &SelectResult{SelectedVariant: variantView(*chosen)}
	if finalStep {
		result.CompletionPending = true
		m.log.Info("final step selected, session awaiting completion", "gameId", gameID)
		return result, nil
	}

	// The selection above is committed; only now may the next step's
	// variants be generated.
	nextIndex := target + 1
	nextStage, _ := m.pipe.Stage(nextIndex)
	prior, err := m.choices(ctx, steps[:nextIndex])
	if err != nil {
		return nil, err
	}
	nextVariants, degraded, err := m.generateVariants(ctx, sess, nextStage, steps[nextIndex].PK, prior)
	if err != nil {
		// Canceled by pause or abandon. The committed selection stays put
		// and re-sending it after resume picks up from here.
		return nil, err
	}
	if err := m.store.AdvanceStep(ctx, gameID, nextIndex, nextVariants, degraded); err != nil {
		// The selection is already committed, so the session is resumable
		// through retryStep rather than lost.
		if ferr := m.store.SetFailed(ctx, gameID, err.Error()); ferr != nil {
			m.log.Error("mark session failed", "gameId", gameID, "error", ferr)
		}
		return nil, err
	}

	result.NextStep = stepView(steps[nextIndex], nextVariants)
	m.log.Info("step advanced",
		"gameId", gameID, "step", nextStage.ID, "variants", len(nextVariants), "degraded", degraded)
	return result, nil
}

// CompleteGeneration assembles the final artifact from the recorded
// selections. Idempotent: a completed session returns the cached artifact
// without regenerating.
func (m *Manager) CompleteGeneration(ctx context.Context, gameID string) (*pipeline.Artifact, error) {
	release, err := m.locks.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.StatusCompleted {
		if cached, ok := m.cache.Get(gameID); ok {
			return cached, nil
		}
		var art pipeline.Artifact
		if err := json.Unmarshal(sess.FinalArtifact, &art); err != nil {
			return nil, fmt.Errorf("%w: stored artifact corrupt: %v", store.ErrPersistence, err)
		}
		m.cache.Add(gameID, &art)
		return &art, nil
	}
	if sess.Status == store.StatusAbandoned || sess.Status == store.StatusFailed {
		return nil, fmt.Errorf("%w: session is %s", ErrConflict, sess.Status)
	}

	steps, err := m.store.Steps(ctx, sess.PK)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		if st.SelectedVariantID == nil {
			return nil, fmt.Errorf("%w: step %q has no recorded selection", ErrConflict, st.StepID)
		}
	}

	choices, err := m.choices(ctx, steps)
	if err != nil {
		return nil, err
	}
	degraded := sess.Metadata["degraded_quality"] == "true"
	art, content, err := pipeline.Assemble(gameID, sess.Title, choices, degraded)
	if err != nil {
		return nil, err
	}

	if err := m.artifacts.Put(ctx, gameID, bundlePath, content); err != nil {
		return nil, fmt.Errorf("%w: store bundle: %v", store.ErrPersistence, err)
	}
	if url, err := m.artifacts.DownloadURL(ctx, gameID, bundlePath); err == nil {
		art.DownloadURL = url
	}

	encoded, err := json.Marshal(art)
	if err != nil {
		return nil, fmt.Errorf("%w: encode artifact: %v", store.ErrPersistence, err)
	}
	if err := m.store.CompleteSession(ctx, gameID, encoded); err != nil {
		return nil, err
	}

	m.cache.Add(gameID, &art)
	m.log.Info("session completed", "gameId", gameID, "choices", len(art.Choices))
	return &art, nil
}

// RetryStep recovers a failed session and returns it to pending_selection.
// When the failure hit after the current step's selection committed, retry
// resumes the interrupted advance; otherwise it regenerates the current
// step's variants. Recorded history is preserved either way.
func (m *Manager) RetryStep(ctx context.Context, gameID string) (*View, error) {
	release, err := m.locks.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.StatusFailed {
		return nil, fmt.Errorf("%w: session is %s, not failed", ErrConflict, sess.Status)
	}

	steps, err := m.store.Steps(ctx, sess.PK)
	if err != nil {
		return nil, err
	}
	cur := steps[sess.CurrentStep]

	switch {
	case cur.SelectedVariantID != nil && sess.CurrentStep < sess.TotalSteps-1:
		// The choice is already locked in; regenerating it would only add
		// variants that can never be selected. Finish the advance instead.
		next := sess.CurrentStep + 1
		stage, _ := m.pipe.Stage(next)
		prior, err := m.choices(ctx, steps[:next])
		if err != nil {
			return nil, err
		}
		variants, degraded, err := m.generateVariants(ctx, sess, stage, steps[next].PK, prior)
		if err != nil {
			return nil, err
		}
		if err := m.store.AdvanceStep(ctx, gameID, next, variants, degraded); err != nil {
			return nil, err
		}
	case cur.SelectedVariantID == nil:
		stage, _ := m.pipe.Stage(sess.CurrentStep)
		prior, err := m.choices(ctx, steps[:sess.CurrentStep])
		if err != nil {
			return nil, err
		}
		variants, degraded, err := m.generateVariants(ctx, sess, stage, cur.PK, prior)
		if err != nil {
			return nil, err
		}
		if err := m.store.InsertVariants(ctx, variants); err != nil {
			return nil, err
		}
		if degraded {
			if err := m.store.AdvanceStep(ctx, gameID, sess.CurrentStep, nil, true); err != nil {
				return nil, err
			}
		}
	}

	if err := m.store.ClearFailure(ctx, gameID); err != nil {
		return nil, err
	}
	return m.State(ctx, gameID)
}

// Abandon archives a session and cancels any in-flight generation for it.
// The current step stays in its prior committed state.
func (m *Manager) Abandon(ctx context.Context, gameID string) error {
	m.cancelInflight(gameID)

	release, err := m.locks.acquire(ctx, gameID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return err
	}
	if sess.Status == store.StatusCompleted {
		return fmt.Errorf("%w: session already completed", ErrConflict)
	}
	return m.store.AbandonSession(ctx, gameID)
}

// Pause suspends a session; mutations are rejected until Resume.
func (m *Manager) Pause(ctx context.Context, gameID string) error {
	m.cancelInflight(gameID)
	return m.setPaused(ctx, gameID, true)
}

// Resume lifts a pause.
func (m *Manager) Resume(ctx context.Context, gameID string) error {
	return m.setPaused(ctx, gameID, false)
}

func (m *Manager) setPaused(ctx context.Context, gameID string, paused bool) error {
	release, err := m.locks.acquire(ctx, gameID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return err
	}
	if sess.Status == store.StatusCompleted || sess.Status == store.StatusAbandoned {
		return fmt.Errorf("%w: session is %s", ErrConflict, sess.Status)
	}
	return m.store.SetPaused(ctx, gameID, paused)
}

// replaySelection rebuilds the response for a selection that was already
// committed and advanced past.
func (m *Manager) replaySelection(ctx context.Context, sess *store.Session, steps []store.Step, target int) (*SelectResult, error) {
	variants, err := m.store.Variants(ctx, steps[target].PK)
	if err != nil {
		return nil, err
	}
	result := &SelectResult{}
	for _, v := range variants {
		if v.ID == *steps[target].SelectedVariantID {
			result.SelectedVariant = variantView(v)
			break
		}
	}
	if target == sess.TotalSteps-1 {
		result.CompletionPending = true
		return result, nil
	}
	nextVariants, err := m.store.Variants(ctx, steps[target+1].PK)
	if err != nil {
		return nil, err
	}
	result.NextStep = stepView(steps[target+1], nextVariants)
	return result, nil
}

// choices builds the ordered choice list from steps that have a recorded
// selection.
func (m *Manager) choices(ctx context.Context, steps []store.Step) ([]pipeline.Choice, error) {
	out := make([]pipeline.Choice, 0, len(steps))
	for _, st := range steps {
		if st.SelectedVariantID == nil {
			continue
		}
		variants, err := m.store.Variants(ctx, st.PK)
		if err != nil {
			return nil, err
		}
		for _, v := range variants {
			if v.ID != *st.SelectedVariantID {
				continue
			}
			var details map[string]any
			_ = json.Unmarshal(v.Details, &details)
			out = append(out, pipeline.Choice{
				StepID:    st.StepID,
				StepType:  st.Type,
				VariantID: v.ID,
				Title:     v.Title,
				Details:   details,
			})
			break
		}
	}
	return out, nil
}

// generateVariants asks the router for the stage's variants. When every
// provider is exhausted it synthesizes a deterministic fallback instead of
// blocking the user, and reports degraded=true. A canceled context is the
// one case that returns an error: pause and abandon cancel in-flight calls,
// and the step must stay in its prior committed state rather than advance
// on a synthetic variant.
func (m *Manager) generateVariants(ctx context.Context, sess *store.Session, stage pipeline.Stage, stepPK int64, prior []pipeline.Choice) ([]store.Variant, bool, error) {
	genCtx, cancel := context.WithCancel(ctx)
	m.trackInflight(sess.GameID, cancel)
	defer m.untrackInflight(sess.GameID, cancel)

	var drafts []draftResult
	if stage.Capability == provider.CapabilityImage {
		drafts = m.generateImageVariants(genCtx, sess, stage, prior)
	} else {
		drafts = m.generateTextVariants(genCtx, sess, stage, prior)
	}

	if err := genCtx.Err(); err != nil {
		return nil, false, err
	}
	degraded := false
	if len(drafts) == 0 {
		m.log.Warn("all providers exhausted, synthesizing fallback variant",
			"gameId", sess.GameID, "stage", stage.ID)
		drafts = []draftResult{{draft: pipeline.FallbackVariant(stage, sess.Title)}}
		degraded = true
	}

	now := time.Now().UTC()
	variants := make([]store.Variant, 0, len(drafts))
	for _, d := range drafts {
		details, err := json.Marshal(d.draft.Details)
		if err != nil || details == nil {
			details = []byte("{}")
		}
		v := store.Variant{
			ID:          uuid.NewString(),
			StepPK:      stepPK,
			Title:       d.draft.Title,
			Description: d.draft.Description,
			Details:     details,
			AIGenerated: d.draft.AIGenerated,
			GeneratedAt: now,
		}
		if d.result != nil {
			v.Provider = d.result.Provider
			v.Model = d.result.Model
			v.LatencyMs = d.result.Latency.Milliseconds()
			v.TokensOut = d.result.TokensOut
		}
		variants = append(variants, v)
	}
	return variants, degraded, nil
}

type draftResult struct {
	draft  pipeline.VariantDraft
	result *provider.Result
}

func (m *Manager) generateTextVariants(ctx context.Context, sess *store.Session, stage pipeline.Stage, prior []pipeline.Choice) []draftResult {
	req := provider.Request{
		Prompt:      stage.Prompt(sess.Title, sess.Description, sess.Genre, stage.VariantCount, prior),
		System:      stage.SystemPrompt(),
		MaxTokens:   4096,
		Temperature: 0.8,
		WantJSON:    true,
	}
	result, err := m.generator.Generate(ctx, provider.CapabilityText, req, stage.Preferred)
	if err != nil {
		return nil
	}
	drafts, err := pipeline.ParseVariants(result.Text, stage.VariantCount)
	if err != nil {
		m.log.Warn("variant payload unparseable", "stage", stage.ID, "error", err)
		return nil
	}
	out := make([]draftResult, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftResult{draft: d, result: result})
	}
	return out
}

func (m *Manager) generateImageVariants(ctx context.Context, sess *store.Session, stage pipeline.Stage, prior []pipeline.Choice) []draftResult {
	prompt := stage.Prompt(sess.Title, sess.Description, sess.Genre, stage.VariantCount, prior)

	results := make([]*provider.Result, stage.VariantCount)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < stage.VariantCount; i++ {
		g.Go(func() error {
			res, err := m.generator.Generate(gctx, provider.CapabilityImage, provider.Request{Prompt: prompt}, stage.Preferred)
			if err != nil {
				// Partial failure is fine; the survivors become variants.
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var out []draftResult
	for i, res := range results {
		if res == nil || res.ImageRef == "" {
			continue
		}
		out = append(out, draftResult{
			draft:  pipeline.ImageVariant(stage, i, res.ImageRef, res.Model),
			result: res,
		})
	}
	return out
}

func (m *Manager) trackInflight(gameID string, cancel context.CancelFunc) {
	m.inflightMu.Lock()
	m.inflight[gameID] = cancel
	m.inflightMu.Unlock()
}

func (m *Manager) untrackInflight(gameID string, cancel context.CancelFunc) {
	m.inflightMu.Lock()
	if m.inflight[gameID] != nil {
		delete(m.inflight, gameID)
	}
	m.inflightMu.Unlock()
	cancel()
}

func (m *Manager) cancelInflight(gameID string) {
	m.inflightMu.Lock()
	cancel := m.inflight[gameID]
	m.inflightMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
