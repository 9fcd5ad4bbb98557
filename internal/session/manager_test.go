package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gameforge/internal/artifact"
	"gameforge/internal/provider"
	"gameforge/internal/router"
	"gameforge/internal/store"
)

// fakeGenerator stands in for the router. Text requests return a canned
// three-variant payload, image requests a fake image reference.
type fakeGenerator struct {
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, capability provider.Capability, req provider.Request, preferred string) (*provider.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if capability == provider.CapabilityImage {
		return &provider.Result{
			ImageRef: fmt.Sprintf("https://img.example/%d.png", f.calls),
			Provider: "openai-image",
			Model:    "dall-e-3",
			Latency:  10 * time.Millisecond,
		}, nil
	}
	return &provider.Result{
		Text: `{"variants":[
			{"title":"Option A","description":"first","details":{"k":"a"}},
			{"title":"Option B","description":"second","details":{"k":"b"}},
			{"title":"Option C","description":"third","details":{"k":"c"}}
		]}`,
		Provider:  "deepseek",
		Model:     "deepseek-chat",
		TokensOut: 300,
		Latency:   20 * time.Millisecond,
	}, nil
}

func newTestManager(t *testing.T, gen Generator) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m, err := NewManager(st, gen, nil, artifact.NewMemoryStore(), nil)
	require.NoError(t, err)
	return m, st
}

func startSession(t *testing.T, m *Manager) *View {
	t.Helper()
	view, err := m.Start(context.Background(), StartInput{
		Title:       "Dungeon Run",
		Description: "A fast roguelike crawler",
		Genre:       "roguelike",
		UserID:      "u1",
	})
	require.NoError(t, err)
	return view
}

func TestStartValidatesInput(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	_, err := m.Start(context.Background(), StartInput{Title: "  ", Description: ""})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartCreatesSessionWithFirstStepVariants(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)

	require.NotEmpty(t, view.GameID)
	require.Equal(t, store.StatusPendingSelection, view.Status)
	require.Equal(t, 5, view.TotalSteps)
	require.Equal(t, 0, view.CurrentStep)
	require.NotNil(t, view.Step)
	require.Equal(t, "game_design", view.Step.StepID)
	require.Len(t, view.Step.Variants, 3)
	require.True(t, view.Step.Variants[0].AIGenerated)
}

func TestFullInteractiveWalkthrough(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	gameID := view.GameID
	step := view.Step
	for i := 0; i < 4; i++ {
		result, err := m.SelectVariant(ctx, gameID, step.StepID, step.Variants[0].ID)
		require.NoError(t, err, "step %d", i)
		require.False(t, result.CompletionPending)
		require.NotNil(t, result.NextStep)
		require.NotEmpty(t, result.NextStep.Variants)
		step = result.NextStep
	}

	// Final step.
	result, err := m.SelectVariant(ctx, gameID, step.StepID, step.Variants[0].ID)
	require.NoError(t, err)
	require.True(t, result.CompletionPending)
	require.Nil(t, result.NextStep)

	art, err := m.CompleteGeneration(ctx, gameID)
	require.NoError(t, err)
	require.Equal(t, gameID, art.GameID)
	require.Len(t, art.Choices, 5)
	require.NotEmpty(t, art.Assets, "asset step choice should surface its image")
	require.False(t, art.Degraded)
	require.Equal(t, fmt.Sprintf("games/%s/game.json", gameID), art.GamePath)

	state, err := m.State(ctx, gameID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, state.Status)
}

func TestCompleteGenerationIsIdempotent(t *testing.T) {
	gen := &fakeGenerator{}
	m, st := newTestManager(t, gen)
	view := startSession(t, m)
	ctx := context.Background()

	step := view.Step
	for {
		result, err := m.SelectVariant(ctx, view.GameID, step.StepID, step.Variants[0].ID)
		require.NoError(t, err)
		if result.CompletionPending {
			break
		}
		step = result.NextStep
	}

	first, err := m.CompleteGeneration(ctx, view.GameID)
	require.NoError(t, err)
	callsAfterFirst := gen.calls

	second, err := m.CompleteGeneration(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, first.GameID, second.GameID)
	require.Equal(t, first.GamePath, second.GamePath)
	require.Equal(t, gen.calls, callsAfterFirst, "repeat completion must not regenerate")

	// A fresh manager over the same store recovers the stored artifact.
	m2, err := NewManager(st, gen, nil, artifact.NewMemoryStore(), nil)
	require.NoError(t, err)
	third, err := m2.CompleteGeneration(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, first.GamePath, third.GamePath)
}

func TestCompleteRejectsUnfinishedSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)

	_, err := m.CompleteGeneration(context.Background(), view.GameID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestSelectVariantIdempotentAndConflicting(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	step := view.Step
	chosen := step.Variants[0].ID
	other := step.Variants[1].ID

	first, err := m.SelectVariant(ctx, view.GameID, step.StepID, chosen)
	require.NoError(t, err)

	// Repeating the same selection is a no-op that replays the response.
	replay, err := m.SelectVariant(ctx, view.GameID, step.StepID, chosen)
	require.NoError(t, err)
	require.Equal(t, chosen, replay.SelectedVariant.ID)
	require.NotNil(t, replay.NextStep)
	require.Equal(t, first.NextStep.StepID, replay.NextStep.StepID)

	// A different variant after commit conflicts and mutates nothing.
	_, err = m.SelectVariant(ctx, view.GameID, step.StepID, other)
	require.ErrorIs(t, err, ErrConflict)

	state, err := m.State(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentStep)
}

func TestSelectVariantValidation(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	_, err := m.SelectVariant(ctx, view.GameID, "no_such_step", view.Step.Variants[0].ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.SelectVariant(ctx, view.GameID, "code_generation", view.Step.Variants[0].ID)
	require.ErrorIs(t, err, ErrConflict, "future step is not selectable")

	_, err = m.SelectVariant(ctx, view.GameID, view.Step.StepID, "bogus-variant")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.SelectVariant(ctx, "missing-game", view.Step.StepID, view.Step.Variants[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackVariantOnExhaustion(t *testing.T) {
	boom := fmt.Errorf("%w: all down", router.ErrAllProvidersExhausted)
	m, _ := newTestManager(t, &fakeGenerator{err: boom})
	view := startSession(t, m)

	require.NotNil(t, view.Step)
	require.Len(t, view.Step.Variants, 1)
	require.False(t, view.Step.Variants[0].AIGenerated)
	require.Equal(t, "true", view.Metadata["degraded_quality"])
}

func TestDegradedFlagSticksThroughCompletion(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("down")}
	m, _ := newTestManager(t, gen)
	view := startSession(t, m)
	ctx := context.Background()

	// Providers recover after the first step.
	gen.err = nil

	step := view.Step
	for {
		result, err := m.SelectVariant(ctx, view.GameID, step.StepID, step.Variants[0].ID)
		require.NoError(t, err)
		if result.CompletionPending {
			break
		}
		step = result.NextStep
	}

	art, err := m.CompleteGeneration(ctx, view.GameID)
	require.NoError(t, err)
	require.True(t, art.Degraded)
}

func TestPauseBlocksSelection(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	require.NoError(t, m.Pause(ctx, view.GameID))
	_, err := m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[0].ID)
	require.ErrorIs(t, err, ErrPaused)

	require.NoError(t, m.Resume(ctx, view.GameID))
	_, err = m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[0].ID)
	require.NoError(t, err)
}

func TestAbandon(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	require.NoError(t, m.Abandon(ctx, view.GameID))

	state, err := m.State(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, store.StatusAbandoned, state.Status)

	_, err = m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[0].ID)
	require.ErrorIs(t, err, ErrConflict)
	_, err = m.CompleteGeneration(ctx, view.GameID)
	require.ErrorIs(t, err, ErrConflict)
}

// blockingGenerator behaves like fakeGenerator until call blockAt, which
// parks until its context is canceled.
type blockingGenerator struct {
	inner   fakeGenerator
	calls   int
	blockAt int
	entered chan struct{}
}

func (b *blockingGenerator) Generate(ctx context.Context, capability provider.Capability, req provider.Request, preferred string) (*provider.Result, error) {
	b.calls++
	if b.calls == b.blockAt {
		b.entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.inner.Generate(ctx, capability, req, preferred)
}

func TestPauseCancelsInFlightGeneration(t *testing.T) {
	gen := &blockingGenerator{blockAt: 2, entered: make(chan struct{}, 1)}
	m, _ := newTestManager(t, gen)
	view := startSession(t, m)
	ctx := context.Background()

	selectErr := make(chan error, 1)
	go func() {
		_, err := m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[0].ID)
		selectErr <- err
	}()

	<-gen.entered
	require.NoError(t, m.Pause(ctx, view.GameID))
	require.ErrorIs(t, <-selectErr, context.Canceled)

	// The step stays in its prior committed state: no cursor movement, no
	// synthetic variant, no degraded flag.
	state, err := m.State(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, 0, state.CurrentStep)
	require.Len(t, state.Step.Variants, 3)
	require.Empty(t, state.Metadata["degraded_quality"])

	// Re-sending the committed selection after resume finishes the advance.
	require.NoError(t, m.Resume(ctx, view.GameID))
	result, err := m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[0].ID)
	require.NoError(t, err)
	require.NotNil(t, result.NextStep)
	require.NotEmpty(t, result.NextStep.Variants)
}

func TestConcurrentSelectionsSingleWinner(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.SelectVariant(ctx, view.GameID, view.Step.StepID, view.Step.Variants[i].ID)
		}(i)
	}
	wg.Wait()

	accepted, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted, "exactly one selection may commit")
	require.Equal(t, 1, conflicted, "the loser must observe the conflict")

	state, err := m.State(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentStep)
}

func TestRetryStepResumesCommittedSelection(t *testing.T) {
	m, st := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	// A crash between the selection commit and the advance leaves the
	// session failed with the current step already decided.
	sess, err := st.GetSession(ctx, view.GameID)
	require.NoError(t, err)
	steps, err := st.Steps(ctx, sess.PK)
	require.NoError(t, err)
	chosen := view.Step.Variants[0].ID
	require.NoError(t, st.CommitSelection(ctx, view.GameID, steps[0].PK, chosen, 0, false))
	require.NoError(t, st.SetFailed(ctx, view.GameID, "advance interrupted"))

	recovered, err := m.RetryStep(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, store.StatusPendingSelection, recovered.Status)
	require.Equal(t, 1, recovered.CurrentStep, "retry must finish the advance, not redo the decided step")
	require.Equal(t, "code_generation", recovered.Step.StepID)
	require.NotEmpty(t, recovered.Step.Variants)

	// The decided step keeps exactly its original variants.
	variants, err := st.Variants(ctx, steps[0].PK)
	require.NoError(t, err)
	require.Len(t, variants, 3)
}

func TestRetryStepRequiresFailedSession(t *testing.T) {
	m, st := newTestManager(t, &fakeGenerator{})
	view := startSession(t, m)
	ctx := context.Background()

	_, err := m.RetryStep(ctx, view.GameID)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, st.SetFailed(ctx, view.GameID, "boom"))
	recovered, err := m.RetryStep(ctx, view.GameID)
	require.NoError(t, err)
	require.Equal(t, store.StatusPendingSelection, recovered.Status)
	require.NotEmpty(t, recovered.Step.Variants)
}
