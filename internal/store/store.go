package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"gameforge/internal/pipeline"
)

var (
	// ErrNotFound is returned for unknown sessions, steps, and variants.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps storage failures. The current operation is
	// fatal and session state is left unchanged; callers retry the whole
	// operation.
	ErrPersistence = errors.New("persistence failure")
	// ErrAlreadySelected is returned when a different variant is already
	// committed for the step.
	ErrAlreadySelected = errors.New("a different variant is already selected")
)

// Store persists sessions, steps, and variants. It speaks Postgres (pgx
// stdlib driver) when given a postgres DSN and embedded SQLite otherwise,
// with a shared scan path.
type Store struct {
	db *sql.DB
	pg bool
}

// Open connects to the backing database and ensures the schema exists.
// dsn is either a postgres:// URL or a SQLite file path.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	pg := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	driver, schema := "sqlite", schemaSQLite
	if pg {
		driver, schema = "pgx", schemaPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistence, driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrPersistence, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ensure schema: %v", ErrPersistence, err)
	}
	if !pg {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: enable foreign keys: %v", ErrPersistence, err)
		}
	}
	return &Store{db: db, pg: pg}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind converts ?-style placeholders to the $n style Postgres expects.
func (s *Store) rebind(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate appends a row lock clause on Postgres. SQLite serializes
// writers, so the clause is unnecessary (and unsupported) there.
func (s *Store) forUpdate(query string) string {
	if s.pg {
		return query + " FOR UPDATE"
	}
	return query
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// CreateSession inserts a session and its fixed step sequence in one
// transaction, filling in the generated primary keys.
func (s *Store) CreateSession(ctx context.Context, sess *Session, steps []Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.rebind(`
INSERT INTO sessions (
  game_id, user_id, title, description, genre, config, metadata,
  current_step, total_steps, completed_steps, status, is_active, is_paused,
  started_at, last_activity_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
RETURNING id`),
		sess.GameID, sess.UserID, sess.Title, sess.Description, sess.Genre,
		encodeJSON(sess.Config), encodeJSON(sess.Metadata),
		sess.CurrentStep, sess.TotalSteps, encodeJSON(sess.CompletedSteps),
		string(sess.Status), b2i(sess.IsActive), b2i(sess.IsPaused),
		sess.StartedAt, sess.LastActivityAt)
	if err := row.Scan(&sess.PK); err != nil {
		return fmt.Errorf("%w: insert session: %v", ErrPersistence, err)
	}

	for i := range steps {
		steps[i].SessionPK = sess.PK
		row := tx.QueryRowContext(ctx, s.rebind(`
INSERT INTO steps (session_id, step_id, name, description, type, ord)
VALUES (?,?,?,?,?,?)
RETURNING id`),
			steps[i].SessionPK, steps[i].StepID, steps[i].Name,
			steps[i].Description, string(steps[i].Type), steps[i].Order)
		if err := row.Scan(&steps[i].PK); err != nil {
			return fmt.Errorf("%w: insert step %s: %v", ErrPersistence, steps[i].StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

const sessionColumns = `id, game_id, user_id, title, description, genre, config, metadata,
current_step, total_steps, completed_steps, status, is_active, is_paused,
final_artifact, error, started_at, last_activity_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		config    string
		metadata  string
		completed string
		status    string
		isActive  int
		isPaused  int
		artifact  sql.NullString
		errMsg    sql.NullString
		doneAt    sql.NullTime
	)
	err := row.Scan(
		&sess.PK, &sess.GameID, &sess.UserID, &sess.Title, &sess.Description,
		&sess.Genre, &config, &metadata, &sess.CurrentStep, &sess.TotalSteps,
		&completed, &status, &isActive, &isPaused, &artifact, &errMsg,
		&sess.StartedAt, &sess.LastActivityAt, &doneAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan session: %v", ErrPersistence, err)
	}

	_ = json.Unmarshal([]byte(config), &sess.Config)
	_ = json.Unmarshal([]byte(metadata), &sess.Metadata)
	_ = json.Unmarshal([]byte(completed), &sess.CompletedSteps)
	sess.Status = SessionStatus(status)
	sess.IsActive = isActive != 0
	sess.IsPaused = isPaused != 0
	if artifact.Valid {
		sess.FinalArtifact = []byte(artifact.String)
	}
	if errMsg.Valid {
		msg := errMsg.String
		sess.Error = &msg
	}
	if doneAt.Valid {
		t := doneAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

// GetSession loads a session by its external game id.
func (s *Store) GetSession(ctx context.Context, gameID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE game_id = ?`), gameID)
	return scanSession(row)
}

// Steps returns a session's steps in pipeline order.
func (s *Store) Steps(ctx context.Context, sessionPK int64) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, session_id, step_id, name, description, type, ord, selected_variant_id
FROM steps WHERE session_id = ? ORDER BY ord`), sessionPK)
	if err != nil {
		return nil, fmt.Errorf("%w: query steps: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			st       Step
			stepType string
			selected sql.NullString
		)
		if err := rows.Scan(&st.PK, &st.SessionPK, &st.StepID, &st.Name,
			&st.Description, &stepType, &st.Order, &selected); err != nil {
			return nil, fmt.Errorf("%w: scan step: %v", ErrPersistence, err)
		}
		st.Type = pipeline.StepType(stepType)
		if selected.Valid {
			v := selected.String
			st.SelectedVariantID = &v
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate steps: %v", ErrPersistence, err)
	}
	return out, nil
}

// Variants returns the variants generated for a step.
func (s *Store) Variants(ctx context.Context, stepPK int64) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, step_id, title, description, details, ai_generated, provider, model,
latency_ms, tokens_out, generated_at
FROM variants WHERE step_id = ? ORDER BY generated_at, id`), stepPK)
	if err != nil {
		return nil, fmt.Errorf("%w: query variants: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var (
			v       Variant
			details string
			aiGen   int
		)
		if err := rows.Scan(&v.ID, &v.StepPK, &v.Title, &v.Description,
			&details, &aiGen, &v.Provider, &v.Model, &v.LatencyMs,
			&v.TokensOut, &v.GeneratedAt); err != nil {
			return nil, fmt.Errorf("%w: scan variant: %v", ErrPersistence, err)
		}
		v.Details = []byte(details)
		v.AIGenerated = aiGen != 0
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate variants: %v", ErrPersistence, err)
	}
	return out, nil
}

func insertVariantsTx(ctx context.Context, tx *sql.Tx, s *Store, variants []Variant) error {
	for _, v := range variants {
		_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO variants (id, step_id, title, description, details, ai_generated,
provider, model, latency_ms, tokens_out, generated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			v.ID, v.StepPK, v.Title, v.Description, string(v.Details),
			b2i(v.AIGenerated), v.Provider, v.Model, v.LatencyMs, v.TokensOut,
			v.GeneratedAt)
		if err != nil {
			return fmt.Errorf("%w: insert variant %s: %v", ErrPersistence, v.ID, err)
		}
	}
	return nil
}

// InsertVariants persists a batch of variants for a step.
func (s *Store) InsertVariants(ctx context.Context, variants []Variant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertVariantsTx(ctx, tx, s, variants); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

// CommitSelection durably records the user's choice for a step and updates
// the session's completed set in the same transaction. Re-committing the
// same variant is a no-op; committing a different one fails with
// ErrAlreadySelected. finalStep moves the session to awaiting_completion.
func (s *Store) CommitSelection(ctx context.Context, gameID string, stepPK int64, variantID string, completedIndex int, finalStep bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	var selected sql.NullString
	row := tx.QueryRowContext(ctx,
		s.forUpdate(s.rebind(`SELECT selected_variant_id FROM steps WHERE id = ?`)), stepPK)
	if err := row.Scan(&selected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: lock step: %v", ErrPersistence, err)
	}
	if selected.Valid && selected.String != variantID {
		return ErrAlreadySelected
	}

	if !selected.Valid {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE steps SET selected_variant_id = ? WHERE id = ?`), variantID, stepPK); err != nil {
			return fmt.Errorf("%w: record selection: %v", ErrPersistence, err)
		}
	}

	sess, err := lockSession(ctx, tx, s, gameID)
	if err != nil {
		return err
	}
	if !sess.StepCompleted(completedIndex) {
		sess.CompletedSteps = append(sess.CompletedSteps, completedIndex)
	}
	status := sess.Status
	if finalStep {
		status = StatusAwaitingCompletion
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
UPDATE sessions SET completed_steps = ?, status = ?, last_activity_at = ?
WHERE game_id = ?`),
		encodeJSON(sess.CompletedSteps), string(status), time.Now().UTC(), gameID); err != nil {
		return fmt.Errorf("%w: update session: %v", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

// AdvanceStep persists the next step's variants and moves the session
// cursor forward in one transaction, so a crash cannot leave the two out
// of sync. degraded marks the degraded-quality flag in session metadata.
func (s *Store) AdvanceStep(ctx context.Context, gameID string, nextIndex int, variants []Variant, degraded bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertVariantsTx(ctx, tx, s, variants); err != nil {
		return err
	}

	sess, err := lockSession(ctx, tx, s, gameID)
	if err != nil {
		return err
	}
	if degraded {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]string)
		}
		sess.Metadata["degraded_quality"] = "true"
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
UPDATE sessions SET current_step = ?, metadata = ?, last_activity_at = ?
WHERE game_id = ?`),
		nextIndex, encodeJSON(sess.Metadata), time.Now().UTC(), gameID); err != nil {
		return fmt.Errorf("%w: advance session: %v", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func lockSession(ctx context.Context, tx *sql.Tx, s *Store, gameID string) (*Session, error) {
	row := tx.QueryRowContext(ctx,
		s.forUpdate(s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE game_id = ?`)), gameID)
	return scanSession(row)
}

// CompleteSession stores the assembled artifact and archives the session.
func (s *Store) CompleteSession(ctx context.Context, gameID string, artifact []byte) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE sessions
SET status = ?, is_active = 0, final_artifact = ?, completed_at = ?, last_activity_at = ?
WHERE game_id = ?`),
		string(StatusCompleted), string(artifact), now, now, gameID)
	if err != nil {
		return fmt.Errorf("%w: complete session: %v", ErrPersistence, err)
	}
	return requireRow(res)
}

// SetFailed moves a session to the failed state with the given message.
// Recorded selections survive for a later retry.
func (s *Store) SetFailed(ctx context.Context, gameID, message string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE sessions SET status = ?, error = ?, last_activity_at = ?
WHERE game_id = ?`),
		string(StatusFailed), message, time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("%w: set failed: %v", ErrPersistence, err)
	}
	return requireRow(res)
}

// ClearFailure returns a failed session to pending_selection.
func (s *Store) ClearFailure(ctx context.Context, gameID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE sessions SET status = ?, error = NULL, last_activity_at = ?
WHERE game_id = ?`),
		string(StatusPendingSelection), time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("%w: clear failure: %v", ErrPersistence, err)
	}
	return requireRow(res)
}

// SetPaused flips the pause flag.
func (s *Store) SetPaused(ctx context.Context, gameID string, paused bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE sessions SET is_paused = ?, last_activity_at = ? WHERE game_id = ?`),
		b2i(paused), time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("%w: set paused: %v", ErrPersistence, err)
	}
	return requireRow(res)
}

// AbandonSession archives a session without completing it.
func (s *Store) AbandonSession(ctx context.Context, gameID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE sessions SET status = ?, is_active = 0, last_activity_at = ?
WHERE game_id = ?`),
		string(StatusAbandoned), time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("%w: abandon session: %v", ErrPersistence, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
