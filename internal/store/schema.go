package store

// The two dialects share column names and types except for the primary key
// autoincrement spelling, so scan code is identical for both backends.

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS sessions (
  id BIGSERIAL PRIMARY KEY,
  game_id TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  genre TEXT NOT NULL DEFAULT '',
  config TEXT NOT NULL DEFAULT '{}',
  metadata TEXT NOT NULL DEFAULT '{}',
  current_step INTEGER NOT NULL DEFAULT 0,
  total_steps INTEGER NOT NULL,
  completed_steps TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL DEFAULT 'pending_selection',
  is_active INTEGER NOT NULL DEFAULT 1,
  is_paused INTEGER NOT NULL DEFAULT 0,
  final_artifact TEXT,
  error TEXT,
  started_at TIMESTAMPTZ NOT NULL,
  last_activity_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS steps (
  id BIGSERIAL PRIMARY KEY,
  session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  step_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  ord INTEGER NOT NULL,
  selected_variant_id TEXT,
  UNIQUE (session_id, step_id)
);

CREATE TABLE IF NOT EXISTS variants (
  id TEXT PRIMARY KEY,
  step_id BIGINT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '{}',
  ai_generated INTEGER NOT NULL DEFAULT 1,
  provider TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  latency_ms BIGINT NOT NULL DEFAULT 0,
  tokens_out INTEGER NOT NULL DEFAULT 0,
  generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_session_id ON steps (session_id);
CREATE INDEX IF NOT EXISTS idx_variants_step_id ON variants (step_id);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  game_id TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  genre TEXT NOT NULL DEFAULT '',
  config TEXT NOT NULL DEFAULT '{}',
  metadata TEXT NOT NULL DEFAULT '{}',
  current_step INTEGER NOT NULL DEFAULT 0,
  total_steps INTEGER NOT NULL,
  completed_steps TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL DEFAULT 'pending_selection',
  is_active INTEGER NOT NULL DEFAULT 1,
  is_paused INTEGER NOT NULL DEFAULT 0,
  final_artifact TEXT,
  error TEXT,
  started_at DATETIME NOT NULL,
  last_activity_at DATETIME NOT NULL,
  completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS steps (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  step_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  ord INTEGER NOT NULL,
  selected_variant_id TEXT,
  UNIQUE (session_id, step_id)
);

CREATE TABLE IF NOT EXISTS variants (
  id TEXT PRIMARY KEY,
  step_id INTEGER NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '{}',
  ai_generated INTEGER NOT NULL DEFAULT 1,
  provider TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  latency_ms INTEGER NOT NULL DEFAULT 0,
  tokens_out INTEGER NOT NULL DEFAULT 0,
  generated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_session_id ON steps (session_id);
CREATE INDEX IF NOT EXISTS idx_variants_step_id ON variants (step_id);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
`
