package postgres

// Schema contains the SQL statements that create the Engram schema on
// PostgreSQL. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	category         TEXT NOT NULL CHECK (category IN
		('fact','preference','event','insight','relationship','commitment')),
	content          TEXT NOT NULL,
	importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	embedding_status TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ,
	superseded_by    TEXT REFERENCES entries(id),
	archived         BOOLEAN NOT NULL DEFAULT FALSE,
	claimed_at       TIMESTAMPTZ,
	content_hash     TEXT NOT NULL,
	source           TEXT,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	version          INTEGER NOT NULL DEFAULT 1,
	content_tsv      TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_entries_category   ON entries(category);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_hash       ON entries(content_hash);
CREATE INDEX IF NOT EXISTS idx_entries_tsv        ON entries USING GIN(content_tsv);
CREATE INDEX IF NOT EXISTS idx_entries_pending    ON entries(embedding_status)
	WHERE embedding_status = 'pending';

CREATE TABLE IF NOT EXISTS embeddings (
	entry_id   TEXT PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
	embedding  REAL[] NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS commitments (
	id             TEXT PRIMARY KEY,
	content        TEXT NOT NULL,
	target         TEXT,
	due_at         TIMESTAMPTZ,
	status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN
		('active','completed','cancelled')),
	reminder_count INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	CHECK ((status = 'completed') = (completed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_commitments_status_due ON commitments(status, due_at);

CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL CHECK (trigger_kind IN ('switch','timeout','manual')),
	resource     TEXT,
	last_action  TEXT,
	next_step    TEXT,
	session      TEXT NOT NULL,
	channel      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session, channel, created_at);

CREATE TABLE IF NOT EXISTS insights (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	source_ids JSONB NOT NULL,
	summary    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);

CREATE TABLE IF NOT EXISTS access_log (
	id         TEXT PRIMARY KEY,
	entry_id   TEXT,
	op         TEXT NOT NULL,
	latency_us BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// MigrationPgvector adds the native vector column used for indexed ANN
// search when the extension is present. The float4[] column stays as the
// source of truth so the backend keeps working if the extension is later
// removed.
const MigrationPgvector = `
ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector(1536);
CREATE INDEX IF NOT EXISTS idx_embeddings_vec ON embeddings
	USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100);
`
