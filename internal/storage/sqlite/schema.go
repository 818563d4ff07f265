package sqlite

// Schema contains the SQL statements that create the Engram schema.
// The FTS5 virtual table is kept in sync with entries via triggers so the
// keyword index never drifts from the source of truth.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	category         TEXT NOT NULL CHECK (category IN
		('fact','preference','event','insight','relationship','commitment')),
	content          TEXT NOT NULL,
	importance       REAL NOT NULL DEFAULT 0.5,
	embedding_status TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	deleted_at       TIMESTAMP,
	superseded_by    TEXT REFERENCES entries(id),
	archived         INTEGER NOT NULL DEFAULT 0,
	claimed_at       TIMESTAMP,
	content_hash     TEXT NOT NULL,
	source           TEXT,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMP,
	version          INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_entries_category   ON entries(category);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_hash       ON entries(content_hash);
CREATE INDEX IF NOT EXISTS idx_entries_embedding  ON entries(embedding_status)
	WHERE embedding_status = 'pending';
CREATE INDEX IF NOT EXISTS idx_entries_cold       ON entries(archived, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
	content,
	content='entries',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS entries_fts_insert AFTER INSERT ON entries BEGIN
	INSERT INTO entries_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS entries_fts_delete AFTER DELETE ON entries BEGIN
	INSERT INTO entries_fts(entries_fts, rowid, content)
		VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS entries_fts_update AFTER UPDATE OF content ON entries BEGIN
	INSERT INTO entries_fts(entries_fts, rowid, content)
		VALUES ('delete', old.rowid, old.content);
	INSERT INTO entries_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS embeddings (
	entry_id   TEXT PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS commitments (
	id             TEXT PRIMARY KEY,
	content        TEXT NOT NULL,
	target         TEXT,
	due_at         TIMESTAMP,
	status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN
		('active','completed','cancelled')),
	reminder_count INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP,
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
	created_at   TIMESTAMP NOT NULL,
	expires_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session, channel, created_at);

CREATE TABLE IF NOT EXISTS insights (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	source_ids TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);

CREATE TABLE IF NOT EXISTS access_log (
	id         TEXT PRIMARY KEY,
	entry_id   TEXT,
	op         TEXT NOT NULL,
	latency_us INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`
