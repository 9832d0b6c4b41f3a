package postgres

// Schema creates every table this daemon needs on PostgreSQL. Grounded on
// internal/storage/postgres/schema.go's table shape, adapted to this
// domain's column set; JSONB replaces SQLite's plain-TEXT JSON columns, and
// a generated tsvector column + GIN index stands in for the SQLite FTS5
// virtual table (see MigrationFTS). Embeddings always keep the same
// packed-float32 payload the sqlite backend stores (as BYTEA), plus a
// pgvector `vector` column when the extension is available (see
// MigrationPgvector).
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id                  TEXT PRIMARY KEY,
    content             TEXT NOT NULL,
    normalized_content  TEXT NOT NULL DEFAULT '',
    content_hash        TEXT NOT NULL DEFAULT '',
    type                TEXT NOT NULL DEFAULT 'general',
    importance          REAL NOT NULL DEFAULT 0.5,
    confidence          REAL NOT NULL DEFAULT 1.0,
    pinned              BOOLEAN NOT NULL DEFAULT FALSE,

    project             TEXT NOT NULL DEFAULT '',
    session_id          TEXT NOT NULL DEFAULT '',
    who                 TEXT NOT NULL DEFAULT '',
    source_type         TEXT NOT NULL DEFAULT '',
    tags                JSONB,
    runtime_path        TEXT NOT NULL DEFAULT '',

    version             INTEGER NOT NULL DEFAULT 1,

    is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at          TIMESTAMP,

    idempotency_key     TEXT,

    created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_by          TEXT NOT NULL DEFAULT '',

    embedding_model     TEXT NOT NULL DEFAULT '',
    extraction_status   TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_idempotency_key
    ON memories(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_content_hash_dedup
    ON memories(content_hash, project, who) WHERE is_deleted = FALSE;

CREATE TABLE IF NOT EXISTS memory_history (
    id          TEXT PRIMARY KEY,
    memory_id   TEXT NOT NULL,
    event       TEXT NOT NULL,
    old_content TEXT,
    new_content TEXT,
    changed_by  TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    metadata    TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_history_memory_id ON memory_history(memory_id);

CREATE TABLE IF NOT EXISTS memory_jobs (
    id           TEXT PRIMARY KEY,
    memory_id    TEXT NOT NULL DEFAULT '',
    job_type     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    payload      TEXT,
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    leased_at    TIMESTAMP,
    leased_by    TEXT NOT NULL DEFAULT '',
    available_at TIMESTAMP,
    completed_at TIMESTAMP,
    failed_at    TIMESTAMP,
    error        TEXT,
    result       TEXT,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_jobs_lease ON memory_jobs(status, leased_at);

CREATE TABLE IF NOT EXISTS decision_proposals (
    id         TEXT PRIMARY KEY,
    memory_id  TEXT NOT NULL,
    target_id  TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS embeddings (
    source_type TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    vector      BYTEA NOT NULL,
    dimensions  INTEGER NOT NULL,
    model       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_type, source_id)
);

CREATE TABLE IF NOT EXISTS entities (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    mentions       INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(canonical_name)
);

CREATE TABLE IF NOT EXISTS relations (
    id               TEXT PRIMARY KEY,
    source_entity_id TEXT NOT NULL,
    target_entity_id TEXT NOT NULL,
    relation_type    TEXT NOT NULL,
    strength         REAL NOT NULL DEFAULT 1.0,
    mentions         INTEGER NOT NULL DEFAULT 0,
    confidence       REAL NOT NULL DEFAULT 0,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    FOREIGN KEY (target_entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    UNIQUE(source_entity_id, target_entity_id, relation_type)
);

CREATE TABLE IF NOT EXISTS memory_entity_mentions (
    id         TEXT PRIMARY KEY,
    memory_id  TEXT NOT NULL,
    entity_id  TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    UNIQUE(memory_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON memory_entity_mentions(entity_id);

CREATE TABLE IF NOT EXISTS session_memories (
    id              TEXT PRIMARY KEY,
    session_key     TEXT NOT NULL,
    memory_id       TEXT NOT NULL,
    source          TEXT NOT NULL,
    effective_score REAL NOT NULL DEFAULT 0,
    final_score     REAL NOT NULL DEFAULT 0,
    rank            INTEGER NOT NULL DEFAULT 0,
    was_injected    BOOLEAN NOT NULL DEFAULT FALSE,
    relevance_score REAL,
    fts_hit_count   INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_key, memory_id)
);

CREATE TABLE IF NOT EXISTS session_checkpoints (
    id                 TEXT PRIMARY KEY,
    session_key        TEXT NOT NULL,
    harness            TEXT NOT NULL DEFAULT '',
    project            TEXT NOT NULL DEFAULT '',
    project_normalized TEXT NOT NULL DEFAULT '',
    trigger            TEXT NOT NULL,
    digest             TEXT NOT NULL DEFAULT '',
    prompt_count       INTEGER NOT NULL DEFAULT 0,
    memory_queries     JSONB,
    recent_remembers   JSONB,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session_checkpoints_key ON session_checkpoints(session_key, created_at);
CREATE INDEX IF NOT EXISTS idx_session_checkpoints_project ON session_checkpoints(project_normalized, created_at);

CREATE TABLE IF NOT EXISTS session_scores (
    id                   TEXT PRIMARY KEY,
    session_key          TEXT NOT NULL,
    project              TEXT NOT NULL DEFAULT '',
    harness              TEXT NOT NULL DEFAULT '',
    score                REAL NOT NULL DEFAULT 0,
    memories_recalled    INTEGER NOT NULL DEFAULT 0,
    memories_used        INTEGER NOT NULL DEFAULT 0,
    novel_context_count  INTEGER NOT NULL DEFAULT 0,
    reasoning            TEXT,
    confidence           REAL,
    continuity_reasoning TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS umap_cache (
    id         TEXT PRIMARY KEY,
    params_key TEXT NOT NULL,
    points     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationFTS adds a generated tsvector column and GIN index mirroring the
// sqlite backend's FTS5 virtual table (spec.md §4.1 "FTS invariant
// maintenance"). Applied separately from Schema since it is safe to skip
// (degrading FullTextSearch to a slower ILIKE fallback) on a Postgres
// server where GENERATED ALWAYS AS columns are unavailable.
const MigrationFTS = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS content_tsv tsvector
    GENERATED ALWAYS AS (to_tsvector('english', content)) STORED;
CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);
`

// MigrationPgvector adds a pgvector column for indexed ANN search,
// populated alongside the BYTEA column so a server without the pgvector
// extension still has a working (linear-scan) fallback.
const MigrationPgvector = `
ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
