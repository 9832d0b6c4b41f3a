package sqlite

// Schema creates every table this daemon needs plus the FTS5 virtual table
// and the triggers that keep it in sync with memories (spec.md §3 "A single
// embedded relational database file"). Grounded on
// internal/storage/postgres/schema.go's table shape, adapted to SQLite types
// and to this domain's column set, with an FTS5 content-table (grounded on
// the trigger pattern internal/storage/sqlite/search_provider.go assumes
// exists) rather than the JSONB+tsvector approach Postgres uses.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id                  TEXT PRIMARY KEY,
    content             TEXT NOT NULL,
    normalized_content  TEXT NOT NULL DEFAULT '',
    content_hash        TEXT NOT NULL DEFAULT '',
    type                TEXT NOT NULL DEFAULT 'general',
    importance          REAL NOT NULL DEFAULT 0.5,
    confidence          REAL NOT NULL DEFAULT 1.0,
    pinned              INTEGER NOT NULL DEFAULT 0,

    project             TEXT NOT NULL DEFAULT '',
    session_id          TEXT NOT NULL DEFAULT '',
    who                 TEXT NOT NULL DEFAULT '',
    source_type         TEXT NOT NULL DEFAULT '',
    tags                TEXT, -- JSON array
    runtime_path        TEXT NOT NULL DEFAULT '',

    version             INTEGER NOT NULL DEFAULT 1,

    is_deleted          INTEGER NOT NULL DEFAULT 0,
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
CREATE INDEX IF NOT EXISTS idx_memories_deleted_at ON memories(deleted_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_idempotency_key
    ON memories(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_content_hash_dedup
    ON memories(content_hash, project, who) WHERE is_deleted = 0;

-- FTS5 content-table mirror of memories.content, kept in sync by triggers.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content,
    content='memories',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

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
CREATE INDEX IF NOT EXISTS idx_memory_history_created_at ON memory_history(created_at);

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
CREATE INDEX IF NOT EXISTS idx_memory_jobs_memory_id ON memory_jobs(memory_id);

CREATE TABLE IF NOT EXISTS decision_proposals (
    id         TEXT PRIMARY KEY,
    memory_id  TEXT NOT NULL,
    target_id  TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_decision_proposals_memory_id ON decision_proposals(memory_id);

CREATE TABLE IF NOT EXISTS embeddings (
    source_type TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    vector      BLOB NOT NULL,
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
    was_injected    INTEGER NOT NULL DEFAULT 0,
    relevance_score REAL,
    fts_hit_count   INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_key, memory_id)
);

CREATE TABLE IF NOT EXISTS session_checkpoints (
    id               TEXT PRIMARY KEY,
    session_key      TEXT NOT NULL,
    harness          TEXT NOT NULL DEFAULT '',
    project          TEXT NOT NULL DEFAULT '',
    project_normalized TEXT NOT NULL DEFAULT '',
    trigger          TEXT NOT NULL,
    digest           TEXT NOT NULL DEFAULT '',
    prompt_count     INTEGER NOT NULL DEFAULT 0,
    memory_queries   TEXT, -- JSON array
    recent_remembers TEXT, -- JSON array
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
    created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS umap_cache (
    id         TEXT PRIMARY KEY,
    params_key TEXT NOT NULL,
    points     TEXT NOT NULL, -- JSON
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
