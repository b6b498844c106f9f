package store

const schema = `
CREATE TABLE IF NOT EXISTS reflections (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    question TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    raw_content TEXT NOT NULL,
    modality TEXT NOT NULL,
    transcript TEXT,
    extracted_values TEXT,
    extracted_emotions TEXT,
    summary TEXT,
    word_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reflections_owner ON reflections(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reflections_pending ON reflections(created_at) WHERE summary IS NULL;

CREATE TABLE IF NOT EXISTS personality_models (
    owner_id TEXT PRIMARY KEY,
    facets TEXT NOT NULL,
    generation_directive TEXT NOT NULL DEFAULT '',
    confidence_score REAL NOT NULL DEFAULT 0,
    total_reflections_considered INTEGER NOT NULL,
    last_built_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    counterpart_id TEXT NOT NULL DEFAULT '',
    counterpart_name TEXT NOT NULL DEFAULT '',
    message_count INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, started_at);

CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    audio_ref TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS voice_profiles (
    owner_id TEXT NOT NULL,
    external_voice_ref TEXT NOT NULL,
    is_primary INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner_id, external_voice_ref)
);
`
