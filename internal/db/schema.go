package db

// SchemaSQL creates the relationship store. Every statement is idempotent.
// Timestamps are REAL seconds since the Unix epoch; list and map fields are
// JSON text.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS transitions (
    fromPhraseId TEXT NOT NULL,
    toPhraseId TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    technique TEXT NOT NULL DEFAULT '',
    barCount INTEGER,
    rating INTEGER NOT NULL DEFAULT 0 CHECK (rating BETWEEN -2 AND 2),
    tags TEXT NOT NULL DEFAULT '[]',
    properties TEXT NOT NULL DEFAULT '{}',
    createdAt REAL NOT NULL,
    updatedAt REAL NOT NULL,
    PRIMARY KEY (fromPhraseId, toPhraseId)
);

-- Append-only. Rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS transition_events (
    id TEXT PRIMARY KEY,
    fromPhraseId TEXT NOT NULL,
    toPhraseId TEXT NOT NULL,
    timestamp REAL NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('practice', 'performance', 'manual', 'import')),
    action TEXT NOT NULL CHECK (action IN ('played', 'rated', 'skipped', 'aborted')),
    rating INTEGER CHECK (rating IS NULL OR rating IN (-1, 0, 1)),
    context TEXT,
    sessionId TEXT,
    comment TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    startedAt REAL NOT NULL,
    endedAt REAL,
    type TEXT NOT NULL CHECK (type IN ('practice', 'performance')),
    notes TEXT
);

CREATE TABLE IF NOT EXISTS phrase_tags (
    phraseId TEXT PRIMARY KEY,
    energyOverride REAL,
    rhythmStyle TEXT NOT NULL DEFAULT '',
    moodTags TEXT NOT NULL DEFAULT '[]',
    customTags TEXT NOT NULL DEFAULT '[]',
    notes TEXT NOT NULL DEFAULT '',
    updatedAt REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON transition_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_session ON transition_events(sessionId);
CREATE INDEX IF NOT EXISTS idx_events_rating ON transition_events(rating) WHERE rating IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_events_pair ON transition_events(fromPhraseId, toPhraseId);
`
