package indexstore

// SearchFormatVersion stamps session_search rows. Bump when the transcript
// extraction logic changes; stale rows are then regenerated lazily instead of
// migrated.
const SearchFormatVersion = 2

// ToolIOFormatVersion stamps session_tool_io rows, independently of the
// transcript corpus.
const ToolIOFormatVersion = 1

// TranscriptLimit bounds the searchable transcript stored per session.
const TranscriptLimit = 512 * 1024

const schemaSQL = `
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    path        TEXT PRIMARY KEY,
    source      TEXT NOT NULL,
    mtime_ns    INTEGER NOT NULL,
    size_bytes  INTEGER NOT NULL,
    indexed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_source ON files(source);

CREATE TABLE IF NOT EXISTS session_meta (
    session_id  TEXT PRIMARY KEY,
    source      TEXT NOT NULL,
    file_path   TEXT NOT NULL,
    start_ts    INTEGER NOT NULL DEFAULT 0,
    end_ts      INTEGER NOT NULL DEFAULT 0,
    model       TEXT NOT NULL DEFAULT '',
    cwd         TEXT NOT NULL DEFAULT '',
    repo_name   TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    messages    INTEGER NOT NULL DEFAULT 0,
    commands    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_meta_path ON session_meta(file_path);
CREATE INDEX IF NOT EXISTS idx_session_meta_source_start ON session_meta(source, start_ts);

CREATE TABLE IF NOT EXISTS session_days (
    day         TEXT NOT NULL,
    source      TEXT NOT NULL,
    session_id  TEXT NOT NULL,
    start_hour  INTEGER NOT NULL DEFAULT 0,
    messages    INTEGER NOT NULL DEFAULT 0,
    commands    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (day, source, session_id)
);

CREATE TABLE IF NOT EXISTS rollups_daily (
    day       TEXT NOT NULL,
    source    TEXT NOT NULL,
    sessions  INTEGER NOT NULL DEFAULT 0,
    messages  INTEGER NOT NULL DEFAULT 0,
    commands  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (day, source)
);

CREATE TABLE IF NOT EXISTS rollups_tod (
    source    TEXT NOT NULL,
    hour      INTEGER NOT NULL,
    sessions  INTEGER NOT NULL DEFAULT 0,
    messages  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source, hour)
);

CREATE TABLE IF NOT EXISTS session_search (
    session_id      TEXT PRIMARY KEY,
    file_path       TEXT NOT NULL,
    mtime_ns        INTEGER NOT NULL,
    size_bytes      INTEGER NOT NULL,
    format_version  INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS session_search_fts USING fts5(
    session_id UNINDEXED,
    transcript
);

CREATE TABLE IF NOT EXISTS session_tool_io (
    session_id      TEXT PRIMARY KEY,
    file_path       TEXT NOT NULL,
    mtime_ns        INTEGER NOT NULL,
    size_bytes      INTEGER NOT NULL,
    format_version  INTEGER NOT NULL,
    ref_ts          INTEGER NOT NULL,
    content_bytes   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_io_ref_ts ON session_tool_io(ref_ts);

CREATE VIRTUAL TABLE IF NOT EXISTS session_tool_io_fts USING fts5(
    session_id UNINDEXED,
    content
);
`
