package store

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	status            TEXT NOT NULL,
	ai_model          TEXT NOT NULL DEFAULT '',
	analysis_mode     TEXT NOT NULL,
	keep_video        INTEGER NOT NULL DEFAULT 0,
	storage_type      TEXT NOT NULL,
	master_video_path TEXT,
	last_window_start REAL NOT NULL,
	current_length    REAL NOT NULL DEFAULT 0,
	title             TEXT,
	start_time        REAL NOT NULL,
	end_time          REAL,
	created_at        REAL NOT NULL,
	updated_at        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

CREATE TABLE IF NOT EXISTS video_chunks (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL REFERENCES sessions(id),
	chunk_index       INTEGER NOT NULL,
	storage_path      TEXT,
	declared_duration REAL NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	uploaded_at       REAL NOT NULL,
	analyzed_at       REAL,
	UNIQUE(session_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS analysis_records (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	chunk_id        TEXT,
	window_index    INTEGER NOT NULL,
	content         TEXT NOT NULL,
	refined_content TEXT NOT NULL,
	start_offset    REAL NOT NULL,
	end_offset      REAL NOT NULL,
	video_path      TEXT NOT NULL,
	created_at      REAL NOT NULL,
	UNIQUE(session_id, window_index)
);

CREATE TABLE IF NOT EXISTS user_memory (
	user_id    TEXT PRIMARY KEY,
	memory     TEXT NOT NULL,
	updated_at REAL NOT NULL
);
`
