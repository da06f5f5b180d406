package journal

// Schema defines the SQLite schema of the update journal: one row per update
// session, from advertisement to its outcome.
const Schema = `
CREATE TABLE IF NOT EXISTS updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL UNIQUE,
    software TEXT NOT NULL,
    version TEXT NOT NULL,
    channel TEXT NOT NULL,
    checksum TEXT NOT NULL,
    partition_label TEXT,
    bytes_written INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('downloading', 'committed', 'aborted', 'timed_out', 'integrity_failed', 'protocol_violation', 'storage_failed')),
    error_message TEXT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_updates_session_id ON updates(session_id);
CREATE INDEX IF NOT EXISTS idx_updates_status ON updates(status);
`

// Status constants
const (
	StatusDownloading       = "downloading"
	StatusCommitted         = "committed"
	StatusAborted           = "aborted"
	StatusTimedOut          = "timed_out"
	StatusIntegrityFailed   = "integrity_failed"
	StatusProtocolViolation = "protocol_violation"
	StatusStorageFailed     = "storage_failed"
)

// Entry is one update session record
type Entry struct {
	ID           int64
	SessionID    string
	Software     string
	Version      string
	Channel      string
	Checksum     string
	Partition    string
	BytesWritten int64
	Status       string
	ErrorMessage string
	StartedAt    string
	FinishedAt   string
}
