// Package journal keeps a persistent history of update sessions in SQLite so
// outcomes survive the restart that follows a hard reset.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/matt-g-everett/logger/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for update sessions
type Repository struct {
	db *sql.DB
}

// NewRepository opens the journal and creates its schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("journal_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("journal_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open journal")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("journal_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Begin records a new session in the downloading status
func (r *Repository) Begin(e *Entry) error {
	query := `
		INSERT INTO updates (session_id, software, version, channel, checksum, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, e.SessionID, e.Software, e.Version, e.Channel, e.Checksum, StatusDownloading)
	if err != nil {
		slog.Error("journal_insert_failed", "session_id", e.SessionID, "error", err)
		return errors.Wrap(err, "failed to insert session")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	e.ID = id
	e.Status = StatusDownloading

	slog.Info("journal_session_started", "session_id", e.SessionID, "channel", e.Channel, "version", e.Version)
	return nil
}

// Finish records the outcome of a session
func (r *Repository) Finish(sessionID, status, partition string, bytesWritten int64, errorMessage string) error {
	query := `
		UPDATE updates
		SET status = ?, partition_label = ?, bytes_written = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP
		WHERE session_id = ?
	`
	result, err := r.db.Exec(query, status, partition, bytesWritten, errorMessage, sessionID)
	if err != nil {
		slog.Error("journal_update_failed", "session_id", sessionID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update session")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	slog.Info("journal_session_finished", "session_id", sessionID, "status", status, "bytes_written", bytesWritten)
	return nil
}

const selectEntry = `
	SELECT id, session_id, software, version, channel, checksum, partition_label,
	       bytes_written, status, error_message, started_at, finished_at
	FROM updates
`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var partition, errorMessage, finishedAt sql.NullString

	err := s.Scan(&e.ID, &e.SessionID, &e.Software, &e.Version, &e.Channel, &e.Checksum,
		&partition, &e.BytesWritten, &e.Status, &errorMessage, &e.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	e.Partition = partition.String
	e.ErrorMessage = errorMessage.String
	e.FinishedAt = finishedAt.String
	return &e, nil
}

// GetBySession retrieves a session record, or nil if there is none
func (r *Repository) GetBySession(sessionID string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRow(selectEntry+` WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("journal_query_failed", "session_id", sessionID, "error", err)
		return nil, errors.Wrap(err, "failed to query session")
	}
	return e, nil
}

// List returns the most recent sessions first. A limit of zero or less
// returns everything.
func (r *Repository) List(limit int) ([]*Entry, error) {
	query := selectEntry + ` ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("journal_list_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	return entries, nil
}
