package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

// TranscriptStorage defines the interface for persisting run transcripts
type TranscriptStorage interface {
	// Append stores one task transition
	Append(ctx context.Context, rec *model.Transition) error

	// List retrieves the transitions of a run in recorded order
	List(ctx context.Context, runID string) ([]*model.Transition, error)

	// DeleteBefore deletes transitions recorded before the given time
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases underlying resources
	Close() error
}

// SQLiteTranscript implements TranscriptStorage using SQLite
type SQLiteTranscript struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteTranscript opens (or creates) a SQLite-backed transcript store
func NewSQLiteTranscript(logger *zap.Logger, dbPath string) (*SQLiteTranscript, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteTranscript{
		logger: logger,
		db:     db,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteTranscript) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_transcript (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			task TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			detail TEXT,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_transcript_run_id ON run_transcript(run_id);
		CREATE INDEX IF NOT EXISTS idx_run_transcript_recorded_at ON run_transcript(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Append implements TranscriptStorage.Append
func (s *SQLiteTranscript) Append(ctx context.Context, rec *model.Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_transcript (
			id, run_id, task, from_status, to_status, detail, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		rec.RunID,
		rec.Task,
		string(rec.From),
		string(rec.To),
		sql.NullString{String: rec.Detail, Valid: rec.Detail != ""},
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store transition: %w", err)
	}
	return nil
}

// List implements TranscriptStorage.List
func (s *SQLiteTranscript) List(ctx context.Context, runID string) ([]*model.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task, from_status, to_status, detail, recorded_at
		FROM run_transcript
		WHERE run_id = ?
		ORDER BY recorded_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var recs []*model.Transition
	for rows.Next() {
		rec := &model.Transition{}
		var from, to string
		var detail sql.NullString

		if err := rows.Scan(&rec.RunID, &rec.Task, &from, &to, &detail, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		rec.From = model.TaskStatus(from)
		rec.To = model.TaskStatus(to)
		if detail.Valid {
			rec.Detail = detail.String
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return recs, nil
}

// DeleteBefore implements TranscriptStorage.DeleteBefore
func (s *SQLiteTranscript) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM run_transcript WHERE recorded_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete transitions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old transcript records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteTranscript) Close() error {
	return s.db.Close()
}
