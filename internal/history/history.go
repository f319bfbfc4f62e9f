// internal/history/history.go
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// SendRecord is one send attempt. The credential secret is never part of it.
type SendRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Recipient  string    `json:"recipient"`
	Login      string    `json:"login"`
	Subject    string    `json:"subject"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS send_records (
            id          TEXT PRIMARY KEY,
            session_id  TEXT NOT NULL,
            recipient   TEXT NOT NULL,
            login       TEXT NOT NULL,
            subject     TEXT NOT NULL,
            success     BOOLEAN NOT NULL,
            error       TEXT NOT NULL DEFAULT '',
            started_at  TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlInsertRecord = `
        INSERT INTO send_records (id, session_id, recipient, login, subject, success, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlRecentRecords = `
        SELECT id, session_id, recipient, login, subject, success, error, started_at, finished_at
        FROM send_records
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// Store persists send attempts in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("history"),
	}, nil
}

// EnsureSchema creates the send_records table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to create send_records table: %w", err)
	}
	return nil
}

// Record inserts rec. Timestamps are stored in UTC.
func (s *Store) Record(ctx context.Context, rec SendRecord) error {
	tag, err := s.pool.Exec(ctx, sqlInsertRecord,
		rec.ID, rec.SessionID, rec.Recipient, rec.Login, rec.Subject,
		rec.Success, rec.Error, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert send record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Warn("Send record already existed.", zap.String("id", rec.ID))
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]SendRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.pool.Query(ctx, sqlRecentRecords, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query send records: %w", err)
	}
	defer rows.Close()

	records := make([]SendRecord, 0, min(limit, 64))
	for rows.Next() {
		var rec SendRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Recipient, &rec.Login, &rec.Subject,
			&rec.Success, &rec.Error, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan send record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read send records: %w", err)
	}
	return records, nil
}
