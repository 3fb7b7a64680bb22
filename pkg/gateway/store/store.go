// Package store persists finished conversation turns and session
// transcripts to Postgres. Persistence is an operational byproduct of
// a live session: callers log failures and never let them interrupt a
// turn.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/echomind-ai/voiced/pkg/gateway/live/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const archiveTimeout = 10 * time.Second

// Store writes turns and transcripts through a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ session.TurnStore = (*Store)(nil)
	_ session.Archiver  = (*Store)(nil)
)

// Open connects to databaseURL, applies pending migrations and returns
// a ready store.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := migrate(ctx, databaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info("turn store ready")
	return &Store{pool: pool, logger: logger}, nil
}

// migrate runs goose over the embedded migrations. goose drives a
// database/sql handle, so it gets its own short-lived connection
// through the pgx stdlib driver.
func migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *Store) Close() {
	s.pool.Close()
}

const insertTurn = `
INSERT INTO turns (
	session_id, turn_id, generation_id, route,
	user_text, assistant_text, session_ms, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`

// SaveTurn inserts one finished turn and returns its row id.
func (s *Store) SaveTurn(ctx context.Context, rec session.TurnRecord) (string, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertTurn,
		rec.SessionID, rec.TurnID, rec.GenerationID, rec.Route,
		rec.UserText, rec.AssistantText, rec.SessionMS, rec.StartedAt, rec.FinishedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}
	return fmt.Sprintf("%d", id), nil
}

const insertTranscriptLine = `
INSERT INTO transcript_lines (
	session_id, session_started_at, session_ended_at,
	spoken_at, speaker, text
) VALUES ($1, $2, $3, $4, $5, $6)`

// ArchiveSession stores the transcript of a finished session, one row
// per spoken line, so the store can stand in for the on-disk archive.
func (s *Store) ArchiveSession(sessionID string, startedAt, endedAt time.Time, lines []session.TranscriptLine) error {
	if len(lines) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, ln := range lines {
		batch.Queue(insertTranscriptLine, sessionID, startedAt, endedAt, ln.At, ln.Speaker, ln.Text)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert transcript line: %w", err)
		}
	}
	return nil
}
