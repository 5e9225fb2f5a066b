package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"NutriPlan/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const createTable = `
CREATE TABLE IF NOT EXISTS chat_transcripts (
	session_name TEXT PRIMARY KEY,
	records      JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const selectTranscript = `SELECT records FROM chat_transcripts WHERE session_name = $1`

const upsertTranscript = `
INSERT INTO chat_transcripts (session_name, records, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (session_name) DO UPDATE
SET records = EXCLUDED.records, updated_at = EXCLUDED.updated_at`

// PostgresStore keeps one transcript document per session name.
type PostgresStore struct {
	db      database.Service
	session string
}

// NewPostgresStore creates the table if needed and returns a store for session.
func NewPostgresStore(ctx context.Context, db database.Service, session string) (*PostgresStore, error) {
	if session == "" {
		session = "default"
	}
	if _, err := db.Pool().Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("create chat_transcripts: %w", err)
	}
	return &PostgresStore{db: db, session: session}, nil
}

// Load returns the session's transcript. A missing row or undecodable document is empty.
func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	var raw []byte
	err := s.db.Pool().QueryRow(ctx, selectTranscript, s.session).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript %q: %w", s.session, err)
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session", s.session).Msg("Stored transcript is corrupt, starting empty")
		return []Record{}, nil
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Save upserts the whole transcript.
func (s *PostgresStore) Save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if _, err := s.db.Pool().Exec(ctx, upsertTranscript, s.session, raw); err != nil {
		return fmt.Errorf("save transcript %q: %w", s.session, err)
	}
	return nil
}

// Health delegates to the database service.
func (s *PostgresStore) Health(ctx context.Context) map[string]string {
	stats := s.db.Health(ctx)
	stats["backend"] = "postgres"
	stats["session"] = s.session
	return stats
}
