package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcript records in PostgreSQL. One row per
// (room, question); replays of a batch are ignored.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			question_index INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			question_type TEXT NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (room_id, question_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_item ON transcripts (item_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transcript tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode transcript %s: %w", recordKey(r), err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO transcripts (id, room_id, question_index, item_id, question_type, record)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (room_id, question_index) DO NOTHING`,
			uuid.NewString(),
			r.RoomID,
			r.QuestionIndex,
			r.ItemID,
			r.QuestionType,
			payload,
		)
		if err != nil {
			return fmt.Errorf("insert transcript %s: %w", recordKey(r), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transcript tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM transcripts ORDER BY created_at DESC, question_index DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transcripts: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var raw []byte
		var r Record
		if err := row.Scan(&raw); err != nil {
			return r, err
		}
		return r, json.Unmarshal(raw, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan transcript rows: %w", err)
	}

	// Oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
