package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// PostgresRepository persists the playlist as a single JSONB row, upserted on
// every save.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database and ensures the schema
// exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("connected to postgres playlist repository")
	return r, nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS playlist_state (
			id         smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			doc        jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create playlist_state table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context) (playlist.State, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM playlist_state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return playlist.State{}, nil
	}
	if err != nil {
		return playlist.State{}, fmt.Errorf("load playlist row: %w", err)
	}

	var state playlist.State
	if err := json.Unmarshal(doc, &state); err != nil {
		return playlist.State{}, fmt.Errorf("parse playlist document: %w", err)
	}
	return state, nil
}

func (r *PostgresRepository) Save(ctx context.Context, snapshot playlist.State) error {
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO playlist_state (id, doc, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`, doc)
	if err != nil {
		return fmt.Errorf("upsert playlist row: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
