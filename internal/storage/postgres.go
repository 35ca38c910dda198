package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"reach-engine/internal/config"
	"reach-engine/internal/feedback"
)

// Store is the Postgres backend: it records feedback and hands out
// connections for payload notifications.
type Store struct {
	pool    *pgxpool.Pool
	channel string
}

var _ feedback.Sink = (*Store)(nil)

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool for %s: %w", cfg.DSNRedacted(), err)
	}
	log.Info().Str("dsn", cfg.DSNRedacted()).Int32("max_conns", poolCfg.MaxConns).Msg("postgres pool ready")
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the feedback table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reach_feedback (
			id          BIGSERIAL PRIMARY KEY,
			device_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			content_id  TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			extras      JSONB,
			reported_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create reach_feedback: %w", err)
	}
	return nil
}

// Send records one feedback row.
func (s *Store) Send(ctx context.Context, f feedback.Feedback) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var extras map[string]string
	if len(f.Extras) > 0 {
		extras = f.Extras
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reach_feedback (device_id, kind, content_id, category, status, extras, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.DeviceID, string(f.Kind), f.ContentID, f.Category, f.Status, extras, f.At)
	if err != nil {
		return fmt.Errorf("insert feedback %s/%s: %w", f.ContentID, f.Status, err)
	}
	return nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "reach_payloads"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
