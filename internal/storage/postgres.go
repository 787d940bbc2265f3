package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/tidespike?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, postgres: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			station_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			observations INTEGER NOT NULL,
			evaluated INTEGER NOT NULL,
			insufficient INTEGER NOT NULL,
			spikes INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_station ON runs(station_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			ts TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			lower_bound DOUBLE PRECISION NOT NULL,
			upper_bound DOUBLE PRECISION NOT NULL,
			window_count INTEGER NOT NULL,
			reason TEXT NOT NULL,
			is_spike BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_run ON classifications(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS water_levels (
			station_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			raw DOUBLE PRECISION,
			accepted DOUBLE PRECISION
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_water_levels_station_ts ON water_levels(station_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
