package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:tidespike.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			station_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			observations INTEGER NOT NULL,
			evaluated INTEGER NOT NULL,
			insufficient INTEGER NOT NULL,
			spikes INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_station ON runs(station_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			ts TEXT NOT NULL,
			value REAL NOT NULL,
			lower_bound REAL NOT NULL,
			upper_bound REAL NOT NULL,
			window_count INTEGER NOT NULL,
			reason TEXT NOT NULL,
			is_spike INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_run ON classifications(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS water_levels (
			station_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			raw REAL,
			accepted REAL
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
