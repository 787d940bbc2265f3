package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tidespike/internal/config"
	"tidespike/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveRun(ctx context.Context, run model.RunSummary, results []model.Classification) error
	ListRuns(ctx context.Context, station string, limit int) ([]model.RunSummary, error)
	SaveObservations(ctx context.Context, station string, obs []model.Observation) error
	LoadObservations(ctx context.Context, q Query) ([]model.Observation, error)
}

// Query selects one station's readings. Zero Begin or End leaves that side
// open. Raw levels equal to NullValue are skipped; a nil NullValue keeps them.
type Query struct {
	Station   string
	Begin     time.Time
	End       time.Time
	NullValue *float64
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return Open(cfg.Driver, cfg.DSN)
}

// Open connects to a sqlite or postgres database by driver name.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type baseStore struct {
	db       *sql.DB
	postgres bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// bind rewrites ? placeholders to $n for postgres.
func (b *baseStore) bind(query string) string {
	if !b.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

const sqliteTime = "2006-01-02T15:04:05.000000Z"

func (b *baseStore) encodeTime(ts time.Time) any {
	if b.postgres {
		return ts.UTC()
	}
	return ts.UTC().Format(sqliteTime)
}

// timeScanner accepts either a native time or the sqlite text encoding.
type timeScanner struct {
	t time.Time
}

func (s *timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		return errors.New("null timestamp")
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (s *timeScanner) parse(v string) error {
	for _, layout := range []string{sqliteTime, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func (b *baseStore) SaveRun(ctx context.Context, run model.RunSummary, results []model.Classification) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.bind(
		`INSERT INTO runs (id, station_id, started_at, finished_at, observations, evaluated, insufficient, spikes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID,
		run.Station,
		b.encodeTime(run.StartedAt),
		b.encodeTime(run.FinishedAt),
		run.Observations,
		run.Evaluated,
		run.Insufficient,
		run.Spikes,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(
		`INSERT INTO classifications (run_id, ts, value, lower_bound, upper_bound, window_count, reason, is_spike)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range results {
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			b.encodeTime(c.Timestamp),
			c.Value,
			c.Interval.Lower,
			c.Interval.Upper,
			c.WindowCount,
			string(c.Reason),
			c.IsSpike,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) ListRuns(ctx context.Context, station string, limit int) ([]model.RunSummary, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, station_id, started_at, finished_at, observations, evaluated, insufficient, spikes FROM runs`
	args := []any{}
	if station != "" {
		query += ` WHERE station_id = ?`
		args = append(args, station)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RunSummary, 0)
	for rows.Next() {
		var r model.RunSummary
		var started, finished timeScanner
		if err := rows.Scan(&r.ID, &r.Station, &started, &finished, &r.Observations, &r.Evaluated, &r.Insufficient, &r.Spikes); err != nil {
			return nil, err
		}
		r.StartedAt, r.FinishedAt = started.t, finished.t
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveObservations upserts readings keyed on (station, timestamp), so a
// repeated import replaces rows instead of duplicating them.
func (b *baseStore) SaveObservations(ctx context.Context, station string, obs []model.Observation) error {
	if b.db == nil || len(obs) == 0 {
		return nil
	}
	if station == "" {
		return errors.New("station required")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(
		`INSERT INTO water_levels (station_id, ts, raw, accepted) VALUES (?, ?, ?, ?)
		ON CONFLICT (station_id, ts) DO UPDATE SET raw = excluded.raw, accepted = excluded.accepted`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ob := range obs {
		var accepted sql.NullFloat64
		if ob.Accepted != nil {
			accepted = sql.NullFloat64{Float64: *ob.Accepted, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, station, b.encodeTime(ob.Timestamp), ob.Value, accepted); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) LoadObservations(ctx context.Context, q Query) ([]model.Observation, error) {
	if b.db == nil {
		return nil, nil
	}
	if q.Station == "" {
		return nil, errors.New("station required")
	}
	query := `SELECT ts, raw, accepted FROM water_levels WHERE station_id = ?`
	args := []any{q.Station}
	if !q.Begin.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, b.encodeTime(q.Begin))
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, b.encodeTime(q.End))
	}
	query += ` ORDER BY ts`
	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Observation, 0)
	for rows.Next() {
		var ts timeScanner
		var raw, accepted sql.NullFloat64
		if err := rows.Scan(&ts, &raw, &accepted); err != nil {
			return nil, err
		}
		if !validLevel(raw, q.NullValue) {
			continue
		}
		ob := model.Observation{Timestamp: ts.t, Value: raw.Float64}
		if validLevel(accepted, q.NullValue) {
			v := accepted.Float64
			ob.Accepted = &v
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func validLevel(v sql.NullFloat64, nullValue *float64) bool {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return false
	}
	return nullValue == nil || math.Abs(v.Float64-*nullValue) >= 1e-6
}
