package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tidespike/internal/config"
	"tidespike/internal/model"
	"tidespike/internal/normalize"
)

// Batch is a loaded, time-ordered series ready for detection.
type Batch struct {
	Station      string
	Observations []model.Observation
	Dropped      int
}

type collector struct {
	cfg     config.InputConfig
	loc     *time.Location
	logger  *slog.Logger
	source  string
	batch   Batch
	records int
}

func newCollector(cfg config.InputConfig, source string, logger *slog.Logger) (*collector, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("input.timezone: %w", err)
		}
		loc = l
	}
	return &collector{cfg: cfg, loc: loc, logger: logger, source: source, batch: Batch{Station: cfg.Station}}, nil
}

// add normalizes one record. Missing levels are counted and skipped; any
// other parse failure aborts the load.
func (c *collector) add(fields normalize.RecordFields) error {
	c.records++
	ob, err := normalize.Normalize(fields, c.cfg, c.loc)
	if err != nil {
		if errors.Is(err, normalize.ErrMissingValue) {
			c.batch.Dropped++
			return nil
		}
		return fmt.Errorf("%s record %d: %w", c.source, c.records, err)
	}
	c.batch.Observations = append(c.batch.Observations, ob)
	return nil
}

// Between keeps the observations in [from, to]. A zero bound leaves that
// side open.
func (b *Batch) Between(from, to time.Time) {
	if from.IsZero() && to.IsZero() {
		return
	}
	kept := b.Observations[:0]
	for _, ob := range b.Observations {
		if !from.IsZero() && ob.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && ob.Timestamp.After(to) {
			continue
		}
		kept = append(kept, ob)
	}
	b.Observations = kept
}

func (c *collector) finish() *Batch {
	obs := c.batch.Observations
	if !c.cfg.StrictOrder {
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].Timestamp.Before(obs[j].Timestamp)
		})
	}
	if c.logger != nil {
		c.logger.Info("observations loaded",
			"source", c.source,
			"station", c.batch.Station,
			"observations", len(obs),
			"dropped", c.batch.Dropped,
		)
	}
	return &c.batch
}

// LoadFile reads a CSV or JSON file according to cfg.Format. With "auto" the
// extension decides, falling back to sniffing the first non-blank rune.
func LoadFile(path string, cfg config.InputConfig, logger *slog.Logger) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	format := cfg.Format
	if format == "" || format == "auto" {
		format = detectFormat(path)
	}
	r := bufio.NewReader(f)
	if format == "" {
		format = "csv"
		if sniffJSON(r) {
			format = "json"
		}
	}
	switch format {
	case "json":
		return LoadJSON(r, cfg, logger)
	default:
		return LoadCSV(r, cfg, logger)
	}
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".csv", ".txt":
		return "csv"
	}
	return ""
}

func sniffJSON(r *bufio.Reader) bool {
	for i := 1; ; i++ {
		b, err := r.Peek(i)
		if err != nil {
			return false
		}
		ch := b[i-1]
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
}
