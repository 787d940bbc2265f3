package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"tidespike/internal/config"
	"tidespike/internal/normalize"
)

// LoadJSON accepts either a bare array of records or an object with an
// "observations" array and an optional "station".
func LoadJSON(r io.Reader, cfg config.InputConfig, logger *slog.Logger) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeJSON(data, cfg, logger)
}

func DecodeJSON(data []byte, cfg config.InputConfig, logger *slog.Logger) (*Batch, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("json: empty input")
	}
	var list []map[string]any
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	} else {
		var envelope struct {
			Station      string           `json:"station"`
			Observations []map[string]any `json:"observations"`
		}
		if err := json.Unmarshal(trim, &envelope); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		if envelope.Station != "" {
			cfg.Station = envelope.Station
		}
		list = envelope.Observations
	}
	c, err := newCollector(cfg, "json", logger)
	if err != nil {
		return nil, err
	}
	for _, obj := range list {
		if err := c.add(ParseJSONMap(obj)); err != nil {
			return nil, err
		}
	}
	return c.finish(), nil
}

func ParseJSONMap(obj map[string]any) normalize.RecordFields {
	extras := make(map[string]string, len(obj))
	for key, val := range obj {
		switch v := val.(type) {
		case nil:
		case float64:
			extras[strings.ToLower(key)] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			extras[strings.ToLower(key)] = fmt.Sprint(v)
		}
	}
	return normalize.RecordFields{
		Timestamp: firstNonEmpty(extras, "timestamp", "time", "ts", "date_time"),
		Value:     firstNonEmpty(extras, "value", "raw", "wl", "water_level"),
		Accepted:  firstNonEmpty(extras, "accepted", "verified"),
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
