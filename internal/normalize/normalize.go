package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tidespike/internal/config"
	"tidespike/internal/model"
)

// ErrMissingValue marks a record whose water level is absent, NaN or the
// database null sentinel. Loaders drop such records instead of failing.
var ErrMissingValue = errors.New("missing water level")

type RecordFields struct {
	Timestamp string
	Value     string
	Accepted  string
	Raw       string
}

// Normalize parses one record. Timestamps without an offset are read in loc,
// which callers resolve once per load; nil means UTC.
func Normalize(fields RecordFields, cfg config.InputConfig, loc *time.Location) (model.Observation, error) {
	if strings.TrimSpace(fields.Timestamp) == "" {
		return model.Observation{}, errors.New("empty timestamp")
	}
	ts, err := ParseTimestamp(fields.Timestamp, loc)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse timestamp: %w", err)
	}

	value, err := ParseLevel(fields.Value, cfg.NullValue)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse value at %s: %w", ts.UTC().Format(time.RFC3339), err)
	}
	ob := model.Observation{Timestamp: ts.UTC(), Value: value}

	if strings.TrimSpace(fields.Accepted) != "" {
		accepted, err := ParseLevel(fields.Accepted, cfg.NullValue)
		switch {
		case err == nil:
			ob.Accepted = &accepted
		case errors.Is(err, ErrMissingValue):
		default:
			return model.Observation{}, fmt.Errorf("parse accepted at %s: %w", ts.UTC().Format(time.RFC3339), err)
		}
	}
	return ob, nil
}

// ParseLevel converts a water level string to meters. Empty strings, NaN,
// infinities and values equal to *nullValue are reported as ErrMissingValue.
// A nil nullValue disables the sentinel check.
func ParseLevel(value string, nullValue *float64) (float64, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "nan", "null", "none", "na":
		return 0, ErrMissingValue
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrMissingValue
	}
	if nullValue != nil && math.Abs(v-*nullValue) < 1e-6 {
		return 0, ErrMissingValue
	}
	return v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006/01/02 15:04",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
