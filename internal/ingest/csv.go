package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tidespike/internal/config"
	"tidespike/internal/normalize"
)

// maxPreamble bounds the title lines tolerated before the header or the
// first data row.
const maxPreamble = 5

type columns struct {
	time     int
	value    int
	accepted int
}

var positional = columns{time: 0, value: 1, accepted: 2}

// LoadCSV reads timestamp/value[/accepted] rows. A header row, when
// present, names the columns; otherwise columns are positional.
func LoadCSV(r io.Reader, cfg config.InputConfig, logger *slog.Logger) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	c, err := newCollector(cfg, "csv", logger)
	if err != nil {
		return nil, err
	}
	var cols *columns
	preamble := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		if cols == nil {
			if looksLikeHeader(record) {
				h, err := headerColumns(record)
				if err != nil {
					return nil, err
				}
				cols = &h
				continue
			}
			if !startsWithTimestamp(record) {
				preamble++
				if preamble > maxPreamble {
					return nil, fmt.Errorf("csv: no header or data row within the first %d lines", maxPreamble)
				}
				continue
			}
			cols = &positional
		}
		if err := c.add(cols.fields(record)); err != nil {
			return nil, err
		}
	}
	return c.finish(), nil
}

func (c columns) fields(record []string) normalize.RecordFields {
	f := normalize.RecordFields{Raw: strings.Join(record, ",")}
	if c.time < len(record) {
		f.Timestamp = record[c.time]
	}
	if c.value < len(record) {
		f.Value = record[c.value]
	}
	if c.accepted >= 0 && c.accepted < len(record) {
		f.Accepted = record[c.accepted]
	}
	return f
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func startsWithTimestamp(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := normalize.ParseTimestamp(record[0], time.UTC)
	return err == nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		if headerRole(v) != "" {
			return true
		}
	}
	return false
}

func headerRole(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "time", "timestamp", "ts", "date_time", "datetime", "date time":
		return "time"
	case "raw", "value", "wl", "water_level", "raw_wl", "observed", "level":
		return "value"
	case "accepted", "verified", "accepted_wl", "verified_wl", "qc":
		return "accepted"
	}
	return ""
}

// headerColumns maps a header row to column indexes. The first column of
// each role wins, so repeated time columns are ignored.
func headerColumns(record []string) (columns, error) {
	cols := columns{time: -1, value: -1, accepted: -1}
	for i, name := range record {
		switch headerRole(name) {
		case "time":
			if cols.time < 0 {
				cols.time = i
			}
		case "value":
			if cols.value < 0 {
				cols.value = i
			}
		case "accepted":
			if cols.accepted < 0 {
				cols.accepted = i
			}
		}
	}
	if cols.time < 0 {
		return cols, errors.New("csv: header has no time column")
	}
	if cols.value < 0 {
		return cols, errors.New("csv: header has no water level column")
	}
	return cols, nil
}
