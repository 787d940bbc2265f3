package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidespike/internal/config"
)

func inputConfig() config.InputConfig {
	cfg := config.DefaultConfig().Input
	cfg.Station = "8772471"
	return cfg
}

func TestLoadCSVWithHeaderAndTitle(t *testing.T) {
	data := `Station 8772471 water levels
Time,Time.1,raw,accepted
2018-08-01 00:06,2018-08-01 00:06,1.120,1.118
2018-08-01 00:00,2018-08-01 00:00,1.100,1.101
2018-08-01 00:12,2018-08-01 00:12,-99999.999,1.130
2018-08-01 00:18,2018-08-01 00:18,4.500,
`
	b, err := LoadCSV(strings.NewReader(data), inputConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "8772471", b.Station)
	assert.Equal(t, 1, b.Dropped)
	require.Len(t, b.Observations, 3)
	// sorted by time
	assert.Equal(t, time.Date(2018, 8, 1, 0, 0, 0, 0, time.UTC), b.Observations[0].Timestamp)
	assert.Equal(t, 1.100, b.Observations[0].Value)
	require.NotNil(t, b.Observations[0].Accepted)
	assert.Equal(t, 1.101, *b.Observations[0].Accepted)
	assert.Nil(t, b.Observations[2].Accepted)
	assert.Equal(t, 4.5, b.Observations[2].Value)
}

func TestLoadCSVPositional(t *testing.T) {
	data := "2018-08-01T00:00:00Z,1.0\n2018-08-01T00:06:00Z,1.1\n"
	b, err := LoadCSV(strings.NewReader(data), inputConfig(), nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 2)
	assert.Equal(t, 1.1, b.Observations[1].Value)
}

func TestLoadCSVTimezone(t *testing.T) {
	cfg := inputConfig()
	cfg.Timezone = "America/New_York"
	data := "2018-08-01 00:00,1.0\n2018-08-01 00:06,1.1\n"
	b, err := LoadCSV(strings.NewReader(data), cfg, nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 2)
	assert.Equal(t, time.Date(2018, 8, 1, 4, 6, 0, 0, time.UTC), b.Observations[1].Timestamp)

	cfg.Timezone = "Not/AZone"
	_, err = LoadCSV(strings.NewReader(data), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.timezone")
}

func TestLoadCSVZeroNullValue(t *testing.T) {
	cfg := inputConfig()
	zero := 0.0
	cfg.NullValue = &zero
	data := "2018-08-01 00:00,0\n2018-08-01 00:06,1.1\n"
	b, err := LoadCSV(strings.NewReader(data), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Dropped)
	require.Len(t, b.Observations, 1)
}

func TestLoadCSVStrictOrderKeepsInputOrder(t *testing.T) {
	cfg := inputConfig()
	cfg.StrictOrder = true
	data := "2018-08-01 00:06,1.1\n2018-08-01 00:00,1.0\n"
	b, err := LoadCSV(strings.NewReader(data), cfg, nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 2)
	assert.Equal(t, 1.1, b.Observations[0].Value)
}

func TestBatchBetween(t *testing.T) {
	data := "2018-08-01 00:00,1.0\n2018-08-01 00:06,1.1\n2018-08-01 00:12,1.2\n"
	b, err := LoadCSV(strings.NewReader(data), inputConfig(), nil)
	require.NoError(t, err)
	b.Between(time.Date(2018, 8, 1, 0, 6, 0, 0, time.UTC), time.Time{})
	require.Len(t, b.Observations, 2)
	assert.Equal(t, 1.1, b.Observations[0].Value)
	b.Between(time.Time{}, time.Date(2018, 8, 1, 0, 6, 0, 0, time.UTC))
	require.Len(t, b.Observations, 1)
}

func TestLoadCSVMalformedValueFails(t *testing.T) {
	data := "timestamp,value\n2018-08-01 00:00,1.0\n2018-08-01 00:06,oops\n"
	_, err := LoadCSV(strings.NewReader(data), inputConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestLoadCSVHeaderWithoutValue(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("time,station\n"), inputConfig(), nil)
	require.Error(t, err)
}

func TestDecodeJSONEnvelope(t *testing.T) {
	data := `{"station":"9410170","observations":[
		{"timestamp":"2018-08-01T00:06:00Z","value":1.2},
		{"time":"2018-08-01T00:00:00Z","raw":1.1,"accepted":1.1},
		{"timestamp":"2018-08-01T00:12:00Z","value":null}
	]}`
	b, err := DecodeJSON([]byte(data), inputConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "9410170", b.Station)
	assert.Equal(t, 1, b.Dropped)
	require.Len(t, b.Observations, 2)
	assert.Equal(t, 1.1, b.Observations[0].Value)
}

func TestDecodeJSONArrayWithUnixTimestamps(t *testing.T) {
	data := `[{"ts":1564617240,"value":0.5}]`
	b, err := DecodeJSON([]byte(data), inputConfig(), nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 1)
	assert.Equal(t, time.Date(2019, 7, 31, 23, 54, 0, 0, time.UTC), b.Observations[0].Timestamp)
}

func TestLoadFileSniffsFormat(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "series.dat")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`  [{"timestamp":"2018-08-01T00:00:00Z","value":1}]`), 0o644))
	b, err := LoadFile(jsonPath, inputConfig(), nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 1)

	csvPath := filepath.Join(dir, "series.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,value\n2018-08-01 00:00,2\n"), 0o644))
	b, err = LoadFile(csvPath, inputConfig(), nil)
	require.NoError(t, err)
	require.Len(t, b.Observations, 1)
	assert.Equal(t, 2.0, b.Observations[0].Value)
}
