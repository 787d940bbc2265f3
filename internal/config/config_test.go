package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
log_level: debug
detection:
  window: 12h
  nbins: 40
  cdf_limits: [0.01, 0.99]
  buffer: 0.05
input:
  station: "8772471"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 12*time.Hour, cfg.Detection.Window)
	assert.Equal(t, 40, cfg.Detection.NBins)
	assert.Equal(t, []float64{0.01, 0.99}, cfg.Detection.CDFLimits)
	assert.Equal(t, 0.05, cfg.Detection.Buffer)
	assert.Equal(t, 20, cfg.Detection.MinEntries)
	assert.Equal(t, "8772471", cfg.Input.Station)
	require.NotNil(t, cfg.Input.NullValue)
	assert.Equal(t, NullValue, *cfg.Input.NullValue)
}

func TestLoadNullValueZeroAndDisabled(t *testing.T) {
	cfg, err := Load(writeFile(t, "zero.yaml", "input:\n  null_value: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Input.NullValue)
	assert.Equal(t, 0.0, *cfg.Input.NullValue)

	cfg, err = Load(writeFile(t, "off.yaml", "input:\n  null_value: null\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Input.NullValue)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"detection":{"nbins":10,"min_entries":5},"api":{"enabled":false}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Detection.NBins)
	assert.Equal(t, 5, cfg.Detection.MinEntries)
	assert.Equal(t, 24*time.Hour, cfg.Detection.Window)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "   \n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestSigmaOverridesLimits(t *testing.T) {
	d := DefaultDetection()
	d.Sigma = 3.5
	lo, hi := d.Limits()
	assert.InDelta(t, 0.000233, lo, 1e-6)
	assert.InDelta(t, 0.999767, hi, 1e-6)
	assert.InDelta(t, 1.0, lo+hi, 1e-12)
}

func TestDetectionValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DetectionConfig)
	}{
		{"zero window", func(d *DetectionConfig) { d.Window = 0 }},
		{"zero bins", func(d *DetectionConfig) { d.NBins = 0 }},
		{"inverted limits", func(d *DetectionConfig) { d.CDFLimits = []float64{0.9, 0.1} }},
		{"single limit", func(d *DetectionConfig) { d.CDFLimits = []float64{0.1} }},
		{"limit above one", func(d *DetectionConfig) { d.CDFLimits = []float64{0.1, 1.5} }},
		{"negative buffer", func(d *DetectionConfig) { d.Buffer = -0.1 }},
		{"zero min entries", func(d *DetectionConfig) { d.MinEntries = 0 }},
		{"exclude with workers", func(d *DetectionConfig) { d.ExcludeSpikes = true; d.Workers = 4 }},
	}
	require.NoError(t, DefaultDetection().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DefaultDetection()
			tc.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestValidateInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Source = "database"
	require.Error(t, Validate(cfg))
	cfg.Input.Database.DSN = "postgres://localhost/tides"
	require.NoError(t, Validate(cfg))
	cfg.Input.Timezone = "Not/AZone"
	require.Error(t, Validate(cfg))
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Detection.Window = 6 * time.Hour
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, loaded.Detection.Window)
}

func TestManagerReload(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "detection:\n  nbins: 30\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 30, m.Get().Detection.NBins)

	require.NoError(t, os.WriteFile(path, []byte("detection:\n  nbins: 60\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Detection.NBins)
	assert.Equal(t, 60, m.Get().Detection.NBins)
}
