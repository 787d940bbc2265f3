package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"
)

// NullValue is the sentinel the upstream tide database writes for a missing level.
const NullValue = -99999.999

// NullSentinel returns a fresh pointer to NullValue.
func NullSentinel() *float64 {
	v := NullValue
	return &v
}

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Input     InputConfig     `json:"input" yaml:"input"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Runs      RunsConfig      `json:"runs" yaml:"runs"`
}

type DetectionConfig struct {
	Window        time.Duration `json:"window" yaml:"window"`
	NBins         int           `json:"nbins" yaml:"nbins"`
	CDFLimits     []float64     `json:"cdf_limits" yaml:"cdf_limits"`
	Sigma         float64       `json:"sigma" yaml:"sigma"`
	Buffer        float64       `json:"buffer" yaml:"buffer"`
	MinEntries    int           `json:"min_entries" yaml:"min_entries"`
	RoundDigits   int           `json:"round_digits" yaml:"round_digits"`
	ExcludeSpikes bool          `json:"exclude_spikes" yaml:"exclude_spikes"`
	Workers       int           `json:"workers" yaml:"workers"`
}

type InputConfig struct {
	Source    string   `json:"source" yaml:"source"`
	Path      string   `json:"path" yaml:"path"`
	Format    string   `json:"format" yaml:"format"`
	Station   string   `json:"station" yaml:"station"`
	Timezone  string   `json:"timezone" yaml:"timezone"`
	NullValue *float64 `json:"null_value" yaml:"null_value"`
	Dedupe    bool     `json:"dedupe" yaml:"dedupe"`
	// StrictOrder keeps records in input order so an out-of-order series is
	// rejected by the detector instead of being sorted.
	StrictOrder bool           `json:"strict_order" yaml:"strict_order"`
	Database    DatabaseConfig `json:"database" yaml:"database"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type AlertsConfig struct {
	StoreLimit      int           `json:"store_limit" yaml:"store_limit"`
	PublishCooldown time.Duration `json:"publish_cooldown" yaml:"publish_cooldown"`
}

type RunsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

var defaultCDFLimits = []float64{0.00023, 0.99977}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		Window:      24 * time.Hour,
		NBins:       80,
		CDFLimits:   append([]float64(nil), defaultCDFLimits...),
		Buffer:      0.15,
		MinEntries:  20,
		RoundDigits: -1,
		Workers:     1,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Detection: DefaultDetection(),
		Input: InputConfig{
			Source:    "file",
			Format:    "auto",
			Timezone:  "UTC",
			NullValue: NullSentinel(),
			Database:  DatabaseConfig{Driver: "postgres"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:tidespike.db?_pragma=busy_timeout(5000)"},
		Kafka:   KafkaConfig{Enabled: false, Topic: "tidespike.spikes"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Runs:    RunsConfig{StoreLimit: 500},
	}
}

// Limits returns the lower and upper tail probabilities. A positive Sigma
// takes precedence over CDFLimits.
func (d DetectionConfig) Limits() (float64, float64) {
	if d.Sigma > 0 {
		return distuv.UnitNormal.CDF(-d.Sigma), distuv.UnitNormal.CDF(d.Sigma)
	}
	if len(d.CDFLimits) != 2 {
		return defaultCDFLimits[0], defaultCDFLimits[1]
	}
	return d.CDFLimits[0], d.CDFLimits[1]
}

func (d DetectionConfig) Validate() error {
	if d.Window <= 0 {
		return fmt.Errorf("detection.window must be > 0, got %s", d.Window)
	}
	if d.NBins <= 0 {
		return errors.New("detection.nbins must be > 0")
	}
	if d.Sigma < 0 {
		return errors.New("detection.sigma must be >= 0")
	}
	if d.Sigma == 0 && len(d.CDFLimits) != 2 {
		return errors.New("detection.cdf_limits must hold exactly two probabilities")
	}
	lo, hi := d.Limits()
	if lo < 0 || hi > 1 || lo >= hi {
		return fmt.Errorf("detection.cdf_limits must satisfy 0 <= low < high <= 1, got [%g, %g]", lo, hi)
	}
	if d.Buffer < 0 {
		return errors.New("detection.buffer must be >= 0")
	}
	if d.MinEntries < 1 {
		return errors.New("detection.min_entries must be >= 1")
	}
	if d.Workers < 1 {
		return errors.New("detection.workers must be >= 1")
	}
	if d.ExcludeSpikes && d.Workers > 1 {
		return errors.New("detection.exclude_spikes requires detection.workers = 1")
	}
	return nil
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.Window <= 0 {
		cfg.Detection.Window = 24 * time.Hour
	}
	if cfg.Detection.NBins <= 0 {
		cfg.Detection.NBins = 80
	}
	if cfg.Detection.Sigma == 0 && len(cfg.Detection.CDFLimits) == 0 {
		cfg.Detection.CDFLimits = append([]float64(nil), defaultCDFLimits...)
	}
	if cfg.Detection.Workers <= 0 {
		cfg.Detection.Workers = 1
	}
	if cfg.Input.Source == "" {
		cfg.Input.Source = "file"
	}
	if cfg.Input.Format == "" {
		cfg.Input.Format = "auto"
	}
	if cfg.Input.Timezone == "" {
		cfg.Input.Timezone = "UTC"
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Runs.StoreLimit <= 0 {
		cfg.Runs.StoreLimit = 500
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func Validate(cfg *Config) error {
	if err := cfg.Detection.Validate(); err != nil {
		return err
	}
	switch cfg.Input.Source {
	case "file", "database":
	default:
		return fmt.Errorf("input.source must be file or database, got %q", cfg.Input.Source)
	}
	switch cfg.Input.Format {
	case "auto", "csv", "json":
	default:
		return fmt.Errorf("input.format must be auto, csv or json, got %q", cfg.Input.Format)
	}
	if _, err := time.LoadLocation(cfg.Input.Timezone); err != nil {
		return fmt.Errorf("input.timezone: %w", err)
	}
	if cfg.Input.Source == "database" && cfg.Input.Database.DSN == "" {
		return errors.New("input.database.dsn required when input.source is database")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return errors.New("kafka requires brokers and topic")
	}
	if cfg.Alerts.PublishCooldown < 0 {
		return errors.New("alerts.publish_cooldown must be >= 0")
	}
	return nil
}

// Manager holds the current configuration of a long-running service. Each
// detection request reads one snapshot, so a reload never changes a run in flight.
type Manager struct {
	path    string
	cfg     atomic.Pointer[Config]
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory configuration that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
