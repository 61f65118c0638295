package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the correlator service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Anomaly       AnomalyConfig       `yaml:"anomaly"`
	Correlation   CorrelationConfig   `yaml:"correlation"`
	Store         StoreConfig         `yaml:"store"`
	MetricsSource MetricsSourceConfig `yaml:"metricsSource"`
	Narrative     NarrativeConfig     `yaml:"narrative"`
	Cache         CacheConfig         `yaml:"cache"`
	Monitor       MonitorConfig       `yaml:"monitor"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AnomalyConfig tunes the per-sample anomaly detector.
type AnomalyConfig struct {
	WindowMinutes    int     `yaml:"windowMinutes"`
	MinSamples       int     `yaml:"minSamples"`
	ZScoreThreshold  float64 `yaml:"zscoreThreshold"`
	Method           string  `yaml:"method"`
	BollingerEnabled bool    `yaml:"bollingerEnabled"`
}

// CorrelationConfig tunes incident grouping.
type CorrelationConfig struct {
	WindowMinutes int                 `yaml:"windowMinutes"`
	SmartGrouping SmartGroupingConfig `yaml:"smartGrouping"`
	Narrative     ToggleConfig        `yaml:"narrative"`
}

// SmartGroupingConfig enables the text-similarity grouping pass.
type SmartGroupingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
}

// ToggleConfig is a bare feature switch.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreConfig locates the incident database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MetricsSourceConfig configures access to the metrics time-series store.
type MetricsSourceConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	SeriesPath string        `yaml:"seriesPath"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NarrativeConfig configures the optional LLM narrative endpoint.
type NarrativeConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	CacheTTL          time.Duration `yaml:"cacheTTL"`
}

// CacheConfig controls in-process caching of expensive lookups.
type CacheConfig struct {
	StatsTTL time.Duration `yaml:"statsTTL"`
}

// MonitorConfig controls how monitoring cycles turn detections into insights.
type MonitorConfig struct {
	ActionRulesPath string `yaml:"actionRulesPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_CORRELATOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the detector and correlator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Anomaly.WindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("anomaly.windowMinutes must be positive"))
	}
	if c.Anomaly.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("anomaly.minSamples must not be negative"))
	}
	if c.Anomaly.ZScoreThreshold <= 0 {
		errs = append(errs, fmt.Errorf("anomaly.zscoreThreshold must be positive"))
	}
	switch c.Anomaly.Method {
	case "", "auto", "zscore", "bollinger", "adaptive":
	default:
		errs = append(errs, fmt.Errorf("anomaly.method %q is not supported", c.Anomaly.Method))
	}
	if c.Correlation.WindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("correlation.windowMinutes must be positive"))
	}
	if t := c.Correlation.SmartGrouping.SimilarityThreshold; c.Correlation.SmartGrouping.Enabled && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("correlation.smartGrouping.similarityThreshold must be in (0,1]"))
	}
	if c.Narrative.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("narrative.requestsPerMinute must not be negative"))
	}
	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50052",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Anomaly: AnomalyConfig{
			WindowMinutes:    30,
			MinSamples:       10,
			ZScoreThreshold:  3.0,
			Method:           "auto",
			BollingerEnabled: true,
		},
		Correlation: CorrelationConfig{
			WindowMinutes: 5,
			SmartGrouping: SmartGroupingConfig{SimilarityThreshold: 0.6},
		},
		Store: StoreConfig{Path: "mirador-correlator.db"},
		MetricsSource: MetricsSourceConfig{
			SeriesPath: "/api/v1/series/container",
			Timeout:    5 * time.Second,
		},
		Narrative: NarrativeConfig{
			Model:             "llama3",
			Timeout:           10 * time.Second,
			RequestsPerMinute: 30,
			CacheTTL:          30 * time.Minute,
		},
		Cache: CacheConfig{StatsTTL: 30 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_CORRELATOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_ANOMALY_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anomaly.WindowMinutes = n
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_ANOMALY_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anomaly.MinSamples = n
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_ANOMALY_ZSCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.ZScoreThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_ANOMALY_METHOD"); v != "" {
		cfg.Anomaly.Method = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_BOLLINGER_ENABLED"); v != "" {
		cfg.Anomaly.BollingerEnabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.WindowMinutes = n
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_SMART_GROUPING_ENABLED"); v != "" {
		cfg.Correlation.SmartGrouping.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.SmartGrouping.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_NARRATIVE_ENABLED"); v != "" {
		cfg.Correlation.Narrative.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_METRICS_SOURCE_URL"); v != "" {
		cfg.MetricsSource.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_METRICS_SOURCE_PATH"); v != "" {
		cfg.MetricsSource.SeriesPath = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_NARRATIVE_ENDPOINT"); v != "" {
		cfg.Narrative.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_NARRATIVE_MODEL"); v != "" {
		cfg.Narrative.Model = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_NARRATIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Narrative.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_ACTION_RULES"); v != "" {
		cfg.Monitor.ActionRulesPath = v
	}
	if v := os.Getenv("MIRADOR_CORRELATOR_CACHE_STATS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.StatsTTL = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
}
