package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/manthysbr/tracegraph/internal/core/domain"
)

// Config holds the runtime configuration. Values layer as
// defaults -> optional YAML file -> environment overrides.
type Config struct {
	ListenAddr            string                `yaml:"listen_addr"`
	DBPath                string                `yaml:"db_path"`
	DefaultDataset        string                `yaml:"default_dataset"`
	PrecomputedMinHours   float64               `yaml:"precomputed_min_hours"`
	DefaultTimeRangeHours float64               `yaml:"default_time_range_hours"`
	AllowedOrigins        []string              `yaml:"allowed_origins"`
	Pricing               []domain.ModelPricing `yaml:"pricing"`
}

// Default returns the documented defaults: dataset "default", rollup
// threshold of 1 hour, 6-hour initial window.
func Default() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "tracegraph.db",
		DefaultDataset:        "default",
		PrecomputedMinHours:   1,
		DefaultTimeRangeHours: 6,
		AllowedOrigins:        []string{"http://localhost:5173", "http://localhost:5174"},
	}
}

// Load builds the effective config. path may be empty (no config file).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRACEGRAPH_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRACEGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRACEGRAPH_DATASET"); v != "" {
		cfg.DefaultDataset = v
	}
	if v := os.Getenv("TRACEGRAPH_PRECOMPUTED_MIN_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PrecomputedMinHours = f
		}
	}
	if v := os.Getenv("TRACEGRAPH_TIME_RANGE_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.DefaultTimeRangeHours = f
		}
	}
}
