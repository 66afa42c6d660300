package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the fw-core service configuration. Values come from an
// optional YAML file, then environment variables, then defaults.
type Config struct {
	HTTPAddr     string  `yaml:"http_addr"`
	DatabaseURL  string  `yaml:"database_url"`
	LogLevel     string  `yaml:"log_level"`
	JobStorePath string  `yaml:"job_store_path"`
	Updater      Updater `yaml:"updater"`
}

type Updater struct {
	BatchConcurrency  int `yaml:"batch_concurrency"`
	CheckpointDelayMS int `yaml:"checkpoint_delay_ms"`
	ShutdownGraceMS   int `yaml:"shutdown_grace_ms"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8082",
		LogLevel: "info",
		Updater: Updater{
			BatchConcurrency:  4,
			CheckpointDelayMS: 150,
			ShutdownGraceMS:   10000,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if v := os.Getenv("FW_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FW_JOB_STORE_PATH"); v != "" {
		cfg.JobStorePath = v
	}
	if v := os.Getenv("FW_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Updater.BatchConcurrency = n
		}
	}

	if cfg.Updater.BatchConcurrency <= 0 {
		cfg.Updater.BatchConcurrency = 4
	}
	if cfg.Updater.CheckpointDelayMS < 0 {
		cfg.Updater.CheckpointDelayMS = 0
	}
	if cfg.Updater.ShutdownGraceMS <= 0 {
		cfg.Updater.ShutdownGraceMS = 10000
	}

	return cfg, nil
}

func (u Updater) CheckpointDelay() time.Duration {
	return time.Duration(u.CheckpointDelayMS) * time.Millisecond
}

func (u Updater) ShutdownGrace() time.Duration {
	return time.Duration(u.ShutdownGraceMS) * time.Millisecond
}
