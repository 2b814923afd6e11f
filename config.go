/*
File: config.go
Version: 1.3.0
Description: YAML configuration loading for the verdict engine daemon.
             Defaults are applied inline; invalid values are logged and
             replaced with fallbacks rather than aborting startup.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// --- Configuration Structures ---

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	StateDir  string          `yaml:"state_dir"`
	Cache     CacheConfig     `yaml:"cache"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Threshold ThresholdConfig `yaml:"threshold"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Clients   ClientsConfig   `yaml:"clients"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
	Upstream   string `yaml:"upstream"`
	Timeout    string `yaml:"timeout"`
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`

	parsedTimeout time.Duration
}

type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
	QPS        int    `yaml:"qps"`
	Burst      int    `yaml:"burst"`
}

type LoggingConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`

	File struct {
		Path string `yaml:"path"`
	} `yaml:"file"`
}

type CacheConfig struct {
	TTLLocal      int    `yaml:"ttl_local"`      // seconds, locally-produced verdicts
	TTLCloud      int    `yaml:"ttl_cloud"`      // seconds, oracle-produced verdicts
	SweepInterval string `yaml:"sweep_interval"` // default "60s"

	parsedSweepInterval time.Duration
}

type PatternsConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"` // default 0.8
	PersistEvery   int     `yaml:"persist_every"`   // default 5 mutations
}

type AnomalyConfig struct {
	MaxHistory   int `yaml:"max_history"`   // default 1000
	MinSamples   int `yaml:"min_samples"`   // default 5
	RetrainEvery int `yaml:"retrain_every"` // default 100
}

type ThresholdConfig struct {
	EntropyDefault       float64 `yaml:"entropy_default"`       // default 3.8
	ContaminationDefault float64 `yaml:"contamination_default"` // default 0.05
	Cooldown             string  `yaml:"cooldown"`              // default "1h"
	MinSamples           int     `yaml:"min_samples"`           // default 100

	parsedCooldown time.Duration
}

type FeedbackConfig struct {
	RecentSize int `yaml:"recent_size"` // default 100
}

type OracleConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"` // default "10s"
	QPS      int    `yaml:"qps"`
	Burst    int    `yaml:"burst"`

	parsedTimeout time.Duration
}

type ClientsConfig struct {
	MobileCIDRs  []string `yaml:"mobile_cidrs"`
	DesktopCIDRs []string `yaml:"desktop_cidrs"`
	IOTCIDRs     []string `yaml:"iot_cidrs"`
}

var config *Config

// LoadConfig reads, parses, and normalizes the configuration file, then
// initializes the logger.
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := InitLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	config = &cfg
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if len(cfg.Logging.Outputs) == 0 {
		cfg.Logging.Outputs = []string{"console"}
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "state"
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 53
	}
	if cfg.Server.Upstream == "" {
		cfg.Server.Upstream = "9.9.9.9:53"
	}
	if cfg.Server.Workers <= 0 {
		cfg.Server.Workers = 8
	}
	if cfg.Server.QueueSize <= 0 {
		cfg.Server.QueueSize = 1024
	}
	cfg.Server.parsedTimeout = parseDurationOr(cfg.Server.Timeout, 5*time.Second, "server.timeout")

	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8053
	}
	if cfg.API.QPS <= 0 {
		cfg.API.QPS = 50
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 100
	}

	if cfg.Cache.TTLLocal <= 0 {
		cfg.Cache.TTLLocal = 3600
	}
	if cfg.Cache.TTLCloud <= 0 {
		cfg.Cache.TTLCloud = 1800
	}
	cfg.Cache.parsedSweepInterval = parseDurationOr(cfg.Cache.SweepInterval, time.Minute, "cache.sweep_interval")

	if cfg.Patterns.MatchThreshold <= 0 || cfg.Patterns.MatchThreshold > 1 {
		cfg.Patterns.MatchThreshold = 0.8
	}
	if cfg.Patterns.PersistEvery <= 0 {
		cfg.Patterns.PersistEvery = 5
	}

	if cfg.Anomaly.MaxHistory <= 0 {
		cfg.Anomaly.MaxHistory = 1000
	}
	if cfg.Anomaly.MinSamples <= 0 {
		cfg.Anomaly.MinSamples = 5
	}
	if cfg.Anomaly.RetrainEvery <= 0 {
		cfg.Anomaly.RetrainEvery = 100
	}

	if cfg.Threshold.EntropyDefault <= 0 {
		cfg.Threshold.EntropyDefault = 3.8
	}
	if cfg.Threshold.ContaminationDefault <= 0 {
		cfg.Threshold.ContaminationDefault = 0.05
	}
	if cfg.Threshold.MinSamples <= 0 {
		cfg.Threshold.MinSamples = 100
	}
	cfg.Threshold.parsedCooldown = parseDurationOr(cfg.Threshold.Cooldown, time.Hour, "threshold.cooldown")

	if cfg.Feedback.RecentSize <= 0 {
		cfg.Feedback.RecentSize = 100
	}

	if cfg.Oracle.QPS <= 0 {
		cfg.Oracle.QPS = 2
	}
	if cfg.Oracle.Burst <= 0 {
		cfg.Oracle.Burst = 5
	}
	cfg.Oracle.parsedTimeout = parseDurationOr(cfg.Oracle.Timeout, 10*time.Second, "oracle.timeout")
}

func parseDurationOr(raw string, fallback time.Duration, field string) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		LogWarn("[CONFIG] Invalid %s '%s', defaulting to %v", field, raw, fallback)
		return fallback
	}
	return d
}
