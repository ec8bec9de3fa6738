// Package config loads the betelchain server configuration.
//
// Values come from three layers, later ones winning: Default(), an optional
// YAML file, and BETELCHAIN_* environment variables (a .env file in the
// working directory is loaded first when present).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/louvredev/BetelChain/factory"
)

// Config represents the top-level betelchain.yaml configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Pricing        PricingConfig        `yaml:"pricing"`
	Events         EventsConfig         `yaml:"events"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for an in-memory database
}

type PricingConfig struct {
	Timeout time.Duration       `yaml:"timeout"`
	Policy  factory.PricingJSON `yaml:"policy"`
}

// EventsConfig selects the event publisher. No brokers: events are logged.
type EventsConfig struct {
	KafkaBrokers []string      `yaml:"kafka_brokers,omitempty"`
	Topic        string        `yaml:"topic"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ReconciliationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // robfig/cron spec, e.g. "@every 1h"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "./data/betelchain.db"},
		Pricing: PricingConfig{
			Timeout: 5 * time.Second,
			Policy:  factory.PricingJSON{Kind: factory.DefaultKind},
		},
		Events: EventsConfig{
			Topic:   "betelchain.purchase-events",
			Timeout: 10 * time.Second,
		},
		Reconciliation: ReconciliationConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then path (if not
// empty), then .env and the environment. The result is validated.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] Ignoring .env: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BETELCHAIN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BETELCHAIN_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BETELCHAIN_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("BETELCHAIN_DB"); ok {
		c.Database.Path = v
	}
	if v, ok := lookup("BETELCHAIN_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("BETELCHAIN_KAFKA_BROKERS"); ok {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup("BETELCHAIN_KAFKA_TOPIC"); ok {
		c.Events.Topic = v
	}
	if v, ok := lookup("BETELCHAIN_PRICING_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BETELCHAIN_PRICING_TIMEOUT: %w", err)
		}
		c.Pricing.Timeout = d
	}
	if v, ok := lookup("BETELCHAIN_RECONCILE_SCHEDULE"); ok {
		if v == "" || v == "off" {
			c.Reconciliation.Enabled = false
		} else {
			c.Reconciliation.Enabled = true
			c.Reconciliation.Schedule = v
		}
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Pricing.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("pricing.timeout must be positive, got %s", c.Pricing.Timeout))
	}
	if err := factory.Validate(c.Pricing.Policy); err != nil {
		errs = append(errs, fmt.Errorf("pricing.policy: %w", err))
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.Topic == "" {
		errs = append(errs, errors.New("events.topic is required when kafka_brokers are set"))
	}
	if c.Reconciliation.Enabled {
		if _, err := cron.ParseStandard(c.Reconciliation.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reconciliation.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
