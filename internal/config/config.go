// Package config loads bizdash configuration in three layers: built-in
// defaults, an optional YAML file, then BIZDASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"bizdash/internal/validation"
)

// DefaultSheetsURL is the order export the dashboard was built around.
const DefaultSheetsURL = "https://docs.google.com/spreadsheets/d/10NRP6_PRQGO6eHGFmeBUSFfxYhqfJ2DtnN8fteRIOsE/export?format=csv"

const (
	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "CONFIG_PATH"
	envPrefix        = "BIZDASH_"
)

var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/bizdash/config.yaml"}

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Source  SourceConfig  `koanf:"source"`
	Refresh RefreshConfig `koanf:"refresh"`
	State   StateConfig   `koanf:"state"`
	Publish PublishConfig `koanf:"publish"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// RefreshRateLimit is manual refresh requests allowed per client per minute.
	RefreshRateLimit int `koanf:"refresh_rate_limit" validate:"min=1"`
}

type SourceConfig struct {
	// Kind is sheets, file or kafka.
	Kind    string        `koanf:"kind" validate:"oneof=sheets file kafka"`
	URL     string        `koanf:"url"`
	Path    string        `koanf:"path" validate:"required_if=Kind file"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	// MaxBytes caps the size of one export.
	MaxBytes int64 `koanf:"max_bytes" validate:"min=1"`
	// Location is the IANA zone day/month/year dates are read in.
	Location string        `koanf:"location"`
	Kafka    KafkaConfig   `koanf:"kafka"`
	Breaker  BreakerConfig `koanf:"breaker"`
}

type KafkaConfig struct {
	Brokers []string      `koanf:"brokers"`
	Topic   string        `koanf:"topic"`
	Key     string        `koanf:"key"`
	Window  time.Duration `koanf:"window"`
}

type BreakerConfig struct {
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gte=0,lte=1"`
	OpenTimeout  time.Duration `koanf:"open_timeout"`
}

type RefreshConfig struct {
	Dataset  string        `koanf:"dataset" validate:"required"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	OnStart  bool          `koanf:"on_start"`
}

type StateConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory pebble badger"`
}

type PublishConfig struct {
	// Sinks lists any of log, kafka, kafka-tx.
	Sinks         []string `koanf:"sinks" validate:"dive,oneof=log kafka kafka-tx"`
	Brokers       []string `koanf:"brokers"`
	Topic         string   `koanf:"topic"`
	TransactionID string   `koanf:"transaction_id"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     30 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			RefreshRateLimit: 6,
		},
		Source: SourceConfig{
			Kind:     "sheets",
			URL:      DefaultSheetsURL,
			Timeout:  15 * time.Second,
			MaxBytes: 32 << 20,
			Location: "UTC",
			Kafka: KafkaConfig{
				Topic:  "bizdash.orders.export",
				Key:    "orders",
				Window: 5 * time.Second,
			},
			Breaker: BreakerConfig{
				MinRequests:  3,
				FailureRatio: 0.6,
				OpenTimeout:  2 * time.Minute,
			},
		},
		Refresh: RefreshConfig{
			Dataset:  "orders",
			Interval: 5 * time.Minute,
			OnStart:  true,
		},
		State: StateConfig{Backend: "memory"},
		Publish: PublishConfig{
			Sinks: []string{"log"},
			Topic: "bizdash.summary",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration: defaults, then the YAML file if one is
// found, then environment variables (BIZDASH_SOURCE_URL -> source.url).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// nestedSections keeps BIZDASH_SOURCE_KAFKA_TOPIC mapped to
// source.kafka.topic rather than source.kafka_topic.
var nestedSections = []string{"source_kafka_", "source_breaker_"}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, nested := range nestedSections {
		if strings.HasPrefix(key, nested) {
			parts := strings.SplitN(nested, "_", 2)
			return parts[0] + "." + strings.TrimSuffix(parts[1], "_") + "." + strings.TrimPrefix(key, nested)
		}
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

var listPaths = []string{"publish.sinks", "publish.brokers", "source.kafka.brokers"}

// splitListFields turns comma-separated env values into slices.
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var items []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks struct tags plus the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.Get().Struct(c); err != nil {
		return err
	}
	if c.Source.Kind == "sheets" {
		if err := validation.Get().Var(c.Source.URL, "required,url"); err != nil {
			return fmt.Errorf("source.url: %w", err)
		}
	}
	if c.Source.Kind == "kafka" && (len(c.Source.Kafka.Brokers) == 0 || c.Source.Kafka.Topic == "") {
		return errors.New("source.kafka.brokers and source.kafka.topic are required for the kafka source")
	}
	for _, s := range c.Publish.Sinks {
		switch s {
		case "kafka", "kafka-tx":
			if len(c.Publish.Brokers) == 0 || c.Publish.Topic == "" {
				return fmt.Errorf("publish.brokers and publish.topic are required for sink %q", s)
			}
		}
		if s == "kafka-tx" && c.Publish.TransactionID == "" {
			return errors.New("publish.transaction_id is required for sink kafka-tx")
		}
	}
	if _, err := time.LoadLocation(c.Source.Location); err != nil {
		return fmt.Errorf("source.location: %w", err)
	}
	return nil
}

// Location resolves Source.Location; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Source.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}
