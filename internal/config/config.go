package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/content"
	"github.com/snapp-incubator/outlog/pkg/hook"
	"github.com/snapp-incubator/outlog/pkg/policy"
	"github.com/snapp-incubator/outlog/pkg/recorder"
)

// EnvPrefix prefixes environment overrides, e.g. LOG_OUTGOING_REQUESTS_DB_SAVE=true.
// Nested keys use a double underscore: LOG_OUTGOING_REQUESTS_STORAGE__TYPE=postgres.
const EnvPrefix = "LOG_OUTGOING_REQUESTS_"

var defaultConfig = Config{
	DBSave:           false,
	DBSaveBody:       false,
	ContentTypes:     content.DefaultRules(),
	EmitBody:         false,
	MaxContentLength: hook.DefaultCaptureLimit,
	PruneSchedule:    "@daily",
	ScrubHeaders:     []string{},
	RedactJSONPaths:  []string{},
	SkipRoutes:       []string{},
	LogLevel:         "warn",
	Storage: Storage{
		Type:   "sqlite",
		SQLite: SQLite{Path: "outlog.db"},
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://127.0.0.1:9200"},
			Index:     "outgoing-requests-log",
		},
	},
	Worker: worker{
		Count:        4,
		QueueSize:    1024,
		WriteTimeout: time.Second,
	},
	Metrics: metric{
		Enabled: true,
		Bind:    "0.0.0.0:9001",
	},
	Admin: admin{
		Enabled: false,
		Bind:    "127.0.0.1:9002",
	},
}

// Config is the outlog configuration.
type Config struct {
	DBSave           bool           `koanf:"db_save"`
	DBSaveBody       bool           `koanf:"db_save_body"`
	ContentTypes     []content.Rule `koanf:"content_types"`
	EmitBody         bool           `koanf:"emit_body"`           // Include bodies in the debug log output
	MaxContentLength int64          `koanf:"max_content_length"`  // Bytes; larger bodies are not saved
	MaxAge           *int           `koanf:"max_age"`             // Days to keep records; unset keeps them forever
	ResetDBSaveAfter *int           `koanf:"reset_db_save_after"` // Minutes before an explicit save_to_db reverts
	PruneSchedule    string         `koanf:"prune_schedule"`
	ScrubHeaders     []string       `koanf:"scrub_headers"`     // Masked in addition to Authorization
	RedactJSONPaths  []string       `koanf:"redact_json_paths"` // gjson paths masked in JSON bodies
	SkipRoutes       []string       `koanf:"skip_routes"`       // "METHOD:/path" patterns never recorded
	LogLevel         string         `koanf:"log_level"`         // Log level: "debug", "info", "warn", "error", "fatal"
	Storage          Storage        `koanf:"storage"`
	Worker           worker         `koanf:"worker"`
	Metrics          metric         `koanf:"metrics"`
	Admin            admin          `koanf:"admin"`
}

// Storage selects and configures the storage backend.
type Storage struct {
	Type          string        `koanf:"type"` // "sqlite", "postgres", "elasticsearch" or "stdout"
	SQLite        SQLite        `koanf:"sqlite"`
	Postgres      Postgres      `koanf:"postgres"`
	Elasticsearch Elasticsearch `koanf:"elasticsearch"`
}

type SQLite struct {
	Path string `koanf:"path"`
}

type Postgres struct {
	DSN string `koanf:"dsn"`
}

type Elasticsearch struct {
	Addresses              []string `koanf:"addresses"`
	Username               string   `koanf:"username"`
	Password               string   `koanf:"password"`
	CloudID                string   `koanf:"cloud_id"`
	APIKey                 string   `koanf:"api_key"`
	ServiceToken           string   `koanf:"service_token"`
	CertificateFingerprint string   `koanf:"certificate_fingerprint"`
	Index                  string   `koanf:"index"`
}

type worker struct {
	Count        int           `koanf:"count"`
	QueueSize    int           `koanf:"queue_size"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type metric struct {
	Enabled bool   `koanf:"enabled"`
	Bind    string `koanf:"bind"`
}

type admin struct {
	Enabled bool   `koanf:"enabled"`
	Bind    string `koanf:"bind"`
}

// Default returns a copy of the default configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// Load reads the defaults, then the YAML file at path (skipped when empty),
// then environment overrides.
func Load(path string) (*Config, error) {
	// Create a fresh koanf instance for each load to avoid state pollution
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error in loading the default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error in loading the config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error in loading the environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("error in unmarshalling the config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.MaxContentLength < 0 {
		return fmt.Errorf("max_content_length must be >= 0, got %d", c.MaxContentLength)
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return fmt.Errorf("max_age must be >= 0, got %d", *c.MaxAge)
	}
	if c.ResetDBSaveAfter != nil && *c.ResetDBSaveAfter < 0 {
		return fmt.Errorf("reset_db_save_after must be >= 0, got %d", *c.ResetDBSaveAfter)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err)
	}

	switch c.Storage.Type {
	case "sqlite", "postgres", "elasticsearch", "stdout":
	default:
		return fmt.Errorf("unknown storage type '%s'", c.Storage.Type)
	}

	for _, route := range c.SkipRoutes {
		_, path := recorder.ParseRoute(route)
		if !recorder.IsValidRoutePattern(path) {
			return fmt.Errorf("invalid route pattern in skip_routes: %s", route)
		}
	}

	return nil
}

// PolicyDefaults returns the global defaults of the persistence policy.
func (c *Config) PolicyDefaults() policy.Defaults {
	return policy.Defaults{
		DBSave:           c.DBSave,
		DBSaveBody:       c.DBSaveBody,
		MaxContentLength: c.MaxContentLength,
		ResetDBSaveAfter: c.ResetDBSaveAfter,
	}
}

// RecorderConfig returns the recorder settings.
func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		Workers:         c.Worker.Count,
		QueueSize:       c.Worker.QueueSize,
		WriteTimeout:    c.Worker.WriteTimeout,
		ContentTypes:    c.ContentTypes,
		ScrubHeaders:    c.ScrubHeaders,
		RedactJSONPaths: c.RedactJSONPaths,
		SkipRoutes:      c.SkipRoutes,
	}
}

// Watch reloads the config whenever the file at path changes and passes
// the new value to onChange. Invalid files are logged and ignored.
func Watch(path string, onChange func(*Config)) error {
	if path == "" {
		return nil
	}

	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			logging.L.Error("Config watcher failed", zap.Error(err))
			return
		}

		c, err := Load(path)
		if err != nil {
			logging.L.Error("Ignoring invalid config change", zap.String("path", path), zap.Error(err))
			return
		}

		logging.L.Info("Config reloaded", zap.String("path", path))
		onChange(c)
	})
}
