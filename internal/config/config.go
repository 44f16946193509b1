// Package config loads and validates glossarizer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// State store backends and catalog kinds accepted by Validate.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	CatalogLocal = "local"
	CatalogGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Auth     AuthConfig              `mapstructure:"auth"`
	Crawl    CrawlConfig             `mapstructure:"crawl"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Store    StoreConfig             `mapstructure:"store"`
	Catalog  CatalogConfig           `mapstructure:"catalog"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Portals  []glossary.PortalConfig `mapstructure:"portals"`
}

// ServerConfig controls the inspection API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs pass execution and the shared fetch client.
type CrawlConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyMB      int    `mapstructure:"max_body_mb"`
}

// HeadlessConfig configures the chromedp pager used for script-rendered
// asset pages.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StoreConfig selects and configures the crawl state store backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	DSN        string `mapstructure:"dsn"`
	StateTable string `mapstructure:"state_table"`
	PassTable  string `mapstructure:"pass_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// CatalogConfig selects where pass output catalogs land.
type CatalogConfig struct {
	Kind   string `mapstructure:"kind"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds the pass-completion event topic. Both fields empty
// means events are dropped.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. An explicit path must
// exist; with no path the usual locations are searched and a missing file
// just means defaults plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLOSSARIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("glossarizer")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/glossarizer/")
		v.AddConfigPath("$HOME/.glossarizer")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.user_agent", "glossarizer-bot/0.1 (+https://github.com/urban-physiology/glossarizer)")
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.max_body_mb", 32)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.path", "glossarizer.db")
	v.SetDefault("store.state_table", "crawl_state")
	v.SetDefault("store.pass_table", "pass_log")
	v.SetDefault("catalog.kind", CatalogLocal)
	v.SetDefault("catalog.dir", "catalogs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the sqlite backend")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, sqlite, postgres", c.Store.Backend)
	}

	switch c.Catalog.Kind {
	case CatalogLocal:
		if c.Catalog.Dir == "" {
			return fmt.Errorf("catalog.dir must be set for the local catalog")
		}
	case CatalogGCS:
		if c.Catalog.Bucket == "" {
			return fmt.Errorf("catalog.bucket must be set for the gcs catalog")
		}
	default:
		return fmt.Errorf("catalog.kind %q is not one of local, gcs", c.Catalog.Kind)
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}

	seen := make(map[string]struct{}, len(c.Portals))
	for _, p := range c.Portals {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("portals: %w", err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("portals: duplicate portal id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Timeout returns the per-request fetch deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// MaxBodyBytes converts the configured response body cap to bytes.
func (c Config) MaxBodyBytes() int {
	return c.Crawl.MaxBodyMB << 20
}

// NavTimeout returns the headless navigation deadline.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Portal returns the configured portal with the given id.
func (c Config) Portal(id string) (glossary.PortalConfig, bool) {
	for _, p := range c.Portals {
		if p.ID == id {
			return p, true
		}
	}
	return glossary.PortalConfig{}, false
}
