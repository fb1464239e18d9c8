// Package config loads recordsync settings from defaults, a TOML file, a .env
// file and RECORDSYNC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const EnvPrefix = "RECORDSYNC_"

type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Session SessionConfig `toml:"session"`
	Store   StoreConfig   `toml:"store"`
	Outbox  OutboxConfig  `toml:"outbox"`
	Sync    SyncConfig    `toml:"sync"`
}

type RemoteConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

type SessionConfig struct {
	Token          string `toml:"token"`
	OrganizationID string `toml:"organization_id"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

type OutboxConfig struct {
	DSN      string `toml:"dsn"`
	Capacity int    `toml:"capacity"`
}

type SyncConfig struct {
	Interval    Duration `toml:"interval"`
	Jitter      float64  `toml:"jitter"`
	RealtimeURL string   `toml:"realtime_url"`
	WatchStore  bool     `toml:"watch_store"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Remote: RemoteConfig{Timeout: Duration{15 * time.Second}},
		Store:  StoreConfig{DSN: "file://recordsync-data.json"},
		Outbox: OutboxConfig{Capacity: 1024},
		Sync: SyncConfig{
			Interval: Duration{5 * time.Minute},
			Jitter:   0.2,
		},
	}
}

type LoadOptions struct {
	// Path is the TOML file. Empty means RECORDSYNC_CONFIG, and no file when
	// that is unset too.
	Path string
	// EnvFile is loaded into the process environment without overriding
	// variables that are already set. A missing file is ignored.
	EnvFile string
}

func Load(opts LoadOptions) (Config, error) {
	cfg := Default()
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG"))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Remote.URL, "REMOTE_URL")
	setString(&cfg.Remote.APIKey, "REMOTE_API_KEY")
	setString(&cfg.Session.Token, "SESSION_TOKEN")
	setString(&cfg.Session.OrganizationID, "SESSION_ORGANIZATION_ID")
	setString(&cfg.Store.DSN, "STORE_DSN")
	setString(&cfg.Outbox.DSN, "OUTBOX_DSN")
	setString(&cfg.Sync.RealtimeURL, "SYNC_REALTIME_URL")

	if err := setDuration(&cfg.Remote.Timeout, "REMOTE_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Sync.Interval, "SYNC_INTERVAL"); err != nil {
		return err
	}
	if raw, ok := lookup("OUTBOX_CAPACITY"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%sOUTBOX_CAPACITY: %w", EnvPrefix, err)
		}
		cfg.Outbox.Capacity = n
	}
	if raw, ok := lookup("SYNC_JITTER"); ok {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%sSYNC_JITTER: %w", EnvPrefix, err)
		}
		cfg.Sync.Jitter = f
	}
	if raw, ok := lookup("SYNC_WATCH_STORE"); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%sSYNC_WATCH_STORE: %w", EnvPrefix, err)
		}
		cfg.Sync.WatchStore = b
	}
	return nil
}

func lookup(name string) (string, bool) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func setString(dst *string, name string) {
	if raw, ok := lookup(name); ok {
		*dst = raw
	}
}

func setDuration(dst *Duration, name string) error {
	raw, ok := lookup(name)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	dst.Duration = parsed
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return errors.New("store.dsn is required")
	}
	if c.Remote.URL != "" && c.Remote.APIKey == "" {
		return errors.New("remote.api_key is required when remote.url is set")
	}
	if c.Outbox.Capacity <= 0 {
		return fmt.Errorf("outbox.capacity must be positive, got %d", c.Outbox.Capacity)
	}
	if c.Sync.Interval.Duration <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval.Duration)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be within [0, 1], got %v", c.Sync.Jitter)
	}
	return nil
}

// RemoteEnabled reports whether a remote endpoint is configured.
func (c Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.Remote.URL) != ""
}
