package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"panelcal/internal/store"
)

// NOTE: YAML is the source of truth. PANELCAL_* environment variables
// (optionally from a .env file) override it at startup and are never
// written back.

const (
	defaultListen       = "127.0.0.1:8080"
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
	defaultMaxRangeDays = 366
	defaultAgendaCron   = "0 7 * * *"
	defaultStorePath    = "./var/panelcal-store.json"
	defaultSQLitePath   = "./var/panelcal.db"
	defaultKeyPrefix    = "panelcal:"

	envPrefix = "PANELCAL_"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects and configures the persistent key/value backend.
type StoreConfig struct {
	// Backend is one of file, memory, redis, sqlite, postgres.
	Backend string `yaml:"backend" json:"backend"`
	// Path is the JSON document (file) or database file (sqlite).
	Path string `yaml:"path" json:"path"`

	RedisAddr      string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword  string `yaml:"redis_password,omitempty" json:"-"`
	RedisDB        int    `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	RedisKeyPrefix string `yaml:"redis_key_prefix,omitempty" json:"redis_key_prefix,omitempty"`

	PostgresDSN string `yaml:"postgres_dsn,omitempty" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose midnights define calendar dates.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// MaxRangeDays caps range queries.
	MaxRangeDays int `yaml:"max_range_days" json:"max_range_days"`

	// AgendaCron is the schedule of the daily agenda log line. "-" disables it.
	AgendaCron string `yaml:"agenda_cron" json:"agenda_cron"`

	Store StoreConfig `yaml:"store" json:"store"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
		MaxRangeDays: defaultMaxRangeDays,
		AgendaCron:   defaultAgendaCron,
		Store: StoreConfig{
			Backend: store.BackendFile,
			Path:    defaultStorePath,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = defaultLogFormat
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = defaultMaxRangeDays
	}
	if c.AgendaCron == "" {
		c.AgendaCron = defaultAgendaCron
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = store.BackendFile
	}
	if c.Store.Path == "" {
		switch c.Store.Backend {
		case store.BackendFile:
			c.Store.Path = defaultStorePath
		case store.BackendSQLite:
			c.Store.Path = defaultSQLitePath
		}
	}
	if c.Store.Backend == store.BackendRedis && c.Store.RedisKeyPrefix == "" {
		c.Store.RedisKeyPrefix = defaultKeyPrefix
	}

	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.AgendaEnabled() {
		if _, err := cron.ParseStandard(c.AgendaCron); err != nil {
			return fmt.Errorf("config: agenda_cron %q: %w", c.AgendaCron, err)
		}
	}
	switch c.Store.Backend {
	case store.BackendFile, store.BackendMemory, store.BackendSQLite:
	case store.BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("config: store.redis_addr is required for the redis backend")
		}
	case store.BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("config: store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: %w: %q", store.ErrUnknownBackend, c.Store.Backend)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AgendaEnabled reports whether the agenda job should be scheduled.
func (c *Config) AgendaEnabled() bool {
	return c.AgendaCron != "" && c.AgendaCron != "-"
}

// StoreOptions maps the store section onto store.Open options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend: c.Store.Backend,
		Path:    c.Store.Path,
		Redis: store.RedisOptions{
			Addr:      c.Store.RedisAddr,
			Password:  c.Store.RedisPassword,
			DB:        c.Store.RedisDB,
			KeyPrefix: c.Store.RedisKeyPrefix,
		},
		PostgresDSN: c.Store.PostgresDSN,
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from PANELCAL_* variables found through lookup,
// typically os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &cfg.Listen)
	str("TIMEZONE", &cfg.Timezone)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("AGENDA_CRON", &cfg.AgendaCron)
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_PATH", &cfg.Store.Path)
	str("REDIS_ADDR", &cfg.Store.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Store.RedisPassword)
	str("REDIS_KEY_PREFIX", &cfg.Store.RedisKeyPrefix)
	str("POSTGRES_DSN", &cfg.Store.PostgresDSN)
	if err := num("MAX_RANGE_DAYS", &cfg.MaxRangeDays); err != nil {
		return err
	}
	if err := num("REDIS_DB", &cfg.Store.RedisDB); err != nil {
		return err
	}

	user, userOK := lookup(envPrefix + "AUTH_USERNAME")
	pass, passOK := lookup(envPrefix + "AUTH_PASSWORD")
	if userOK || passOK {
		if cfg.BasicAuth == nil {
			cfg.BasicAuth = &BasicAuthConfig{}
		}
		if userOK {
			cfg.BasicAuth.Username = user
		}
		if passOK {
			cfg.BasicAuth.Password = pass
		}
	}

	cfg.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether a read-only location is fatal.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with 0600
// permissions on the result.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".panelcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
