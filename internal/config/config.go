package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix     = "DATACHAT"
	envConfigPath = "DATACHAT_CONFIG"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Dataset     DatasetConfig             `mapstructure:"dataset"`
	Analysis    AnalysisConfig            `mapstructure:"analysis"`
	Session     SessionConfig             `mapstructure:"session"`
	Workers     WorkerConfig              `mapstructure:"workers"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`

	// path of the file the config was read from, empty when running on defaults
	source string
}

type BasicConfig struct {
	ServerAddress string `mapstructure:"server_address"`
	LogLevel      string `mapstructure:"log_level"`
	// CookieSecure marks session cookies Secure; enable behind TLS.
	CookieSecure bool `mapstructure:"cookie_secure"`
}

type DatasetConfig struct {
	Path       string `mapstructure:"path"`
	SampleRows int    `mapstructure:"sample_rows"`
	MaxColumns int    `mapstructure:"max_columns"`
}

type AnalysisConfig struct {
	Provider       string `mapstructure:"provider"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SessionConfig struct {
	// Backend is one of memory, sqlite3, mysql, redis.
	Backend              string `mapstructure:"backend"`
	IdleTimeoutMinutes   int    `mapstructure:"idle_timeout"`
	CleanIntervalMinutes int    `mapstructure:"clean_interval"`
}

// WorkerConfig bounds concurrent model calls.
type WorkerConfig struct {
	MinWorkers        int `mapstructure:"min_workers"`
	MaxWorkers        int `mapstructure:"max_workers"`
	QueueSize         int `mapstructure:"queue_size"`
	WorkerIdleTimeout int `mapstructure:"worker_idle_timeout"` // seconds
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Load reads configuration from the provided path, DATACHAT_CONFIG, or ./config.json.
// A missing default file is not an error; the defaults apply.
// Precedence: env > config file > defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := true
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = "config.json"
		explicit = false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	source := ""
	if _, statErr := os.Stat(absPath); statErr == nil {
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		source = absPath
	} else if explicit {
		return nil, fmt.Errorf("open config %s: %w", absPath, statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.source = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source != "" {
		dir := filepath.Dir(source)
		if !filepath.IsAbs(cfg.Dataset.Path) {
			cfg.Dataset.Path = filepath.Join(dir, cfg.Dataset.Path)
		}
		if db, ok := cfg.Databases["sqlite3"]; ok {
			db.DSN = resolveSQLiteDSN(dir, db.DSN)
			cfg.Databases["sqlite3"] = db
		}
	}
	return &cfg, nil
}

// resolveSQLiteDSN anchors a relative database file in dsn at dir. In-memory
// databases and absolute paths are returned unchanged, as are the "file:"
// prefix and query parameters.
func resolveSQLiteDSN(dir, dsn string) string {
	prefix, rest := "", dsn
	if strings.HasPrefix(rest, "file:") {
		prefix, rest = "file:", strings.TrimPrefix(rest, "file:")
	}
	name, query, hasQuery := strings.Cut(rest, "?")
	if name == "" || name == ":memory:" || filepath.IsAbs(name) || strings.HasPrefix(name, "//") {
		return dsn
	}
	if hasQuery && strings.Contains(query, "mode=memory") {
		return dsn
	}
	out := prefix + filepath.Join(dir, name)
	if hasQuery {
		out += "?" + query
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.cookie_secure", false)

	v.SetDefault("dataset.path", "data/insurance.csv")
	v.SetDefault("dataset.sample_rows", 5)
	v.SetDefault("dataset.max_columns", 64)

	v.SetDefault("analysis.provider", "claude")
	v.SetDefault("analysis.max_tokens", 2000)
	v.SetDefault("analysis.timeout_seconds", 120)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.idle_timeout", 120)
	v.SetDefault("session.clean_interval", 10)

	v.SetDefault("workers.min_workers", 1)
	v.SetDefault("workers.max_workers", 8)
	v.SetDefault("workers.queue_size", 64)
	v.SetDefault("workers.worker_idle_timeout", 30)

	v.SetDefault("providers.claude.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")

	v.SetDefault("databases.sqlite3.dsn", "file:datachat?mode=memory&cache=shared")
	v.SetDefault("databases.mysql.host", "127.0.0.1")
	v.SetDefault("databases.mysql.port", 3306)
	v.SetDefault("databases.mysql.db_name", "datachat")
	v.SetDefault("databases.mysql.params", "parseTime=true")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "datachat:session:")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dataset.Path) == "" {
		return errors.New("dataset.path must be configured")
	}
	if c.Analysis.MaxTokens <= 0 {
		return errors.New("analysis.max_tokens must be positive")
	}
	if _, ok := c.Providers[c.Analysis.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.Analysis.Provider)
	}
	if c.Workers.MaxWorkers <= 0 || c.Workers.MinWorkers > c.Workers.MaxWorkers {
		return fmt.Errorf("workers: need 0 < min_workers <= max_workers, got %d/%d", c.Workers.MinWorkers, c.Workers.MaxWorkers)
	}
	switch c.Session.Backend {
	case "memory", "sqlite", "sqlite3", "mysql", "redis":
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	return nil
}

// Source reports the config file in use, or "" when running on defaults.
func (c *Config) Source() string {
	return c.source
}

// AnalysisTimeout returns the per-call timeout; zero means none.
func (c *Config) AnalysisTimeout() time.Duration {
	if c.Analysis.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Analysis.TimeoutSeconds) * time.Second
}

// IdleTimeout is how long an untouched session survives.
func (c *Config) IdleTimeout() time.Duration {
	if c.Session.IdleTimeoutMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

// CleanInterval is how often the janitor scans for idle sessions.
func (c *Config) CleanInterval() time.Duration {
	if c.Session.CleanIntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Session.CleanIntervalMinutes) * time.Minute
}

// WorkerIdle is how long a surplus worker may sit idle before it exits.
func (c *Config) WorkerIdle() time.Duration {
	if c.Workers.WorkerIdleTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Workers.WorkerIdleTimeout) * time.Second
}
