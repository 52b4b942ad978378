package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Fetch    FetchConfig    `toml:"fetch"`
	Worker   WorkerConfig   `toml:"worker"`
	Redis    RedisConfig    `toml:"redis"`
	Log      LogConfig      `toml:"log"`

	ControlAddr string `toml:"control_addr"`
}

type StoreConfig struct {
	Driver     string `toml:"driver"` // postgres | sqlite
	SQLitePath string `toml:"sqlite_path"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type FetchConfig struct {
	DefaultInterval time.Duration `toml:"default_interval"`
	Timeout         time.Duration `toml:"timeout"`
	UserAgent       string        `toml:"user_agent"`
	RetryDelay      time.Duration `toml:"retry_delay"`
	// Negative retries forever.
	MaxRetries     int           `toml:"max_retries"`
	LeaseTTL       time.Duration `toml:"lease_ttl"`
	DedupeEntries  bool          `toml:"dedupe_entries"`
	SnapshotPolicy string        `toml:"snapshot_policy"` // always | newer
}

type WorkerConfig struct {
	Count     int `toml:"count"`
	QueueSize int `toml:"queue_size"`
}

// RedisConfig selects the Redis task registry. An empty Addr keeps tasks in
// memory.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Key      string `toml:"key"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
	File   string `toml:"file"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{Driver: "postgres", SQLitePath: "feedpipe.db"},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "changeme",
			Database: "feedpipe",
			SSLMode:  "disable",
		},
		Fetch: FetchConfig{
			DefaultInterval: 30 * time.Minute,
			Timeout:         20 * time.Second,
			UserAgent:       "feedpipe/1.0",
			RetryDelay:      5 * time.Minute,
			MaxRetries:      3,
			LeaseTTL:        15 * time.Minute,
			SnapshotPolicy:  "always",
		},
		Worker: WorkerConfig{Count: 3, QueueSize: 256},
		Redis:  RedisConfig{Key: "feedpipe:periodic-tasks"},
		Log:    LogConfig{Level: "info", Format: "text"},

		ControlAddr: "127.0.0.1:8088",
	}
}

// Load layers defaults, the optional TOML file at path, .env files and the
// process environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	loadDotEnvs("")
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnvs never overrides variables that are already set, so the most
// specific file is loaded first.
func loadDotEnvs(root string) {
	env := os.Getenv("FEEDPIPE_ENV")
	if env == "" {
		env = "dev"
	}
	_ = godotenv.Load(root + ".env." + env + ".local")
	_ = godotenv.Load(root + ".env.local")
	_ = godotenv.Load(root + ".env." + env)
	_ = godotenv.Load(root + ".env")
}

func applyEnv(c *Config) {
	c.Store.Driver = getenv("FEEDPIPE_STORE", c.Store.Driver)
	c.Store.SQLitePath = getenv("FEEDPIPE_SQLITE_PATH", c.Store.SQLitePath)

	c.Postgres.Host = getenv("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = parseIntEnv("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = getenv("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = getenv("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = getenv("POSTGRES_DBNAME", c.Postgres.Database)
	c.Postgres.SSLMode = getenv("POSTGRES_SSLMODE", c.Postgres.SSLMode)

	c.Fetch.DefaultInterval = parseDurationEnv("FEEDPIPE_FETCH_INTERVAL", c.Fetch.DefaultInterval)
	c.Fetch.Timeout = parseDurationEnv("FEEDPIPE_FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.UserAgent = getenv("FEEDPIPE_USER_AGENT", c.Fetch.UserAgent)
	c.Fetch.RetryDelay = parseDurationEnv("FEEDPIPE_RETRY_DELAY", c.Fetch.RetryDelay)
	c.Fetch.MaxRetries = parseIntEnv("FEEDPIPE_MAX_RETRIES", c.Fetch.MaxRetries)
	c.Fetch.LeaseTTL = parseDurationEnv("FEEDPIPE_LEASE_TTL", c.Fetch.LeaseTTL)
	c.Fetch.DedupeEntries = parseBoolEnv("FEEDPIPE_DEDUPE_ENTRIES", c.Fetch.DedupeEntries)
	c.Fetch.SnapshotPolicy = getenv("FEEDPIPE_SNAPSHOT_POLICY", c.Fetch.SnapshotPolicy)

	c.Worker.Count = parseIntEnv("FEEDPIPE_WORKERS", c.Worker.Count)
	c.Worker.QueueSize = parseIntEnv("FEEDPIPE_QUEUE_SIZE", c.Worker.QueueSize)

	c.Redis.Addr = getenv("FEEDPIPE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("FEEDPIPE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = parseIntEnv("FEEDPIPE_REDIS_DB", c.Redis.DB)

	c.Log.Level = getenv("FEEDPIPE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("FEEDPIPE_LOG_FORMAT", c.Log.Format)
	c.Log.File = getenv("FEEDPIPE_LOG_FILE", c.Log.File)

	c.ControlAddr = getenv("FEEDPIPE_CONTROL_ADDR", c.ControlAddr)
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Fetch.SnapshotPolicy {
	case "always", "newer":
	default:
		return fmt.Errorf("unknown snapshot policy %q", c.Fetch.SnapshotPolicy)
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be > 0, got %d", c.Worker.Count)
	}
	if c.Fetch.DefaultInterval <= 0 {
		return fmt.Errorf("default fetch interval must be > 0")
	}
	if c.Fetch.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be > 0")
	}
	if c.Fetch.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be > 0")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
