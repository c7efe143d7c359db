package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Formsy/internal/utils"
)

// Config is the resolved runtime configuration: defaults, then the YAML file,
// then .env, then FORMSY_* environment variables.
type Config struct {
	Addr        string
	StaticDir   string
	CORSOrigins []string

	DBDriver      string
	SQLitePath    string
	PostgresURL   string
	MaxDBConns    int
	MigrationsDir string

	JWTSecret string
	TokenTTL  time.Duration

	LogLevel  string
	LogFormat string

	Relay RelayConfig
}

type RelayConfig struct {
	Enabled      bool
	Publisher    string
	RedisURL     string
	RedisKey     string
	KafkaBrokers []string
	KafkaTopic   string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type configFile struct {
	Server struct {
		Addr        string   `yaml:"addr"`
		StaticDir   string   `yaml:"static_dir"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database struct {
		Driver        string `yaml:"driver"`
		SQLitePath    string `yaml:"sqlite_path"`
		PostgresURL   string `yaml:"postgres_url"`
		MaxConns      int    `yaml:"max_conns"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Relay struct {
		Enabled      *bool    `yaml:"enabled"`
		Publisher    string   `yaml:"publisher"`
		RedisURL     string   `yaml:"redis_url"`
		RedisKey     string   `yaml:"redis_key"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
		PollInterval string   `yaml:"poll_interval"`
		BatchSize    int      `yaml:"batch_size"`
		MaxAttempts  int      `yaml:"max_attempts"`
	} `yaml:"relay"`
}

func Default() Config {
	return Config{
		Addr:          ":8080",
		DBDriver:      "sqlite",
		SQLitePath:    "data/formsy.db",
		MaxDBConns:    10,
		MigrationsDir: "",
		TokenTTL:      7 * 24 * time.Hour,
		LogLevel:      "info",
		LogFormat:     "json",
		Relay: RelayConfig{
			Enabled:      true,
			Publisher:    "log",
			RedisKey:     "formsy:export_jobs",
			KafkaTopic:   "formsy.export-jobs",
			PollInterval: 2 * time.Second,
			BatchSize:    50,
			MaxAttempts:  5,
		},
	}
}

// Load resolves configuration. A missing YAML or .env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if envFile != "" {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setString(&cfg.Addr, f.Server.Addr)
	setString(&cfg.StaticDir, f.Server.StaticDir)
	if len(f.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.Server.CORSOrigins
	}
	setString(&cfg.DBDriver, f.Database.Driver)
	setString(&cfg.SQLitePath, f.Database.SQLitePath)
	setString(&cfg.PostgresURL, f.Database.PostgresURL)
	setString(&cfg.MigrationsDir, f.Database.MigrationsDir)
	if f.Database.MaxConns > 0 {
		cfg.MaxDBConns = f.Database.MaxConns
	}
	setString(&cfg.JWTSecret, f.Auth.JWTSecret)
	if err := setDuration(&cfg.TokenTTL, f.Auth.TokenTTL, "auth.token_ttl"); err != nil {
		return err
	}
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)

	if f.Relay.Enabled != nil {
		cfg.Relay.Enabled = *f.Relay.Enabled
	}
	setString(&cfg.Relay.Publisher, f.Relay.Publisher)
	setString(&cfg.Relay.RedisURL, f.Relay.RedisURL)
	setString(&cfg.Relay.RedisKey, f.Relay.RedisKey)
	if len(f.Relay.KafkaBrokers) > 0 {
		cfg.Relay.KafkaBrokers = f.Relay.KafkaBrokers
	}
	setString(&cfg.Relay.KafkaTopic, f.Relay.KafkaTopic)
	if err := setDuration(&cfg.Relay.PollInterval, f.Relay.PollInterval, "relay.poll_interval"); err != nil {
		return err
	}
	if f.Relay.BatchSize > 0 {
		cfg.Relay.BatchSize = f.Relay.BatchSize
	}
	if f.Relay.MaxAttempts > 0 {
		cfg.Relay.MaxAttempts = f.Relay.MaxAttempts
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = utils.SafeEnv("FORMSY_ADDR", cfg.Addr)
	cfg.StaticDir = utils.SafeEnv("FORMSY_STATIC_DIR", cfg.StaticDir)
	cfg.CORSOrigins = utils.EnvCSV("FORMSY_CORS_ORIGINS", cfg.CORSOrigins)

	cfg.DBDriver = strings.ToLower(utils.SafeEnv("FORMSY_DB_DRIVER", cfg.DBDriver))
	cfg.SQLitePath = utils.SafeEnv("FORMSY_SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresURL = utils.SafeEnv("FORMSY_POSTGRES_URL", cfg.PostgresURL)
	cfg.MaxDBConns = utils.EnvInt("FORMSY_DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.MigrationsDir = utils.SafeEnv("FORMSY_MIGRATIONS_DIR", cfg.MigrationsDir)

	cfg.JWTSecret = utils.SafeEnv("FORMSY_JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = utils.EnvDuration("FORMSY_TOKEN_TTL", cfg.TokenTTL)

	cfg.LogLevel = strings.ToLower(utils.SafeEnv("FORMSY_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(utils.SafeEnv("FORMSY_LOG_FORMAT", cfg.LogFormat))

	cfg.Relay.Enabled = utils.EnvBool("FORMSY_RELAY_ENABLED", cfg.Relay.Enabled)
	cfg.Relay.Publisher = strings.ToLower(utils.SafeEnv("FORMSY_RELAY_PUBLISHER", cfg.Relay.Publisher))
	cfg.Relay.RedisURL = utils.SafeEnv("FORMSY_REDIS_URL", cfg.Relay.RedisURL)
	cfg.Relay.RedisKey = utils.SafeEnv("FORMSY_REDIS_KEY", cfg.Relay.RedisKey)
	cfg.Relay.KafkaBrokers = utils.EnvCSV("FORMSY_KAFKA_BROKERS", cfg.Relay.KafkaBrokers)
	cfg.Relay.KafkaTopic = utils.SafeEnv("FORMSY_KAFKA_TOPIC", cfg.Relay.KafkaTopic)
	cfg.Relay.PollInterval = utils.EnvDuration("FORMSY_RELAY_POLL_INTERVAL", cfg.Relay.PollInterval)
	cfg.Relay.BatchSize = utils.EnvInt("FORMSY_RELAY_BATCH_SIZE", cfg.Relay.BatchSize)
	cfg.Relay.MaxAttempts = utils.EnvInt("FORMSY_RELAY_MAX_ATTEMPTS", cfg.Relay.MaxAttempts)
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("sqlite driver requires a sqlite path")
		}
	case "postgres":
		if c.PostgresURL == "" {
			return errors.New("postgres driver requires FORMSY_POSTGRES_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	switch c.Relay.Publisher {
	case "log":
	case "redis":
		if c.Relay.RedisURL == "" {
			return errors.New("redis publisher requires FORMSY_REDIS_URL")
		}
	case "kafka":
		if len(c.Relay.KafkaBrokers) == 0 {
			return errors.New("kafka publisher requires FORMSY_KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown relay publisher %q", c.Relay.Publisher)
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}
