package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/helpdesk/pkg/util/retry"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Auth         AuthConfig         `yaml:"auth"`
	Queue        QueueConfig        `yaml:"queue"`
	Notification NotificationConfig `yaml:"notification"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	// Timezone decides calendar days in the open-queue ordering.
	Timezone string `yaml:"timezone"`
	// SeedUsersFile is a YAML directory loaded at start when set.
	SeedUsersFile string `yaml:"seed_users_file"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	MigrationsDir  string `yaml:"migrations_dir"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	// DialTimeoutSeconds bounds connecting and the startup ping.
	DialTimeoutSeconds int `yaml:"dial_timeout_seconds"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
	// Format is json or console.
	Format      string `yaml:"format"`
	Development bool   `yaml:"development"`
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// QueueConfig bounds the distribution engine and state machine operations.
type QueueConfig struct {
	OperationTimeoutSeconds    int `yaml:"operation_timeout_seconds"`
	RetryAttempts              int `yaml:"retry_attempts"`
	RetryBaseDelayMillis       int `yaml:"retry_base_delay_millis"`
	RedistributeLockTTLSeconds int `yaml:"redistribute_lock_ttl_seconds"`
}

// NotificationConfig holds mailbox and SMTP settings.
type NotificationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	EmailFrom      string `yaml:"email_from"`
	SupportMailbox string `yaml:"support_mailbox"`
	FinanceMailbox string `yaml:"finance_mailbox"`
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	SMTPUsername   string `yaml:"smtp_username"`
	SMTPPassword   string `yaml:"smtp_password"`
	AppURL         string `yaml:"app_url"`
	QueueSize      int    `yaml:"queue_size"`
	SendAttempts   int    `yaml:"send_attempts"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Name:                  "helpdesk",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
			Timezone:              "America/Sao_Paulo",
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			MigrationsDir:  "migrations",
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			Addr:          "127.0.0.1:6379",
			ChannelPrefix:      "helpdesk:changes:",
			DialTimeoutSeconds: 3,
		},
		Logger: LoggerConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
		},
		Queue: QueueConfig{
			OperationTimeoutSeconds:    10,
			RetryAttempts:              3,
			RetryBaseDelayMillis:       100,
			RedistributeLockTTLSeconds: 30,
		},
		Notification: NotificationConfig{
			Enabled:        true,
			EmailFrom:      "noreply@tecassistiva.com.br",
			SupportMailbox: "suporte@tecassistiva.com.br",
			FinanceMailbox: "administrativo1@tecassistiva.com.br",
			SMTPPort:       587,
			AppURL:         "http://localhost:8080",
			QueueSize:      256,
			SendAttempts:   3,
		},
	}
}

// Load reads configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", strconv.Itoa(cfg.Redis.DB)))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.App = AppConfig{
		Name:                  getEnv("APP_NAME", cfg.App.Name),
		Env:                   getEnv("APP_ENV", cfg.App.Env),
		Host:                  getEnv("APP_HOST", cfg.App.Host),
		Port:                  getEnv("APP_PORT", cfg.App.Port),
		Version:               getEnv("APP_VERSION", cfg.App.Version),
		RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds),
		Timezone:              getEnv("APP_TIMEZONE", cfg.App.Timezone),
		SeedUsersFile:         getEnv("APP_SEED_USERS_FILE", cfg.App.SeedUsersFile),
	}
	cfg.Postgres = PostgresConfig{
		DSN:            getEnv("POSTGRES_DSN", cfg.Postgres.DSN),
		MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns))),
		MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns))),
		RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations),
		MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", cfg.Postgres.MigrationsDir),
		ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec))),
		ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec))),
	}
	cfg.Redis = RedisConfig{
		Addr:          getEnv("REDIS_ADDR", cfg.Redis.Addr),
		Password:      getEnv("REDIS_PASSWORD", cfg.Redis.Password),
		DB:            redisDB,
		ChannelPrefix:      getEnv("REDIS_CHANNEL_PREFIX", cfg.Redis.ChannelPrefix),
		DialTimeoutSeconds: getEnvAsInt("REDIS_DIAL_TIMEOUT_SECONDS", cfg.Redis.DialTimeoutSeconds),
	}
	cfg.Logger = LoggerConfig{
		Level:       getEnv("LOG_LEVEL", cfg.Logger.Level),
		Format:      strings.ToLower(getEnv("LOG_FORMAT", cfg.Logger.Format)),
		Development: getEnvAsBool("LOG_DEVELOPMENT", cfg.Logger.Development),
	}
	cfg.Auth = AuthConfig{
		JWTSecret:             getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret),
		AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes),
	}
	cfg.Queue = QueueConfig{
		OperationTimeoutSeconds:    getEnvAsInt("QUEUE_OPERATION_TIMEOUT_SECONDS", cfg.Queue.OperationTimeoutSeconds),
		RetryAttempts:              getEnvAsInt("QUEUE_RETRY_ATTEMPTS", cfg.Queue.RetryAttempts),
		RetryBaseDelayMillis:       getEnvAsInt("QUEUE_RETRY_BASE_DELAY_MILLIS", cfg.Queue.RetryBaseDelayMillis),
		RedistributeLockTTLSeconds: getEnvAsInt("QUEUE_REDISTRIBUTE_LOCK_TTL_SECONDS", cfg.Queue.RedistributeLockTTLSeconds),
	}
	n := cfg.Notification
	cfg.Notification = NotificationConfig{
		Enabled:        getEnvAsBool("NOTIFY_ENABLED", n.Enabled),
		EmailFrom:      getEnv("NOTIFY_EMAIL_FROM", n.EmailFrom),
		SupportMailbox: getEnv("NOTIFY_SUPPORT_MAILBOX", n.SupportMailbox),
		FinanceMailbox: getEnv("NOTIFY_FINANCE_MAILBOX", n.FinanceMailbox),
		SMTPHost:       getEnv("SMTP_HOST", n.SMTPHost),
		SMTPPort:       getEnvAsInt("SMTP_PORT", n.SMTPPort),
		SMTPUsername:   getEnv("SMTP_USERNAME", n.SMTPUsername),
		SMTPPassword:   getEnv("SMTP_PASSWORD", n.SMTPPassword),
		AppURL:         getEnv("APP_URL", n.AppURL),
		QueueSize:      getEnvAsInt("NOTIFY_QUEUE_SIZE", n.QueueSize),
		SendAttempts:   getEnvAsInt("NOTIFY_SEND_ATTEMPTS", n.SendAttempts),
	}

	if _, err := cfg.App.Location(); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}
	if cfg.Logger.Format != "json" && cfg.Logger.Format != "console" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want json or console", cfg.Logger.Format)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// OperationTimeout bounds a single engine or state-machine operation.
func (q QueueConfig) OperationTimeout() time.Duration {
	if q.OperationTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(q.OperationTimeoutSeconds) * time.Second
}

// RetryPolicy returns the retry bounds for transient storage failures.
func (q QueueConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts:  q.RetryAttempts,
		BaseDelay: time.Duration(q.RetryBaseDelayMillis) * time.Millisecond,
	}
}

// DialTimeout bounds Redis connection attempts.
func (r RedisConfig) DialTimeout() time.Duration {
	if r.DialTimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(r.DialTimeoutSeconds) * time.Second
}

// RedistributeLockTTL is how long one redistribution run may hold its lock.
func (q QueueConfig) RedistributeLockTTL() time.Duration {
	return time.Duration(q.RedistributeLockTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
