package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	DemoMode   bool             `yaml:"demo_mode"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	GinMode        string   `yaml:"gin_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SiteHost       string   `yaml:"site_host"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	DefaultAPIKey string `yaml:"default_api_key"`
}

// StorageConfig selects the backend for per-visitor device storage:
// "memory", "sqlite" or "redis".
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	QuotaBytes int    `yaml:"quota_bytes"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	ConversionCheckInterval time.Duration `yaml:"conversion_check_interval"`
	FlushInterval           time.Duration `yaml:"flush_interval"`
	OptimizeInterval        time.Duration `yaml:"optimize_interval"`
	ActiveVisitorTTL        time.Duration `yaml:"active_visitor_ttl"`
}

type TrackingConfig struct {
	AttributionWindow   time.Duration   `yaml:"attribution_window"`
	AttributionModel    string          `yaml:"attribution_model"`
	AttributionHalfLife time.Duration   `yaml:"attribution_half_life"`
	PositionWeights     PositionWeights `yaml:"position_weights"`
}

// PositionWeights is the first/middle/last split of the position_based
// model. All zero means the built-in 40/20/40 split.
type PositionWeights struct {
	First  float64 `yaml:"first"`
	Middle float64 `yaml:"middle"`
	Last   float64 `yaml:"last"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:4321"},
			SiteHost:       "localhost",
		},
		Storage: StorageConfig{
			Backend:    "memory",
			SQLitePath: "data/device_storage.db",
			QuotaBytes: 5 * 1024 * 1024,
		},
		Kafka: KafkaConfig{
			Topics: map[string]string{},
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ConversionCheckInterval: 10 * time.Second,
			FlushInterval:           30 * time.Second,
			OptimizeInterval:        5 * time.Minute,
			ActiveVisitorTTL:        30 * time.Minute,
		},
		Tracking: TrackingConfig{
			AttributionWindow: 30 * 24 * time.Hour,
			AttributionModel:  "position_based",
			PositionWeights:   PositionWeights{First: 0.4, Middle: 0.2, Last: 0.4},
		},
	}
}

// Load reads the YAML file at path on top of Default. Environment variables
// referenced as ${VAR} are expanded before parsing. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the variables the service has always read override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		c.Server.GinMode = v
	}
	if v := os.Getenv("FE_ORIGIN"); v != "" {
		c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, v)
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_DEFAULT"); v != "" {
		c.Auth.DefaultAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
}
