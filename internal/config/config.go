package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime knob, loaded from the environment. A .env file
// is honored in development but never overrides variables already set.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Sale     SaleConfig
	Payment  PaymentConfig
	Database DatabaseConfig
	Redis    RedisConfig
	OTEL     OTELConfig
}

type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"SERVER_CORS_ORIGINS" default:""`
	APIRateLimitRPM int           `envconfig:"SERVER_API_RATE_LIMIT_RPM" default:"300"`
	Profile         string        `envconfig:"APP_PROFILE" default:"dev"`
}

type AuthConfig struct {
	Issuer             string        `envconfig:"AUTH_ISSUER" default:"flash-sale-reservation-service"`
	Audience           string        `envconfig:"AUTH_AUDIENCE" default:"flash-sale-api"`
	AccessSecret       string        `envconfig:"AUTH_ACCESS_SECRET" required:"true"`
	RefreshSecret      string        `envconfig:"AUTH_REFRESH_SECRET" required:"true"`
	ContextPepper      string        `envconfig:"AUTH_CONTEXT_PEPPER" required:"true"`
	AccessTTL          time.Duration `envconfig:"AUTH_ACCESS_TTL" default:"15m"`
	RefreshTTL         time.Duration `envconfig:"AUTH_REFRESH_TTL" default:"168h"`
	RotationGrace      time.Duration `envconfig:"AUTH_ROTATION_GRACE" default:"30s"`
	LoginRateLimitRPM  int           `envconfig:"AUTH_LOGIN_RATE_LIMIT_RPM" default:"30"`
	GoogleClientID     string        `envconfig:"AUTH_GOOGLE_CLIENT_ID" default:""`
	GoogleClientSecret string        `envconfig:"AUTH_GOOGLE_CLIENT_SECRET" default:""`
	GoogleRedirectURL  string        `envconfig:"AUTH_GOOGLE_REDIRECT_URL" default:""`
}

type SaleConfig struct {
	HoldDuration       time.Duration `envconfig:"SALE_HOLD_DURATION" default:"10m"`
	ReaperInterval     time.Duration `envconfig:"SALE_REAPER_INTERVAL" default:"2m"`
	WindowSweepEvery   time.Duration `envconfig:"SALE_WINDOW_SWEEP_INTERVAL" default:"3m"`
	ReaperBatchSize    int           `envconfig:"SALE_REAPER_BATCH_SIZE" default:"500"`
	ReserveRateLimitRPM int          `envconfig:"SALE_RESERVE_RATE_LIMIT_RPM" default:"60"`
}

type PaymentConfig struct {
	BaseURL       string        `envconfig:"PAYMENT_BASE_URL" default:"https://api.paystack.co"`
	Secret        string        `envconfig:"PAYMENT_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"PAYMENT_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
	CallbackURL   string        `envconfig:"PAYMENT_CALLBACK_URL" default:""`
}

type DatabaseConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	Path     string `envconfig:"DB_PATH" default:"./data/flashsale.db"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"flashsale"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASS" default:""`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type OTELConfig struct {
	ServiceName           string        `envconfig:"OTEL_SERVICE_NAME" default:"flash-sale-reservation-service"`
	Environment           string        `envconfig:"OTEL_ENVIRONMENT" default:"dev"`
	ExporterEndpoint      string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ExporterInsecure      bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	MetricsEnabled        bool          `envconfig:"OTEL_METRICS_ENABLED" default:"false"`
	TracesEnabled         bool          `envconfig:"OTEL_TRACES_ENABLED" default:"false"`
	LogsEnabled           bool          `envconfig:"OTEL_LOGS_ENABLED" default:"false"`
	MetricsExportInterval time.Duration `envconfig:"OTEL_METRICS_EXPORT_INTERVAL" default:"30s"`
	EnableOTelHTTP        bool          `envconfig:"OTEL_HTTP_ENABLED" default:"false"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (d *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Load reads configuration from the environment, loading .env first when
// present. Validation failures are reported with a "validate config:"
// prefix so the metrics classifier can distinguish them from parse errors.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Server.Profile, "error", classifyConfigLoadError(err))
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Server.Profile, "error", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Server.Profile, "success", "none")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Sale.HoldDuration <= 0 {
		return fmt.Errorf("validate config: SALE_HOLD_DURATION must be positive")
	}
	if c.Sale.ReaperInterval <= 0 || c.Sale.WindowSweepEvery <= 0 {
		return fmt.Errorf("validate config: reaper intervals must be positive")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("validate config: token TTLs must be positive")
	}
	if c.Auth.RotationGrace < 0 || c.Auth.RotationGrace >= c.Auth.AccessTTL {
		return fmt.Errorf("validate config: AUTH_ROTATION_GRACE must be shorter than AUTH_ACCESS_TTL")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}
