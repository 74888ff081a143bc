package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment-driven configuration of the service.
// Parsing is a single env.Parse pass over the struct tags; validation runs
// once at load and the process refuses to start on a bad profile.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Relational store. The driver is chosen here, at process start.
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"file:throttlecove.db?_pragma=foreign_keys(1)"`

	// Rate limiting backend: "local" keeps counters in process memory,
	// "redis" shares them across replicas.
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"local"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	AuthRateLimitRPM int    `env:"AUTH_RATE_LIMIT_RPM" envDefault:"30"`
	APIRateLimitRPM  int    `env:"API_RATE_LIMIT_RPM" envDefault:"300"`

	// Token signing. The two secrets must differ so one leak does not
	// compromise both token kinds.
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"throttlecove"`
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	RefreshTokenPepper string        `env:"REFRESH_TOKEN_PEPPER"`

	// Credential hardening.
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"12"`
	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`

	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1h"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"throttlecove"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracesEnabled         bool          `env:"OTEL_TRACES_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.RateLimitBackend != "local" && c.RateLimitBackend != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend))
	}
	if len(c.AccessTokenSecret) < 32 {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET must be at least 32 bytes"))
	}
	if len(c.RefreshTokenSecret) < 32 {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET must be at least 32 bytes"))
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}
	if c.MaxLoginAttempts < 1 {
		errs = append(errs, errors.New("MAX_LOGIN_ATTEMPTS must be at least 1"))
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost))
	}
	return errors.Join(errs...)
}

func (c *Config) Production() bool { return c.AppEnv == "production" }
