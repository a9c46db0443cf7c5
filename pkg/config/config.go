package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "PRINTBOUND_APP_ENV"
	EnvDBDSN  = "PRINTBOUND_DB_DSN"
	EnvDBHost = "PRINTBOUND_DB_HOST"
	EnvDBUser = "PRINTBOUND_DB_USER"
	EnvDBName = "PRINTBOUND_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Mailer       MailerConfig
	Issues       IssuesConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PRINTBOUND_APP_ENV" required:"true"`
	Port         string `envconfig:"PRINTBOUND_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PRINTBOUND_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PRINTBOUND_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PRINTBOUND_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PRINTBOUND_DB_DSN"`
	Driver string `envconfig:"PRINTBOUND_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PRINTBOUND_DB_HOST"`
	LegacyPort     int    `envconfig:"PRINTBOUND_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PRINTBOUND_DB_USER"`
	LegacyPassword string `envconfig:"PRINTBOUND_DB_PASSWORD"`
	LegacyName     string `envconfig:"PRINTBOUND_DB_NAME"`
	LegacySSLMode  string `envconfig:"PRINTBOUND_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PRINTBOUND_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PRINTBOUND_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PRINTBOUND_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PRINTBOUND_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PRINTBOUND_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PRINTBOUND_REDIS_ADDR"`
	Password     string        `envconfig:"PRINTBOUND_REDIS_PASSWORD"`
	DB           int           `envconfig:"PRINTBOUND_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PRINTBOUND_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PRINTBOUND_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PRINTBOUND_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PRINTBOUND_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PRINTBOUND_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PRINTBOUND_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PRINTBOUND_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PRINTBOUND_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PRINTBOUND_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"PRINTBOUND_STRIPE_API_KEY"`
	Secret string `envconfig:"PRINTBOUND_STRIPE_SECRET"`
	Env    string `envconfig:"PRINTBOUND_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type MailerConfig struct {
	APIKey      string `envconfig:"PRINTBOUND_MAILER_API_KEY"`
	Endpoint    string `envconfig:"PRINTBOUND_MAILER_ENDPOINT"`
	DefaultFrom string `envconfig:"PRINTBOUND_MAILER_FROM_EMAIL" default:"support@printbound.co.uk"`
}

type IssuesConfig struct {
	// ReportingWindow bounds how long after an order's last status change
	// a customer may still open an issue against one of its items.
	ReportingWindow time.Duration `envconfig:"PRINTBOUND_ISSUE_REPORTING_WINDOW" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PRINTBOUND_OUTBOX_DISPATCH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PRINTBOUND_OUTBOX_DISPATCH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PRINTBOUND_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
