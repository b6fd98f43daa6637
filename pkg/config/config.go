package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Registry backend selectors.
const (
	RegistryBackendFile = "file"
	RegistryBackendDB   = "db"
)

type Config struct {
	App          AppConfig
	Registry     RegistryConfig
	Identity     IdentityConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Registry.validate(); err != nil {
		return nil, err
	}
	if cfg.Registry.Backend == RegistryBackendDB {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DONORMARK_APP_ENV" required:"true"`
	Port         string `envconfig:"DONORMARK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DONORMARK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DONORMARK_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"DONORMARK_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// RegistryConfig controls the document store backing the ledger.
type RegistryConfig struct {
	Backend    string `envconfig:"DONORMARK_REGISTRY_BACKEND" default:"file"`
	FilePath   string `envconfig:"DONORMARK_REGISTRY_FILE" default:"registry.json"`
	MarkSecret string `envconfig:"DONORMARK_MARK_SECRET" required:"true"`
}

func (r RegistryConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(r.Backend)) {
	case RegistryBackendFile, RegistryBackendDB:
		return nil
	default:
		return fmt.Errorf("registry backend must be %q or %q", RegistryBackendFile, RegistryBackendDB)
	}
}

// NormalizedBackend returns the backend selector in canonical form.
func (r RegistryConfig) NormalizedBackend() string {
	return strings.ToLower(strings.TrimSpace(r.Backend))
}

// IdentityConfig tunes handle-claim policy.
type IdentityConfig struct {
	// DisposableDomains extends the built-in deny list (comma separated).
	DisposableDomains []string `envconfig:"DONORMARK_DISPOSABLE_DOMAINS"`
	// AllowHandleChange relaxes the freeze so the same email may re-claim a
	// different handle. Off by default.
	AllowHandleChange bool `envconfig:"DONORMARK_ALLOW_HANDLE_CHANGE" default:"false"`
}

type DBConfig struct {
	DSN    string `envconfig:"DONORMARK_DB_DSN"`
	Driver string `envconfig:"DONORMARK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DONORMARK_DB_HOST"`
	LegacyPort     int    `envconfig:"DONORMARK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DONORMARK_DB_USER"`
	LegacyPassword string `envconfig:"DONORMARK_DB_PASSWORD"`
	LegacyName     string `envconfig:"DONORMARK_DB_NAME"`
	LegacySSLMode  string `envconfig:"DONORMARK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DONORMARK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DONORMARK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DONORMARK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DONORMARK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DONORMARK_REDIS_URL"`
	Address      string        `envconfig:"DONORMARK_REDIS_ADDR"`
	Password     string        `envconfig:"DONORMARK_REDIS_PASSWORD"`
	DB           int           `envconfig:"DONORMARK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DONORMARK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DONORMARK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DONORMARK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DONORMARK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DONORMARK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"DONORMARK_STRIPE_API_KEY"`
	Secret         string        `envconfig:"DONORMARK_STRIPE_SECRET"`
	Env            string        `envconfig:"DONORMARK_STRIPE_ENV" default:"test"`
	Currency       string        `envconfig:"DONORMARK_STRIPE_CURRENCY" default:"usd"`
	SuccessURL     string        `envconfig:"DONORMARK_STRIPE_SUCCESS_URL" default:"http://localhost:3000/thanks?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL      string        `envconfig:"DONORMARK_STRIPE_CANCEL_URL" default:"http://localhost:3000/"`
	WebhookIdemTTL time.Duration `envconfig:"DONORMARK_STRIPE_WEBHOOK_IDEM_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DONORMARK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DONORMARK_AUTO_MIGRATE" default:"false"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"DONORMARK_DB_HOST": db.LegacyHost,
		"DONORMARK_DB_USER": db.LegacyUser,
		"DONORMARK_DB_NAME": db.LegacyName,
	}
	for _, env := range []string{"DONORMARK_DB_HOST", "DONORMARK_DB_USER", "DONORMARK_DB_NAME"} {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either DONORMARK_DB_DSN or %s are required", strings.Join(missing, ", "))
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
