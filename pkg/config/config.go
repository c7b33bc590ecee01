package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STREAMLANE"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "STREAMLANE_DB_DSN"
	EnvDBHost = "STREAMLANE_DB_HOST"
	EnvDBUser = "STREAMLANE_DB_USER"
	EnvDBName = "STREAMLANE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Stripe        StripeConfig
	Billing       BillingConfig
	Cron          CronConfig
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
	Env          string `envconfig:"STREAMLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"STREAMLANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STREAMLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STREAMLANE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STREAMLANE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STREAMLANE_DB_DSN"`
	Driver string `envconfig:"STREAMLANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STREAMLANE_DB_HOST"`
	LegacyPort     int    `envconfig:"STREAMLANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STREAMLANE_DB_USER"`
	LegacyPassword string `envconfig:"STREAMLANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"STREAMLANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"STREAMLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STREAMLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STREAMLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STREAMLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STREAMLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STREAMLANE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STREAMLANE_REDIS_ADDR"`
	Password     string        `envconfig:"STREAMLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"STREAMLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STREAMLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STREAMLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STREAMLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STREAMLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STREAMLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"STREAMLANE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"STREAMLANE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"STREAMLANE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"STREAMLANE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"STREAMLANE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"STREAMLANE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"STREAMLANE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"STREAMLANE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"STREAMLANE_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"STREAMLANE_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STREAMLANE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STREAMLANE_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STREAMLANE_STRIPE_API_KEY"`
	Secret string `envconfig:"STREAMLANE_STRIPE_SECRET"`
	Env    string `envconfig:"STREAMLANE_STRIPE_ENV" default:"test"`

	CheckoutSuccessURL string `envconfig:"STREAMLANE_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `envconfig:"STREAMLANE_STRIPE_CHECKOUT_CANCEL_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	PlanChangeLockTTL time.Duration `envconfig:"STREAMLANE_BILLING_PLAN_CHANGE_LOCK_TTL" default:"30s"`
	ProviderTimeout   time.Duration `envconfig:"STREAMLANE_BILLING_PROVIDER_TIMEOUT" default:"15s"`
	WebhookEventTTL   time.Duration `envconfig:"STREAMLANE_BILLING_WEBHOOK_EVENT_TTL" default:"72h"`
	DebugLogCapacity  int           `envconfig:"STREAMLANE_BILLING_DEBUG_LOG_CAPACITY" default:"500"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"STREAMLANE_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"STREAMLANE_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"STREAMLANE_CRON_RECONCILE_LOOKBACK" default:"168h"`
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
