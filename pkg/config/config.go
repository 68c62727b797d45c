package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Razorpay     RazorpayConfig
	Shipping     ShippingConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"THREADMART_APP_ENV" required:"true"`
	Port         string `envconfig:"THREADMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"THREADMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"THREADMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DBConfig struct {
	DSN    string `envconfig:"THREADMART_DB_DSN"`
	Driver string `envconfig:"THREADMART_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"THREADMART_DB_HOST"`
	Port     int    `envconfig:"THREADMART_DB_PORT" default:"5432"`
	User     string `envconfig:"THREADMART_DB_USER"`
	Password string `envconfig:"THREADMART_DB_PASSWORD"`
	Name     string `envconfig:"THREADMART_DB_NAME"`
	SSLMode  string `envconfig:"THREADMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"THREADMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"THREADMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"THREADMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"THREADMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"THREADMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"THREADMART_REDIS_ADDR"`
	Password     string        `envconfig:"THREADMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"THREADMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"THREADMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"THREADMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"THREADMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"THREADMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"THREADMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"THREADMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"THREADMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"THREADMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RazorpayConfig carries the payment gateway credentials. Both values must be
// present before online checkout is allowed.
type RazorpayConfig struct {
	KeyID     string `envconfig:"THREADMART_RAZORPAY_KEY_ID"`
	KeySecret string `envconfig:"THREADMART_RAZORPAY_KEY_SECRET"`
	BaseURL   string `envconfig:"THREADMART_RAZORPAY_BASE_URL" default:"https://api.razorpay.com/v1"`
}

// Configured reports whether gateway credentials were provided.
func (r RazorpayConfig) Configured() bool {
	return strings.TrimSpace(r.KeyID) != "" && strings.TrimSpace(r.KeySecret) != ""
}

type ShippingConfig struct {
	FlatFeeCents       int `envconfig:"THREADMART_SHIPPING_FLAT_FEE_CENTS" default:"4900"`
	FreeThresholdCents int `envconfig:"THREADMART_SHIPPING_FREE_THRESHOLD_CENTS" default:"99900"`
}

// FeeFor returns the shipping charge for the given order subtotal.
func (s ShippingConfig) FeeFor(subtotalCents int) int {
	if s.FreeThresholdCents > 0 && subtotalCents >= s.FreeThresholdCents {
		return 0
	}
	return s.FlatFeeCents
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"THREADMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"THREADMART_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"THREADMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"THREADMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"THREADMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"THREADMART_PUBSUB_ORDERS_TOPIC" default:"tm-order-events"`
	OrdersSubscription string `envconfig:"THREADMART_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"THREADMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"THREADMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"THREADMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	if db.Driver == DriverSQLite {
		db.DSN = "file:threadmart.db?cache=shared"
		return nil
	}

	missing := []string{}
	for envName, value := range map[string]string{
		"THREADMART_DB_HOST": db.Host,
		"THREADMART_DB_USER": db.User,
		"THREADMART_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, envName)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either THREADMART_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
