package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CHECKOUT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	Cart     CartConfig
	Checkout CheckoutConfig
	Square   SquareConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Sweeper  SweeperConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CHECKOUT_APP_ENV" default:"dev"`
	Port         string `envconfig:"CHECKOUT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CHECKOUT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHECKOUT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHECKOUT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN             string        `envconfig:"CHECKOUT_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"CHECKOUT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHECKOUT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHECKOUT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHECKOUT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHECKOUT_REDIS_URL"`
	Address      string        `envconfig:"CHECKOUT_REDIS_ADDR"`
	Password     string        `envconfig:"CHECKOUT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHECKOUT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHECKOUT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHECKOUT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHECKOUT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHECKOUT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHECKOUT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CartConfig struct {
	AuthenticatedTTL time.Duration `envconfig:"CHECKOUT_CART_AUTHENTICATED_TTL" default:"24h"`
	AnonymousTTL     time.Duration `envconfig:"CHECKOUT_CART_ANONYMOUS_TTL" default:"2h"`
	ProductCacheTTL  time.Duration `envconfig:"CHECKOUT_CART_PRODUCT_CACHE_TTL" default:"5m"`
}

type CheckoutConfig struct {
	TaxRateBps                 int `envconfig:"CHECKOUT_TAX_RATE_BPS" default:"800"`
	ShippingFlatFeeCents       int `envconfig:"CHECKOUT_SHIPPING_FLAT_FEE_CENTS" default:"999"`
	FreeShippingThresholdCents int `envconfig:"CHECKOUT_FREE_SHIPPING_THRESHOLD_CENTS" default:"10000"`
	FirstOrderDiscountBps      int `envconfig:"CHECKOUT_FIRST_ORDER_DISCOUNT_BPS" default:"1000"`
	ReservationTTLMinutes      int `envconfig:"CHECKOUT_RESERVATION_TTL_MINUTES" default:"30"`
	SessionTTLMinutes          int `envconfig:"CHECKOUT_SESSION_TTL_MINUTES" default:"30"`
}

// ReservationTTL returns the checkout reservation hold duration.
func (c CheckoutConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLMinutes) * time.Minute
}

// SessionTTL returns the checkout session lifetime.
func (c CheckoutConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

type SquareConfig struct {
	AccessToken string `envconfig:"CHECKOUT_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"CHECKOUT_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"CHECKOUT_SQUARE_LOCATION_ID"`
	Currency    string `envconfig:"CHECKOUT_SQUARE_CURRENCY" default:"USD"`
}

func (s SquareConfig) Environment() string {
	return strings.ToLower(strings.TrimSpace(s.Env))
}

type PubSubConfig struct {
	ProjectID   string `envconfig:"CHECKOUT_PUBSUB_PROJECT_ID"`
	TopicPrefix string `envconfig:"CHECKOUT_PUBSUB_TOPIC_PREFIX" default:"checkout"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"CHECKOUT_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"CHECKOUT_OUTBOX_POLL_INTERVAL" default:"5s"`
	MaxAttempts  int           `envconfig:"CHECKOUT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SweeperConfig struct {
	Interval time.Duration `envconfig:"CHECKOUT_SWEEPER_INTERVAL" default:"1m"`
}
