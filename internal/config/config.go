package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	GatewayMercadoPago = "mercadopago"
	GatewayMidtrans    = "midtrans"
)

// Config holds everything the server, worker and CLI read from the environment
type Config struct {
	Env         string `env:"APP_ENV" env-default:"development"`
	Port        string `env:"PORT" env-default:"8080"`
	AppURL      string `env:"APP_URL" env-default:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`
	RedisURL    string `env:"REDIS_URL"`

	// Empty path disables bearer token checks on participant listings
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`

	Payments    PaymentsConfig
	Gateway     GatewayConfig
	MercadoPago MercadoPagoConfig
	Midtrans    MidtransConfig
	Kafka       KafkaConfig
	Reconcile   ReconcileConfig
}

type PaymentsConfig struct {
	Currency        string        `env:"PAYMENT_CURRENCY" env-default:"CLP"`
	PlatformFeeBps  int64         `env:"PLATFORM_FEE_BPS" env-default:"1500"`
	DefaultTitle    string        `env:"PAYMENT_DEFAULT_TITLE" env-default:"Legal consultation"`
	SuccessURL      string        `env:"PAYMENT_SUCCESS_URL"`
	FailureURL      string        `env:"PAYMENT_FAILURE_URL"`
	PendingURL      string        `env:"PAYMENT_PENDING_URL"`
	CacheTTL        time.Duration `env:"PAYMENT_CACHE_TTL" env-default:"30s"`
	WebhookDedupTTL time.Duration `env:"PAYMENT_WEBHOOK_DEDUP_TTL" env-default:"24h"`
}

type GatewayConfig struct {
	Provider string        `env:"PAYMENT_GATEWAY" env-default:"mercadopago"`
	Timeout  time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT" env-default:"5s"`
}

type MercadoPagoConfig struct {
	BaseURL       string `env:"MERCADOPAGO_BASE_URL" env-default:"https://api.mercadopago.com"`
	AccessToken   string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	WebhookSecret string `env:"MERCADOPAGO_WEBHOOK_SECRET"`
}

type MidtransConfig struct {
	ServerKey    string `env:"MIDTRANS_SERVER_KEY"`
	ClientKey    string `env:"MIDTRANS_CLIENT_KEY"`
	IsProduction bool   `env:"MIDTRANS_IS_PRODUCTION" env-default:"false"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `env:"KAFKA_PAYMENT_TOPIC" env-default:"payment-order-events"`
}

type ReconcileConfig struct {
	Rule        string        `env:"RECONCILE_RRULE" env-default:"FREQ=MINUTELY;INTERVAL=5"`
	StaleAfter  time.Duration `env:"RECONCILE_STALE_AFTER" env-default:"5m"`
	ExpireAfter time.Duration `env:"RECONCILE_EXPIRE_AFTER" env-default:"24h"`
	BatchSize   int           `env:"RECONCILE_BATCH_SIZE" env-default:"50"`
	Workers     int           `env:"RECONCILE_WORKERS" env-default:"5"`
	MaxAttempt  int           `env:"RECONCILE_MAX_ATTEMPT" env-default:"3"`
}

// IsProduction reports whether error responses must hide internals
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RedirectDefaults returns the success/failure/pending URLs used when a
// payment request does not carry its own
func (c *Config) RedirectDefaults() (success, failure, pending string) {
	base := strings.TrimRight(c.AppURL, "/") + "/payments/return/"
	success, failure, pending = c.Payments.SuccessURL, c.Payments.FailureURL, c.Payments.PendingURL
	if success == "" {
		success = base + "success"
	}
	if failure == "" {
		failure = base + "failure"
	}
	if pending == "" {
		pending = base + "pending"
	}
	return success, failure, pending
}

// NotificationURL is where the gateway posts status notifications
func (c *Config) NotificationURL() string {
	return strings.TrimRight(c.AppURL, "/") + "/webhooks/payments"
}

// Validate checks the credentials of the selected gateway, the fee split,
// the currency code and the redirect URLs
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case GatewayMercadoPago:
		if c.MercadoPago.AccessToken == "" {
			return fmt.Errorf("MERCADOPAGO_ACCESS_TOKEN is required for gateway %q", c.Gateway.Provider)
		}
	case GatewayMidtrans:
		if c.Midtrans.ServerKey == "" {
			return fmt.Errorf("MIDTRANS_SERVER_KEY is required for gateway %q", c.Gateway.Provider)
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_GATEWAY %q", c.Gateway.Provider)
	}

	if c.Payments.PlatformFeeBps < 0 || c.Payments.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000, got %d", c.Payments.PlatformFeeBps)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_TIMEOUT must be positive")
	}
	if !isCurrencyCode(c.Payments.Currency) {
		return fmt.Errorf("PAYMENT_CURRENCY must be an ISO 4217 code, got %q", c.Payments.Currency)
	}

	redirects := []struct{ env, value string }{
		{"APP_URL", c.AppURL},
		{"PAYMENT_SUCCESS_URL", c.Payments.SuccessURL},
		{"PAYMENT_FAILURE_URL", c.Payments.FailureURL},
		{"PAYMENT_PENDING_URL", c.Payments.PendingURL},
	}
	for _, r := range redirects {
		if r.value == "" {
			continue
		}
		if u, err := url.Parse(r.value); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", r.env, r.value)
		}
	}
	return nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Load reads the process environment into a validated Config
func Load() (*Config, error) {
	cfg, err := ReadEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadEnv reads the environment without checking gateway credentials.
// Tools that only touch the database use it.
func ReadEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads .env (if any) and the environment, exiting the process on
// missing or invalid settings
func MustLoad() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}
