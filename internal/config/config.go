package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP          HTTP
	PostgresDSN   string `env:"POSTGRES_DSN,default=host=localhost user=postgres password=postgres dbname=solcitos sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Kafka         Kafka
	JWTSecret     string `env:"JWT_SECRET,default=supersecret"`
	CronSecret    string `env:"CRON_SECRET"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	Ledger        Ledger
	MercadoPago   MercadoPago
	PayPal        PayPal
	Stripe        Stripe
	Observability Observability
}

type HTTP struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=5s"`
	RateLimit       float64       `env:"RATE_LIMIT_RPS,default=2"`
	RateBurst       int           `env:"RATE_LIMIT_BURST,default=5"`
}

type Kafka struct {
	// Brokers are separated by semicolons in KAFKA_BROKERS.
	Brokers []string `env:"KAFKA_BROKERS,default=localhost:9092"`
	Topic   string   `env:"KAFKA_TOPIC,default=ledger-events"`
	GroupID string   `env:"KAFKA_GROUP_ID,default=solcitos-balance-cache"`
}

type Ledger struct {
	StalePendingAfter time.Duration `env:"STALE_PENDING_AFTER,default=72h"`
	SweepSchedule     string        `env:"SWEEP_SCHEDULE"`
	BalanceCacheTTL   time.Duration `env:"BALANCE_CACHE_TTL,default=5m"`
	OutboxInterval    time.Duration `env:"OUTBOX_INTERVAL,default=500ms"`
	OutboxBatchSize   int           `env:"OUTBOX_BATCH_SIZE,default=50"`
}

type MercadoPago struct {
	AccessToken string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	Sandbox     bool   `env:"MERCADOPAGO_SANDBOX,default=true"`
}

type PayPal struct {
	ClientID     string `env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	Sandbox      bool   `env:"PAYPAL_SANDBOX,default=true"`
}

type Stripe struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
	Sandbox   bool   `env:"STRIPE_SANDBOX,default=true"`
}

type Observability struct {
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	OTelEnabled  bool   `env:"OTEL_ENABLED,default=false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and decodes the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment", "error", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTP.Addr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.Kafka.Brokers,
		"mercadopago_enabled", cfg.MercadoPago.AccessToken != "",
		"paypal_enabled", cfg.PayPal.ClientID != "",
		"stripe_enabled", cfg.Stripe.SecretKey != "",
	)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Ledger.StalePendingAfter <= 0 {
		return fmt.Errorf("STALE_PENDING_AFTER must be positive")
	}
	if c.Ledger.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.PayPal.ClientID != "" && c.PayPal.ClientSecret == "" {
		return fmt.Errorf("PAYPAL_CLIENT_SECRET is required when PAYPAL_CLIENT_ID is set")
	}
	return nil
}
