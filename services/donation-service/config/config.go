package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
)

// StripeSecretName holds STRIPE_API_KEY, STRIPE_WEBHOOK_SECRET and JWT_SECRET
// as a JSON object when AWS_USE_SECRETS=true.
const StripeSecretName = "donation/STRIPE"

const (
	StoreMongo    = "mongo"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

type Config struct {
	Port string
	Env  string

	MongoURI string
	MongoDB  string

	RequestStore          string
	DynamoDBRequestsTable string
	DynamoDBAutoCreate    bool

	LedgerStore string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL        string
	RequestCacheTTL time.Duration

	StripeSecretKey  string
	StripeWebhookKey string
	StripeTimeout    time.Duration
	PaymentCurrency  string
	SiteDomain       string

	JWTSecret           string
	TrustGatewayHeaders bool

	DonationSNSTopicARN    string
	KafkaBrokers           []string
	KafkaTopic             string
	CheckoutEventsQueueURL string

	CloudWatchEnabled bool
	AllowedOrigins    string

	PaymentRatePerMinute int
	PaymentBurst         int
}

// SecretSource reads a JSON object secret.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads .env (if present) and the environment. If AWS_USE_SECRETS
// is true, Stripe and JWT secrets are read from Secrets Manager and fall back
// to env vars on failure.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var secrets SecretSource
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := awspkg.LoadAWSConfig(context.Background()); err == nil {
			secrets = awspkg.NewSecretsClient(awsCfg)
		}
	}
	return Load(context.Background(), secrets)
}

// Load builds the config from the environment, overriding secrets from src
// when it is not nil.
func Load(ctx context.Context, src SecretSource) (*Config, error) {
	cfg := &Config{
		Port:                   getEnv("PORT", "5000"),
		Env:                    getEnv("APP_ENV", "development"),
		MongoURI:               os.Getenv("MONGO_URI"),
		MongoDB:                getEnv("MONGO_DB", "bloodDonation"),
		RequestStore:           strings.ToLower(getEnv("REQUEST_STORE", StoreMongo)),
		DynamoDBRequestsTable:  os.Getenv("DYNAMODB_REQUESTS_TABLE"),
		DynamoDBAutoCreate:     os.Getenv("DYNAMODB_AUTO_CREATE") == "true",
		LedgerStore:            strings.ToLower(getEnv("LEDGER_STORE", StoreMongo)),
		PostgresUser:           os.Getenv("POSTGRES_USER"),
		PostgresPassword:       os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:             os.Getenv("POSTGRES_DB"),
		PostgresHost:           getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:           getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:       getEnv("POSTGRES_TIMEZONE", "Asia/Dhaka"),
		RedisURL:               os.Getenv("REDIS_URL"),
		RequestCacheTTL:        getDuration("REQUEST_CACHE_TTL", 30*time.Second),
		StripeSecretKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeTimeout:          getDuration("STRIPE_TIMEOUT", 10*time.Second),
		PaymentCurrency:        strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		SiteDomain:             os.Getenv("SITE_DOMAIN"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		TrustGatewayHeaders:    os.Getenv("TRUST_GATEWAY_HEADERS") == "true",
		DonationSNSTopicARN:    os.Getenv("DONATION_SNS_TOPIC_ARN"),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "donation-events"),
		CheckoutEventsQueueURL: os.Getenv("CHECKOUT_EVENTS_QUEUE_URL"),
		CloudWatchEnabled:      os.Getenv("CLOUDWATCH_ENABLED") == "true",
		AllowedOrigins:         os.Getenv("ALLOWED_ORIGINS"),
		PaymentRatePerMinute:   getInt("PAYMENT_RATE_PER_MINUTE", 30),
		PaymentBurst:           getInt("PAYMENT_RATE_BURST", 10),
	}

	if src != nil {
		if m, err := src.GetSecretMap(ctx, StripeSecretName); err == nil {
			override(&cfg.StripeSecretKey, m["STRIPE_API_KEY"])
			override(&cfg.StripeWebhookKey, m["STRIPE_WEBHOOK_SECRET"])
			override(&cfg.JWTSecret, m["JWT_SECRET"])
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.SiteDomain == "" {
		missing = append(missing, "SITE_DOMAIN")
	}

	switch c.RequestStore {
	case StoreMongo:
	case StoreDynamoDB:
		if c.DynamoDBRequestsTable == "" {
			missing = append(missing, "DYNAMODB_REQUESTS_TABLE")
		}
	default:
		return fmt.Errorf("REQUEST_STORE must be %s or %s, got %q", StoreMongo, StoreDynamoDB, c.RequestStore)
	}

	switch c.LedgerStore {
	case StoreMongo:
	case StorePostgres:
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" {
			missing = append(missing, "POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
		}
	default:
		return fmt.Errorf("LEDGER_STORE must be %s or %s, got %q", StoreMongo, StorePostgres, c.LedgerStore)
	}

	// users always live in Mongo
	if c.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PostgresDSN is the gorm/pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
