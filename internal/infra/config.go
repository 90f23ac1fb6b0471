package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Ledger backends.
const (
	LedgerFirebase = "firebase"
	LedgerPostgres = "postgres"
	LedgerMongo    = "mongo"
	LedgerMemory   = "memory"
)

const insecureJWTSecret = "change-me-in-production"

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL   string `env:"DATABASE_URL"`
	PGHost        string `env:"PGHOST" envDefault:"localhost"`
	PGPort        int    `env:"PGPORT" envDefault:"5432"`
	PGUser        string `env:"PGUSER" envDefault:"decyphers"`
	PGPassword    string `env:"PGPASSWORD" envDefault:"decyphers"`
	PGDatabase    string `env:"PGDATABASE" envDefault:"decyphers"`
	PGMaxConns    int32  `env:"PG_MAX_CONNS" envDefault:"10"`
	PGMinConns    int32  `env:"PG_MIN_CONNS" envDefault:"1"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// JWT
	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	// Server
	APIPort            int    `env:"API_PORT" envDefault:"3100"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	FrontendURL        string `env:"FRONTEND_URL" envDefault:"https://decyphers.com"`
	LoginRateLimit     int    `env:"LOGIN_RATE_LIMIT" envDefault:"20"`
	// TrustedProxyHops is the number of reverse proxies in front of the API
	// that append to X-Forwarded-For. Zero ignores the header.
	TrustedProxyHops int `env:"TRUSTED_PROXY_HOPS" envDefault:"0"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Stripe
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// Ledger document store
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"firebase"`
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"decyphers"`

	// Firebase
	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS"`
	FirebaseDatabaseURL string `env:"FIREBASE_DATABASE_URL"`
	FirebaseProjectID   string `env:"FIREBASE_PROJECT_ID"`

	// Pricing
	PriceTablePath string `env:"PRICE_TABLE_PATH"`

	// Public client config
	RecaptchaSiteKey   string `env:"RECAPTCHA_SITE_KEY"`
	RecaptchaSecretKey string `env:"RECAPTCHA_SECRET_KEY"`
	TelegramBotID      string `env:"TELEGRAM_BOT_ID"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerFirebase:
		if c.FirebaseDatabaseURL == "" {
			return fmt.Errorf("LEDGER_BACKEND=firebase requires FIREBASE_DATABASE_URL")
		}
	case LedgerPostgres, LedgerMongo, LedgerMemory:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive")
	}
	if c.PGMaxConns < 1 {
		return fmt.Errorf("PG_MAX_CONNS must be at least 1")
	}
	if c.TrustedProxyHops < 0 {
		return fmt.Errorf("TRUSTED_PROXY_HOPS must not be negative")
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.LedgerBackend == LedgerMemory {
		return fmt.Errorf("LEDGER_BACKEND=memory loses balances on restart; set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// FirebaseEnabled reports whether Firebase credentials or a database URL are set.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseCredentials != "" || c.FirebaseDatabaseURL != "" || c.FirebaseProjectID != ""
}
