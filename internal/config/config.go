package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Region      string

	// AppBaseURL is the canonical public origin; its host anchors the
	// main-domain allow-list used by host admission.
	AppBaseURL        string
	ExtraAllowedHosts []string

	// AppSecret is the installation secret. Signed-URL and personal
	// token keys are derived from it; rotating it invalidates both
	// uniformly.
	AppSecret        string
	TokenIssuer      string
	AuthCookieSecure bool

	SignedURLTTL time.Duration

	BillingEnabled      bool
	StripeSecretKey     string
	StripeWebhookSecret string
	TrialNoticeWindow   time.Duration

	IdentityWebhookSecret string

	StorageRoot string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Email EmailConfig
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "sbomify"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		Region:            getenv("REGION", "local"),
		AppBaseURL:        getenv("APP_BASE_URL", "http://localhost:8000"),
		ExtraAllowedHosts: splitHosts(getenv("EXTRA_ALLOWED_HOSTS", "localhost,127.0.0.1,testserver")),
		AppSecret:         strings.TrimSpace(getenv("APP_SECRET", "")),
		TokenIssuer:       getenv("TOKEN_ISSUER", "sbomify"),
		AuthCookieSecure:  authCookieSecure,

		SignedURLTTL: getenvDuration("SIGNED_URL_TTL", 7*24*time.Hour),

		BillingEnabled:      getenvBool("BILLING_ENABLED", true),
		StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		TrialNoticeWindow:   getenvDuration("TRIAL_NOTICE_WINDOW", 72*time.Hour),

		IdentityWebhookSecret: strings.TrimSpace(getenv("IDENTITY_WEBHOOK_SECRET", "")),

		StorageRoot: getenv("STORAGE_ROOT", "./data/storage"),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "sbomify"),
		DBUser:     getenv("DATABASE_USER", "sbomify"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "noreply@sbomify.com"),
		},
	}

	return cfg
}

// BaseHost returns the bare hostname of AppBaseURL (no scheme, no port).
func (c Config) BaseHost() string {
	raw := c.AppBaseURL
	if idx := strings.Index(raw, "://"); idx >= 0 {
		raw = raw[idx+3:]
	}
	if idx := strings.IndexAny(raw, "/?#"); idx >= 0 {
		raw = raw[:idx]
	}
	if idx := strings.LastIndex(raw, ":"); idx >= 0 && !strings.Contains(raw, "]") {
		raw = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
