// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, billing parameters (daily limit, prices, credit
// packs, intent TTL), transcript retention, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-chat-billing/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CreditPack is a purchasable credit batch parsed from CREDIT_PACKS.
type CreditPack struct {
	Count int
	Price int64
}

// BillingConfig groups the entitlement and payment parameters.
type BillingConfig struct {
	DailyLimit        int           // DAILY_LIMIT: free messages per calendar day
	SubscriptionDays  int           // SUBSCRIPTION_DAYS: window granted per purchase
	SubscriptionPrice int64         // SUBSCRIPTION_PRICE_STARS
	CreditPacks       []CreditPack  // CREDIT_PACKS: "count:price,count:price,…"
	IntentTTL         time.Duration // PAYMENT_INTENT_TTL: token lifetime
}

// AssistantConfig groups the generation backend settings.
type AssistantConfig struct {
	APIKey       string // ASSISTANT_API_KEY
	BaseURL      string // ASSISTANT_BASE_URL (OpenAI-compatible endpoint)
	Model        string // ASSISTANT_MODEL
	SystemPrompt string // ASSISTANT_SYSTEM_PROMPT ({user_name}/{date} templated)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath         string        // SQLite path
	HistoryLimit   int           // recent messages fed to the generator
	MaxPromptRunes int           // accepted prompt length cap
	RetentionAge   time.Duration // transcript max age before trim
	RetentionEvery time.Duration // trim cadence

	Billing   BillingConfig
	Assistant AssistantConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	packs, err := parsePacks(getenv("CREDIT_PACKS", "50:100,200:350,500:750"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:         getenv("DB_PATH", "app.db"),
		HistoryLimit:   getint("HISTORY_LIMIT", 10),
		MaxPromptRunes: getint("MAX_PROMPT_RUNES", 2000),
		RetentionAge:   getdur("RETENTION_MAX_AGE", 7*24*time.Hour),
		RetentionEvery: getdur("RETENTION_INTERVAL", time.Hour),

		Billing: BillingConfig{
			DailyLimit:        getint("DAILY_LIMIT", 5),
			SubscriptionDays:  getint("SUBSCRIPTION_DAYS", 30),
			SubscriptionPrice: int64(getint("SUBSCRIPTION_PRICE_STARS", 250)),
			CreditPacks:       packs,
			IntentTTL:         getdur("PAYMENT_INTENT_TTL", 10*time.Minute),
		},

		Assistant: AssistantConfig{
			APIKey:       getenv("ASSISTANT_API_KEY", ""),
			BaseURL:      getenv("ASSISTANT_BASE_URL", ""),
			Model:        getenv("ASSISTANT_MODEL", "deepseek-chat"),
			SystemPrompt: getenv("ASSISTANT_SYSTEM_PROMPT", defaultSystemPrompt),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-billing"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.HistoryLimit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.RetentionAge <= 0 || cfg.RetentionEvery <= 0 {
		return cfg, errors.New("retention age and interval must be positive durations")
	}
	if cfg.Billing.DailyLimit < 0 {
		return cfg, errors.New("DAILY_LIMIT must be >= 0")
	}
	if cfg.Billing.SubscriptionDays < 1 {
		return cfg, errors.New("SUBSCRIPTION_DAYS must be >= 1")
	}
	if cfg.Billing.SubscriptionPrice < 1 {
		return cfg, errors.New("SUBSCRIPTION_PRICE_STARS must be >= 1")
	}
	if len(cfg.Billing.CreditPacks) == 0 {
		return cfg, errors.New("CREDIT_PACKS must define at least one pack")
	}
	if cfg.Billing.IntentTTL <= 0 {
		return cfg, errors.New("PAYMENT_INTENT_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// defaultSystemPrompt is a neutral persona used when none is configured.
const defaultSystemPrompt = "You are Alina, a warm and supportive companion. " +
	"You are talking with {user_name}. Today is {date}. " +
	"Keep replies personal, concise, and in the user's language."

// parsePacks parses "count:price,count:price,…" into a catalog.
func parsePacks(s string) ([]CreditPack, error) {
	var out []CreditPack
	for _, part := range splitCSV(s) {
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("CREDIT_PACKS entry %q must be count:price", part)
		}
		count, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || count < 1 {
			return nil, fmt.Errorf("CREDIT_PACKS entry %q has invalid count", part)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil || price < 1 {
			return nil, fmt.Errorf("CREDIT_PACKS entry %q has invalid price", part)
		}
		out = append(out, CreditPack{Count: count, Price: price})
	}
	return out, nil
}

// ---- env helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return sysutil.IsTruthy(v)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
