// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting,
// cloud-store and model-provider credentials, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nkoutris/go-chat-sync/internal/sysutil"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CloudConfig defines the hosted document-database connection.
type CloudConfig struct {
	Endpoint   string // CLOUD_ENDPOINT (e.g. "https://cloud.example.com/v1")
	Project    string // CLOUD_PROJECT
	APIKey     string // CLOUD_API_KEY
	DatabaseID string // CLOUD_DATABASE_ID
}

// Enabled reports whether cloud sync is configured at all. Without it the
// service runs local-only, as a guest-mode deployment.
func (c CloudConfig) Enabled() bool {
	return c.Endpoint != "" && c.Project != "" && c.DatabaseID != ""
}

// LLMConfig defines the model-provider connection.
type LLMConfig struct {
	BaseURL      string // LLM_BASE_URL (OpenAI-compatible gateway)
	APIKey       string // LLM_API_KEY
	DefaultModel string // LLM_DEFAULT_MODEL
}

// ImageConfig defines image-generation settings.
type ImageConfig struct {
	Model     string // IMAGE_MODEL
	FreeLimit int    // IMAGE_FREE_LIMIT per user without an own key
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool
	APIBasePath    string

	// App
	DBPath         string // SQLite path
	MaxPromptRunes int    // longest accepted prompt
	TitleMaxLen    int    // longest auto-generated title

	// Upstreams
	Cloud CloudConfig
	LLM   LLMConfig
	Image ImageConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result. A .env file in the working
// directory is loaded first when present; variables already set in the
// environment take precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              envStr("PORT", "8080"),
		ReadTimeout:       envDur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(envStr("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogPretty:      envBool("LOG_PRETTY", false),
		SwaggerEnabled: envBool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(envStr("API_BASE_PATH", "/api/v1")),

		DBPath:         envStr("DB_PATH", "app.db"),
		MaxPromptRunes: envInt("MAX_PROMPT_RUNES", 8000),
		TitleMaxLen:    envInt("TITLE_MAX_LEN", 60),

		Cloud: CloudConfig{
			Endpoint:   envStr("CLOUD_ENDPOINT", ""),
			Project:    envStr("CLOUD_PROJECT", ""),
			APIKey:     envStr("CLOUD_API_KEY", ""),
			DatabaseID: envStr("CLOUD_DATABASE_ID", ""),
		},
		LLM: LLMConfig{
			BaseURL:      envStr("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:       envStr("LLM_API_KEY", ""),
			DefaultModel: envStr("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
		},
		Image: ImageConfig{
			Model:     envStr("IMAGE_MODEL", "dall-e-3"),
			FreeLimit: envInt("IMAGE_FREE_LIMIT", 2),
		},

		RateRPS:   envFloat("RATE_RPS", 5.0),
		RateBurst: envInt("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(envStr("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: envBool("ENABLE_HSTS", false),
			HSTSMaxAge: envDur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: envStr("OTEL_SERVICE_NAME", "go-chat-sync"),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.LLM.BaseURL = strings.TrimRight(cfg.LLM.BaseURL, "/")
	cfg.Cloud.Endpoint = strings.TrimRight(cfg.Cloud.Endpoint, "/")
}

func (cfg *Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.MaxPromptRunes < 1 {
		return errors.New("MAX_PROMPT_RUNES must be >= 1")
	}
	if cfg.TitleMaxLen < 1 {
		return errors.New("TITLE_MAX_LEN must be >= 1")
	}
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		return errors.New("LLM_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.LLM.DefaultModel) == "" {
		return errors.New("LLM_DEFAULT_MODEL must not be empty")
	}
	if cfg.Image.FreeLimit < 0 {
		return errors.New("IMAGE_FREE_LIMIT must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Env readers. All of them treat an unset or empty variable, and a value that
// fails to parse, as "use the default".

func envStr(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func envDur(k string, def time.Duration) time.Duration {
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
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips any trailing '/'
// (except for the bare root).
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
