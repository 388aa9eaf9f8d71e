package config

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends for session, token, CSRF and rate-limit state.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds application configuration. It is read once at startup.
type Config struct {
	Port           string
	Environment    string // development, staging, production
	LogLevel       string
	LogFormat      string
	BaseURL        string
	AllowedOrigins string

	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// keying clients. Empty means the socket address is always used.
	TrustedProxies []netip.Prefix

	// Persistence collaborators. An empty DatabaseURL keeps users and
	// documents in memory; an empty RabbitMQURL logs email commands instead.
	DatabaseURL string
	RabbitMQURL string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	// Upload validation
	MaxUploadBytes       int64
	MaxExternalLinks     int
	MaxExternalResources int
	AllowedResourceHosts []string

	SessionTTL           time.Duration
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	CSRFTokenTTL         time.Duration
	CleanupInterval      time.Duration
	BcryptCost           int

	RateLimitRequests int
	RateLimitWarnAt   int
	RateLimitWindow   time.Duration
	RateLimitMaxKeys  int
	RateLimitBurstRPS float64
	RateLimitBurst    int

	OpenAPIValidation bool
	OpenAPISpecPath   string
}

// Load reads configuration from the environment (and .env when present)
// and exits if it is invalid.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Configuration parsing failed: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// FromEnv builds a Config from environment variables without validating it.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		TrustedProxies: p.prefixes("TRUSTED_PROXIES"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisPrefix:   getEnv("REDIS_PREFIX", "scroll"),

		MaxUploadBytes:       p.int64("MAX_UPLOAD_BYTES", 50<<20),
		MaxExternalLinks:     p.int("MAX_EXTERNAL_LINKS", 10),
		MaxExternalResources: p.int("MAX_EXTERNAL_RESOURCES", 5),
		AllowedResourceHosts: splitList(getEnv("ALLOWED_RESOURCE_HOSTS", "fonts.googleapis.com,fonts.gstatic.com")),

		SessionTTL:           p.duration("SESSION_TTL", 24*time.Hour),
		EmailVerificationTTL: p.duration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
		PasswordResetTTL:     p.duration("PASSWORD_RESET_TTL", time.Hour),
		CSRFTokenTTL:         p.duration("CSRF_TOKEN_TTL", 2*time.Hour),
		CleanupInterval:      p.duration("CLEANUP_INTERVAL", 10*time.Minute),
		BcryptCost:           p.int("BCRYPT_COST", 12),

		RateLimitRequests: p.int("RATE_LIMIT_REQUESTS", 100),
		RateLimitWarnAt:   p.int("RATE_LIMIT_WARN_AT", 75),
		RateLimitWindow:   p.duration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMaxKeys:  p.int("RATE_LIMIT_MAX_KEYS", 10000),
		RateLimitBurstRPS: p.float("RATE_LIMIT_BURST_RPS", 10),
		RateLimitBurst:    p.int("RATE_LIMIT_BURST", 20),

		OpenAPIValidation: p.bool("OPENAPI_VALIDATION", false),
		OpenAPISpecPath:   getEnv("OPENAPI_SPEC_PATH", "artifacts/openapi.yaml"),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration for security and correctness.
func (c *Config) Validate() error {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute URL (got %q)", c.BaseURL)
	}

	if c.IsProduction() {
		if base.Scheme != "https" {
			return fmt.Errorf("BASE_URL must use https in production")
		}
		for _, origin := range splitList(c.AllowedOrigins) {
			if !strings.HasPrefix(origin, "https://") {
				return fmt.Errorf("ALLOWED_ORIGINS must use https in production (got %q)", origin)
			}
		}
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q (got %q)", BackendMemory, BackendRedis, c.StoreBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxExternalLinks < 0 || c.MaxExternalResources < 0 {
		return fmt.Errorf("MAX_EXTERNAL_LINKS and MAX_EXTERNAL_RESOURCES must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"SESSION_TTL":            c.SessionTTL,
		"EMAIL_VERIFICATION_TTL": c.EmailVerificationTTL,
		"PASSWORD_RESET_TTL":     c.PasswordResetTTL,
		"CSRF_TOKEN_TTL":         c.CSRFTokenTTL,
		"CLEANUP_INTERVAL":       c.CleanupInterval,
		"RATE_LIMIT_WINDOW":      c.RateLimitWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.RateLimitWarnAt <= 0 || c.RateLimitWarnAt > c.RateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_WARN_AT must be between 1 and RATE_LIMIT_REQUESTS (got %d)", c.RateLimitWarnAt)
	}
	if c.RateLimitBurstRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31 (got %d)", c.BcryptCost)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.IsProduction() || strings.HasPrefix(c.BaseURL, "https://")
}

// Origins returns ALLOWED_ORIGINS as a list.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects conversion errors so every bad key is reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	return int(p.int64(key, int64(def)))
}

func (p *parser) int64(key string, def int64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

// prefixes reads a list of CIDR ranges or bare addresses.
func (p *parser) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, raw := range splitList(getEnv(key, "")) {
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid address or CIDR %q", key, raw))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (p *parser) bool(key string, def bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}
