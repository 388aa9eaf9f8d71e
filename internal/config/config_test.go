package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Environment:          "development",
		BaseURL:              "http://localhost:8080",
		AllowedOrigins:       "http://localhost:3000",
		StoreBackend:         BackendMemory,
		MaxUploadBytes:       50 << 20,
		MaxExternalLinks:     10,
		MaxExternalResources: 5,
		SessionTTL:           24 * time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		CSRFTokenTTL:         2 * time.Hour,
		CleanupInterval:      10 * time.Minute,
		BcryptCost:           12,
		RateLimitRequests:    100,
		RateLimitWarnAt:      75,
		RateLimitWindow:      time.Minute,
		RateLimitBurstRPS:    10,
		RateLimitBurst:       20,
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		expected    bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			if got := cfg.IsProduction(); got != tt.expected {
				t.Errorf("IsProduction() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		expected    bool
	}{
		{"development", "development", true},
		{"dev", "dev", true},
		{"empty", "", true},
		{"production", "production", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			if got := cfg.IsDevelopment(); got != tt.expected {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{"valid development", func(c *Config) {}, ""},
		{"relative base url", func(c *Config) { c.BaseURL = "/app" }, "BASE_URL"},
		{"production requires https base url", func(c *Config) {
			c.Environment = "production"
			c.AllowedOrigins = "https://scroll.example"
		}, "https in production"},
		{"production requires https origins", func(c *Config) {
			c.Environment = "production"
			c.BaseURL = "https://scroll.example"
		}, "ALLOWED_ORIGINS"},
		{"valid production", func(c *Config) {
			c.Environment = "production"
			c.BaseURL = "https://scroll.example"
			c.AllowedOrigins = "https://scroll.example, https://www.scroll.example"
		}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "etcd" }, "STORE_BACKEND"},
		{"redis without address", func(c *Config) {
			c.StoreBackend = BackendRedis
			c.RedisAddr = ""
		}, "REDIS_ADDR"},
		{"redis with address", func(c *Config) {
			c.StoreBackend = BackendRedis
			c.RedisAddr = "localhost:6379"
		}, ""},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
		{"negative link limit", func(c *Config) { c.MaxExternalLinks = -1 }, "MAX_EXTERNAL_LINKS"},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"zero rate limit window", func(c *Config) { c.RateLimitWindow = 0 }, "RATE_LIMIT_WINDOW"},
		{"warn above limit", func(c *Config) { c.RateLimitWarnAt = 101 }, "RATE_LIMIT_WARN_AT"},
		{"warn equals limit", func(c *Config) { c.RateLimitWarnAt = 100 }, ""},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"bcrypt cost too low", func(c *Config) { c.BcryptCost = 3 }, "BCRYPT_COST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantError == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantError)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantError)
			}
		})
	}
}

func TestConfig_SecureCookies(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		baseURL     string
		expected    bool
	}{
		{"development over http", "development", "http://localhost:8080", false},
		{"development over https", "development", "https://localhost:8443", true},
		{"production", "production", "https://scroll.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment, BaseURL: tt.baseURL}
			if got := cfg.SecureCookies(); got != tt.expected {
				t.Errorf("SecureCookies() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, BackendMemory)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 50<<20)
	}
	if cfg.RateLimitRequests != 100 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("rate limit = %d per %v, want 100 per 1m", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.PasswordResetTTL != time.Hour {
		t.Errorf("PasswordResetTTL = %v, want 1h", cfg.PasswordResetTTL)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.TrustedProxies)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("MAX_EXTERNAL_LINKS", "3")
	t.Setenv("SESSION_TTL", "90m")
	t.Setenv("RATE_LIMIT_BURST_RPS", "2.5")
	t.Setenv("OPENAPI_VALIDATION", "true")
	t.Setenv("ALLOWED_RESOURCE_HOSTS", " cdn.example , ,fonts.example")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7 ,::ffff:198.51.100.1, 2001:db8::/32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.StoreBackend != BackendRedis {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, BackendRedis)
	}
	if cfg.MaxExternalLinks != 3 {
		t.Errorf("MaxExternalLinks = %d, want 3", cfg.MaxExternalLinks)
	}
	if cfg.SessionTTL != 90*time.Minute {
		t.Errorf("SessionTTL = %v, want 90m", cfg.SessionTTL)
	}
	if cfg.RateLimitBurstRPS != 2.5 {
		t.Errorf("RateLimitBurstRPS = %v, want 2.5", cfg.RateLimitBurstRPS)
	}
	if !cfg.OpenAPIValidation {
		t.Error("OpenAPIValidation = false, want true")
	}
	if len(cfg.AllowedResourceHosts) != 2 || cfg.AllowedResourceHosts[0] != "cdn.example" || cfg.AllowedResourceHosts[1] != "fonts.example" {
		t.Errorf("AllowedResourceHosts = %v", cfg.AllowedResourceHosts)
	}
	want := []string{"10.0.0.0/8", "192.0.2.7/32", "198.51.100.1/32", "2001:db8::/32"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("TrustedProxies = %v, want %v", cfg.TrustedProxies, want)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Errorf("TrustedProxies[%d] = %s, want %s", i, p, want[i])
		}
	}
}

func TestFromEnv_ParseErrors(t *testing.T) {
	t.Setenv("MAX_UPLOAD_BYTES", "lots")
	t.Setenv("CSRF_TOKEN_TTL", "forever")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("FromEnv() expected error")
	}
	for _, key := range []string{"MAX_UPLOAD_BYTES", "CSRF_TOKEN_TTL", "TRUSTED_PROXIES"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")

	if got := getEnv("TEST_VAR", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want test_value", got)
	}
	if got := getEnv("NON_EXISTENT_VAR", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestConfig_Origins(t *testing.T) {
	cfg := &Config{AllowedOrigins: "https://a.example,https://b.example"}
	origins := cfg.Origins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("Origins() = %v", origins)
	}
}
