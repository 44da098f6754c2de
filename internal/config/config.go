// Package config loads and validates the runtime configuration.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file, and a .env file, when present, is
// loaded into the environment first.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example GEMINI_MODEL becomes
// gemini_model in YAML.
//
// No upstream credential is required to start: without one every design
// request is served from the fallback catalog.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Provider names accepted by DESIGN_PROVIDER.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 5000.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Upstream selects and configures the generation provider.
	Upstream UpstreamConfig

	// Gemini, OpenAI and Anthropic hold per-provider credentials. Only the
	// one named by Upstream.Provider is used.
	Gemini    ProviderConfig
	OpenAI    ProviderConfig
	Anthropic ProviderConfig

	// VertexAI routes Gemini calls through Vertex AI (ADC credentials)
	// instead of an API key when Project is set.
	VertexAI VertexAIConfig

	// Redis holds the connection URL for the Redis cache and throttle.
	Redis RedisConfig

	Cache    CacheConfig
	Throttle ThrottleConfig
	Auth     AuthConfig

	// FallbackCatalog is an optional YAML file replacing the built-in
	// fallback designs.
	FallbackCatalog string

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string
}

// UpstreamConfig controls calls to the generation provider.
type UpstreamConfig struct {
	// Provider is one of gemini, openai, anthropic. Default: gemini.
	Provider string

	// Model is the model id sent to the provider. Default: gemini-1.5-flash.
	Model string

	// Enabled is false only when GEMINI_ENABLED is exactly "false".
	Enabled bool

	// Timeout is the provider HTTP client timeout. Default: 60s.
	Timeout time.Duration
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	// APIKey is the provider API key.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development.
	BaseURL string
}

// VertexAIConfig holds Google Vertex AI configuration.
type VertexAIConfig struct {
	Project  string
	Location string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the design result cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "memory": in-process TTL cache (default).
	//   "redis" : shared Redis cache (requires REDIS_URL).
	//   "sqlite": durable local cache file at SQLitePath.
	//   "none"  : results are never cached.
	Mode string

	// TTL applies to every cached result. Default: 10m (DESIGN_CACHE_TTL_MS).
	TTL time.Duration

	// SQLitePath is the database file for Mode "sqlite".
	SQLitePath string
}

// ThrottleConfig controls the global design-request throttle.
type ThrottleConfig struct {
	// Mode is "local" (per process) or "redis" (shared across replicas).
	Mode string

	// Interval is the minimum spacing between accepted requests. Default: 7s.
	Interval time.Duration
}

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	// Mode is "firebase" (default) or "static".
	Mode string

	FirebaseProjectID       string
	FirebaseCredentialsFile string
	// FirebaseServiceAccount is an inline service-account JSON document.
	FirebaseServiceAccount string

	// StaticTokens is a comma-separated list of "token" or "token:uid".
	StaticTokens string
}

// HasCredential reports whether the selected provider can be called at all.
func (c *Config) HasCredential() bool {
	switch c.Upstream.Provider {
	case ProviderOpenAI:
		return c.OpenAI.APIKey != ""
	case ProviderAnthropic:
		return c.Anthropic.APIKey != ""
	default:
		return c.Gemini.APIKey != "" || c.VertexAI.Project != ""
	}
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 5000)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DESIGN_PROVIDER", ProviderGemini)
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_ENABLED", "true")
	v.SetDefault("PROVIDER_TIMEOUT", "60s")
	v.SetDefault("VERTEX_LOCATION", "us-central1")

	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("DESIGN_CACHE_TTL_MS", 10*60*1000)
	v.SetDefault("SQLITE_PATH", "decor-cache.db")

	v.SetDefault("THROTTLE_MODE", "local")
	v.SetDefault("THROTTLE_INTERVAL", "7s")

	v.SetDefault("AUTH_MODE", "firebase")
	v.SetDefault("CLIENT_URL", "*")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Upstream: UpstreamConfig{
			Provider: strings.ToLower(v.GetString("DESIGN_PROVIDER")),
			Model:    v.GetString("GEMINI_MODEL"),
			Enabled:  v.GetString("GEMINI_ENABLED") != "false",
			Timeout:  v.GetDuration("PROVIDER_TIMEOUT"),
		},

		Gemini:    ProviderConfig{APIKey: v.GetString("GEMINI_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},
		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},

		VertexAI: VertexAIConfig{
			Project:  v.GetString("VERTEX_PROJECT"),
			Location: v.GetString("VERTEX_LOCATION"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:       strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:        time.Duration(v.GetInt64("DESIGN_CACHE_TTL_MS")) * time.Millisecond,
			SQLitePath: v.GetString("SQLITE_PATH"),
		},

		Throttle: ThrottleConfig{
			Mode:     strings.ToLower(v.GetString("THROTTLE_MODE")),
			Interval: v.GetDuration("THROTTLE_INTERVAL"),
		},

		Auth: AuthConfig{
			Mode:                    strings.ToLower(v.GetString("AUTH_MODE")),
			FirebaseProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
			FirebaseCredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
			FirebaseServiceAccount:  v.GetString("FIREBASE_SERVICE_ACCOUNT"),
			StaticTokens:            v.GetString("AUTH_STATIC_TOKENS"),
		},

		FallbackCatalog: v.GetString("FALLBACK_CATALOG"),
		CORSOrigins:     splitList(v.GetString("CLIENT_URL")),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Upstream.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf(
			"config: invalid DESIGN_PROVIDER %q; must be one of: gemini, openai, anthropic",
			c.Upstream.Provider,
		)
	}
	if c.Upstream.Model == "" {
		return errors.New("config: GEMINI_MODEL must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("config: PROVIDER_TIMEOUT must be a positive duration")
	}

	switch c.Cache.Mode {
	case "memory", "redis", "sqlite", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: memory, redis, sqlite, none",
			c.Cache.Mode,
		)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("config: DESIGN_CACHE_TTL_MS must be positive")
	}
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return errors.New(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}
	if c.Cache.Mode == "sqlite" && c.Cache.SQLitePath == "" {
		return errors.New("config: SQLITE_PATH is required when CACHE_MODE=sqlite")
	}

	switch c.Throttle.Mode {
	case "local", "redis":
	default:
		return fmt.Errorf("config: invalid THROTTLE_MODE %q; must be one of: local, redis", c.Throttle.Mode)
	}
	if c.Throttle.Mode == "redis" && c.Redis.URL == "" {
		return errors.New("config: REDIS_URL is required when THROTTLE_MODE=redis")
	}
	if c.Throttle.Interval <= 0 {
		return errors.New("config: THROTTLE_INTERVAL must be a positive duration")
	}

	switch c.Auth.Mode {
	case "firebase":
		if c.Auth.FirebaseProjectID == "" && c.Auth.FirebaseCredentialsFile == "" && c.Auth.FirebaseServiceAccount == "" {
			return errors.New(
				"config: AUTH_MODE=firebase needs FIREBASE_PROJECT_ID, " +
					"FIREBASE_CREDENTIALS_FILE or FIREBASE_SERVICE_ACCOUNT",
			)
		}
	case "static":
		if strings.TrimSpace(c.Auth.StaticTokens) == "" {
			return errors.New("config: AUTH_STATIC_TOKENS is required when AUTH_MODE=static")
		}
	default:
		return fmt.Errorf("config: invalid AUTH_MODE %q; must be one of: firebase, static", c.Auth.Mode)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
