package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/winelist-scanner/internal/cache"
	"github.com/joelkehle/winelist-scanner/internal/llm"
	"github.com/joelkehle/winelist-scanner/internal/observability"
	"github.com/joelkehle/winelist-scanner/internal/winedb"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const (
	CacheNone   = "none"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

type PipelineConfig struct {
	ChunkSize           int    `yaml:"chunk_size" toml:"chunk_size" validate:"gte=1,lte=200"`
	Parallelism         int    `yaml:"parallelism" toml:"parallelism" validate:"gte=1,lte=64"`
	FallbackParallelism int    `yaml:"fallback_parallelism" toml:"fallback_parallelism" validate:"gte=1,lte=64"`
	Region              string `yaml:"region" toml:"region" validate:"required"`
	// WebSearch enables the LLM-backed fallback for unmatched wines and
	// missing critic scores.
	WebSearch bool `yaml:"web_search" toml:"web_search"`
}

type CacheConfig struct {
	Backend    string            `yaml:"backend" toml:"backend" validate:"oneof=none sqlite redis"`
	Path       string            `yaml:"path" toml:"path" validate:"required_if=Backend sqlite"`
	TTLMinutes int               `yaml:"ttl_minutes" toml:"ttl_minutes" validate:"gte=0"`
	Redis      cache.RedisConfig `yaml:"redis" toml:"redis"`
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return cache.DefaultTTL
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

type StoreConfig struct {
	// Path of the scan history database. Empty disables history.
	Path string `yaml:"path" toml:"path"`
}

type ServerConfig struct {
	Addr                  string `yaml:"addr" toml:"addr" validate:"required"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" toml:"request_timeout_seconds" validate:"gte=0"`
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

type ReportConfig struct {
	ChromePath string `yaml:"chrome_path" toml:"chrome_path"`
}

type Config struct {
	LLM      llm.Config                  `yaml:"llm" toml:"llm"`
	WineDB   winedb.Config               `yaml:"winedb" toml:"winedb"`
	Pipeline PipelineConfig              `yaml:"pipeline" toml:"pipeline"`
	Cache    CacheConfig                 `yaml:"cache" toml:"cache"`
	Store    StoreConfig                 `yaml:"store" toml:"store"`
	Server   ServerConfig                `yaml:"server" toml:"server"`
	Log      observability.LogConfig     `yaml:"log" toml:"log"`
	Tracing  observability.TracingConfig `yaml:"tracing" toml:"tracing"`
	Report   ReportConfig                `yaml:"report" toml:"report"`
}

var validate = validator.New()

func Default() *Config {
	return &Config{
		LLM: llm.Config{Provider: llm.ProviderAnthropic},
		WineDB: winedb.Config{
			BaseURL:            winedb.DefaultBaseURL,
			RateLimitPerMinute: winedb.DefaultRateLimitPerMinute,
			TimeoutSeconds:     winedb.DefaultTimeoutSeconds,
		},
		Pipeline: PipelineConfig{
			ChunkSize:           winescan.DefaultChunkSize,
			Parallelism:         winescan.DefaultParallelism,
			FallbackParallelism: winescan.DefaultFallbackParallelism,
			Region:              winescan.DefaultRegion,
			WebSearch:           true,
		},
		Cache: CacheConfig{
			Backend:    CacheSQLite,
			Path:       "winescan-cache.db",
			TTLMinutes: int(cache.DefaultTTL / time.Minute),
		},
		Store:  StoreConfig{Path: "winescan.db"},
		Server: ServerConfig{Addr: ":8080", RequestTimeoutSeconds: 300},
		Log:    observability.LogConfig{Level: "info", Format: "json"},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads the optional config file (YAML or TOML by extension), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() {
	envString("WINESCAN_LLM_PROVIDER", &c.LLM.Provider)
	envString("WINESCAN_LLM_MODEL", &c.LLM.Model)
	envString("WINESCAN_LLM_BASE_URL", &c.LLM.BaseURL)
	envInt("WINESCAN_LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	envSignedInt("WINESCAN_LLM_WEB_SEARCH_MAX_USES", &c.LLM.WebSearchMaxUses)
	envString("WINESCAN_LLM_API_KEY", &c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		envString(providerKeyEnv(c.LLM.Provider), &c.LLM.APIKey)
	}

	envString("WINEDB_BASE_URL", &c.WineDB.BaseURL)
	envString("WINEDB_API_KEY", &c.WineDB.APIKey)
	envInt("WINEDB_RATE_LIMIT", &c.WineDB.RateLimitPerMinute)
	envInt("WINEDB_TIMEOUT_SECONDS", &c.WineDB.TimeoutSeconds)

	envInt("WINESCAN_CHUNK_SIZE", &c.Pipeline.ChunkSize)
	envInt("WINESCAN_PARALLELISM", &c.Pipeline.Parallelism)
	envInt("WINESCAN_FALLBACK_PARALLELISM", &c.Pipeline.FallbackParallelism)
	envString("WINESCAN_REGION", &c.Pipeline.Region)
	envBool("WINESCAN_WEB_SEARCH", &c.Pipeline.WebSearch)

	envString("WINESCAN_CACHE_BACKEND", &c.Cache.Backend)
	envString("WINESCAN_CACHE_PATH", &c.Cache.Path)
	envInt("WINESCAN_CACHE_TTL_MINUTES", &c.Cache.TTLMinutes)
	envString("WINESCAN_REDIS_ADDR", &c.Cache.Redis.Addr)
	envString("WINESCAN_REDIS_PASSWORD", &c.Cache.Redis.Password)

	envString("WINESCAN_STORE_PATH", &c.Store.Path)
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	envString("WINESCAN_ADDR", &c.Server.Addr)

	envString("WINESCAN_LOG_LEVEL", &c.Log.Level)
	envString("WINESCAN_LOG_FORMAT", &c.Log.Format)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	envString("CHROME_PATH", &c.Report.ChromePath)
}

func (c *Config) Validate() error {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheNone
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid config: log format %q (use json or console)", c.Log.Format)
	}
	if c.Cache.Backend == CacheRedis && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return errors.New("invalid config: cache backend redis requires cache.redis.addr")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", llm.ProviderAnthropic, "claude", llm.ProviderGemini, llm.ProviderOpenAI, "ollama":
	default:
		return fmt.Errorf("invalid config: unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

func providerKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case llm.ProviderGemini:
		return "GEMINI_API_KEY"
	case llm.ProviderOpenAI, "ollama":
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return
	}
	*dst = n
}

// envSignedInt accepts zero and negative values, which envInt ignores.
func envSignedInt(key string, dst *int) {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*dst = b
}
