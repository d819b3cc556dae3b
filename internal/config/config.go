// Package config loads settings from the environment, an optional .env file
// and an optional TOML tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/embedding"
	"github.com/bull/edu-rag-server/internal/engine"
	"github.com/bull/edu-rag-server/internal/indexer"
	"github.com/bull/edu-rag-server/internal/retrieval"
	"github.com/bull/edu-rag-server/internal/routing"
)

// Embedding provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider          string
	BaseURL           string // OpenAI-compatible endpoint or Ollama host
	APIKey            string
	Model             string
	Dimension         int
	BatchSize         int
	MaxTokens         int
	RequestsPerSecond float64 // 0 disables rate limiting
	CacheDir          string  // badger directory, empty disables the vector cache
}

// GitHubConfig locates the textbook repository read by sync.
type GitHubConfig struct {
	Token string
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// Config is the full process configuration.
type Config struct {
	QdrantHost string
	QdrantPort int
	SQLitePath string

	RedisURL      string // empty disables the result cache
	RedisPassword string
	RedisDB       int

	Embedding EmbeddingConfig
	GitHub    GitHubConfig

	Retrieval retrieval.Config
	Routing   routing.Tables
	Cache     cache.Config
	Engine    engine.Config
	Indexer   indexer.Config

	Port         string
	ServerMode   bool // serve MCP over HTTP instead of stdio
	MCPStateless bool // disable MCP sessions on /mcp
	LogLevel     string
	LogFormat    string
}

// Load reads .env (when present), the environment and, when CONFIG_FILE is
// set, the TOML tuning file. Malformed values fail with domain.ErrValidation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var env envReader
	cfg := &Config{
		QdrantHost: env.getEnv("QDRANT_HOST", "localhost"),
		QdrantPort: env.getEnvInt("QDRANT_PORT", 6334),
		SQLitePath: env.getEnv("SQLITE_PATH", "data/chunks.db"),

		RedisURL:      env.getEnv("REDIS_URL", ""),
		RedisPassword: env.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       env.getEnvInt("REDIS_DB", 0),

		Embedding: EmbeddingConfig{
			Provider:          strings.ToLower(env.getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			BaseURL:           env.getEnv("EMBEDDING_BASE_URL", ""),
			APIKey:            env.getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:             env.getEnv("EMBEDDING_MODEL", embedding.DefaultModel),
			Dimension:         env.getEnvInt("EMBEDDING_DIMENSION", embedding.DefaultDimension),
			BatchSize:         env.getEnvInt("EMBEDDING_BATCH_SIZE", embedding.DefaultBatchSize),
			MaxTokens:         env.getEnvInt("EMBEDDING_MAX_TOKENS", embedding.DefaultMaxTokens),
			RequestsPerSecond: env.getEnvFloat("EMBEDDING_RPS", 0),
			CacheDir:          env.getEnv("EMBEDDING_CACHE_DIR", ""),
		},
		GitHub: GitHubConfig{
			Token: env.getEnv("GITHUB_TOKEN", ""),
			Owner: env.getEnv("GITHUB_OWNER", ""),
			Repo:  env.getEnv("GITHUB_REPO", ""),
			Path:  env.getEnv("GITHUB_PATH", "textbooks"),
			Ref:   env.getEnv("GITHUB_REF", ""),
		},

		Retrieval: retrieval.DefaultConfig(),
		Routing:   routing.DefaultTables(),
		Cache:     cache.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Indexer:   indexer.DefaultConfig(),

		Port:         env.getEnv("PORT", "8080"),
		ServerMode:   env.getEnvBool("SERVER_MODE", false),
		MCPStateless: env.getEnvBool("MCP_STATELESS", true),
		LogLevel:     env.getEnv("LOG_LEVEL", "info"),
		LogFormat:    env.getEnv("LOG_FORMAT", "json"),
	}
	cfg.Retrieval.Timeout = env.getEnvDuration("SEARCH_TIMEOUT", cfg.Retrieval.Timeout)
	cfg.Cache.OpTimeout = env.getEnvDuration("CACHE_TIMEOUT", cfg.Cache.OpTimeout)
	cfg.Engine.WarmInterval = env.getEnvDuration("WARM_INTERVAL", cfg.Engine.WarmInterval)
	cfg.Indexer.BatchSize = cfg.Embedding.BatchSize

	if err := env.err(); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrValidation}, args...)...))
		}
	}

	check(c.QdrantPort > 0 && c.QdrantPort < 65536, "QDRANT_PORT %d out of range", c.QdrantPort)
	check(c.Embedding.Provider == ProviderOpenAI || c.Embedding.Provider == ProviderOllama,
		"EMBEDDING_PROVIDER must be %s or %s, got %q", ProviderOpenAI, ProviderOllama, c.Embedding.Provider)
	check(c.Embedding.Dimension > 0, "EMBEDDING_DIMENSION must be positive")
	check(c.Embedding.BatchSize > 0 && c.Embedding.BatchSize <= embedding.MaxBatchSize,
		"EMBEDDING_BATCH_SIZE must be between 1 and %d", embedding.MaxBatchSize)
	check(c.Embedding.MaxTokens > 0, "EMBEDDING_MAX_TOKENS must be positive")
	check(c.Embedding.RequestsPerSecond >= 0, "EMBEDDING_RPS must not be negative")

	r := c.Retrieval
	check(r.SemanticWeight >= 0 && r.KeywordWeight >= 0, "retrieval weights must not be negative")
	check(r.HybridShare >= 0 && r.RerankShare >= 0, "retrieval shares must not be negative")
	check(r.MinConfidence >= 0 && r.MinConfidence < 1, "min_confidence must be in [0, 1)")
	check(r.SemanticLimit > 0 && r.KeywordLimit > 0, "candidate limits must be positive")
	check(r.Timeout > 0, "search timeout must be positive")
	check(c.Engine.MaxLimit >= c.Engine.DefaultLimit, "max_limit must be at least default_limit")
	check(c.Cache.OpTimeout > 0, "cache timeout must be positive")

	if _, err := routing.NewRouter(c.Routing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fileConfig is the layout of the TOML tuning file. Absent keys keep their
// defaults; a non-empty routing list replaces the built-in one.
type fileConfig struct {
	Retrieval retrieval.Config `toml:"retrieval"`
	Routing   routing.Tables   `toml:"routing"`
	Cache     struct {
		PopularThreshold int `toml:"popular_threshold"`
	} `toml:"cache"`
	Engine struct {
		MaxLimit     int `toml:"max_limit"`
		DefaultLimit int `toml:"default_limit"`
		WarmQueries  int `toml:"warm_queries"`
	} `toml:"engine"`
	Indexer struct {
		Concurrency int `toml:"concurrency"`
		Workers     int `toml:"workers"`
	} `toml:"indexer"`
	Timeouts struct {
		Search     string `toml:"search"`
		Cache      string `toml:"cache"`
		Warm       string `toml:"warm_interval"`
		SearchTTL  string `toml:"search_ttl"`
		RoutingTTL string `toml:"routing_ttl"`
	} `toml:"timeouts"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fc := fileConfig{Retrieval: c.Retrieval}
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", domain.ErrValidation, path, err)
	}

	c.Retrieval = fc.Retrieval

	if len(fc.Routing.Subjects) > 0 {
		c.Routing.Subjects = fc.Routing.Subjects
	}
	if len(fc.Routing.QueryTypes) > 0 {
		c.Routing.QueryTypes = fc.Routing.QueryTypes
	}
	if len(fc.Routing.NonEducational) > 0 {
		c.Routing.NonEducational = fc.Routing.NonEducational
	}
	setInt(&c.Cache.PopularThreshold, fc.Cache.PopularThreshold)
	setInt(&c.Engine.MaxLimit, fc.Engine.MaxLimit)
	setInt(&c.Engine.DefaultLimit, fc.Engine.DefaultLimit)
	setInt(&c.Engine.WarmQueries, fc.Engine.WarmQueries)
	setInt(&c.Indexer.Concurrency, fc.Indexer.Concurrency)
	setInt(&c.Indexer.Workers, fc.Indexer.Workers)

	var errs []error
	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&c.Retrieval.Timeout, fc.Timeouts.Search, "timeouts.search"},
		{&c.Cache.OpTimeout, fc.Timeouts.Cache, "timeouts.cache"},
		{&c.Engine.WarmInterval, fc.Timeouts.Warm, "timeouts.warm_interval"},
		{&c.Cache.SearchTTL, fc.Timeouts.SearchTTL, "timeouts.search_ttl"},
		{&c.Cache.RoutingTTL, fc.Timeouts.RoutingTTL, "timeouts.routing_ttl"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", domain.ErrValidation, d.key, err))
			continue
		}
		*d.dst = v
	}
	return errors.Join(errs...)
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// envReader reads typed variables and collects parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func (e *envReader) getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return defaultValue
	}
	return i
}

func (e *envReader) getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return defaultValue
	}
	return f
}

func (e *envReader) getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return defaultValue
	}
	return b
}

func (e *envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return defaultValue
	}
	return d
}

func (e *envReader) fail(key, value string) {
	e.errs = append(e.errs, fmt.Errorf("%w: invalid %s %q", domain.ErrValidation, key, value))
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
