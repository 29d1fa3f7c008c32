package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/policyrag/internal/domain"
)

// Config holds the policyrag configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Inference InferenceConfig `yaml:"inference"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Source    SourceConfig    `yaml:"source"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API keys guarding the admin routes (indexing).
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds chunk store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis, postgres (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Standalone       bool     `yaml:"standalone"`
	DSN              string   `yaml:"dsn"` // postgres only
	MaxConns         int32    `yaml:"max_conns"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds HNSW parameters.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
	HNSWEFRuntime   int `yaml:"hnsw_ef_runtime"`
}

// StorageConfig holds key layout settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding provider and pipeline settings.
type EmbeddingConfig struct {
	Provider            string  `yaml:"provider"` // openai, gemini (default: openai)
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	Model               string  `yaml:"model"`
	Dimensions          int     `yaml:"dimensions"`
	BatchSize           int     `yaml:"batch_size"`
	MaxRetryAttempts    int     `yaml:"max_retry_attempts"`
	RetryBaseDelayMs    int     `yaml:"retry_base_delay_ms"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"` // 0 = unlimited
	TimeoutMs           int     `yaml:"timeout_ms"`
	DocumentInstruction string  `yaml:"document_instruction"`
	QueryInstruction    string  `yaml:"query_instruction"`
}

// CacheConfig holds query-embedding cache settings.
type CacheConfig struct {
	Enabled *bool `yaml:"enabled"`
	TTLSec  int   `yaml:"ttl_sec"` // 0 = entries never expire
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK                 int      `yaml:"top_k"`
	MinSimilarity        *float64 `yaml:"min_similarity"`
	HybridEnabled        *bool    `yaml:"hybrid_enabled"`
	HybridKeywordWeight  *float64 `yaml:"hybrid_keyword_weight"`
	HybridSemanticWeight *float64 `yaml:"hybrid_semantic_weight"`
	Fusion               string   `yaml:"fusion"` // weighted, rrf
	ContextMaxTokens     int      `yaml:"context_max_tokens"`
	ContextFormat        string   `yaml:"context_format"` // structured, compact, prose
	ContextHeader        bool     `yaml:"context_header"`
	QueryDeadlineMs      int      `yaml:"query_deadline_ms"`
	StoreTimeoutMs       int      `yaml:"store_timeout_ms"`
	FallbackEnabled      *bool    `yaml:"fallback_enabled"`
	FallbackContext      string   `yaml:"fallback_context"`
}

// InferenceConfig holds category inference settings.
type InferenceConfig struct {
	Mode          string  `yaml:"mode"` // keyword, external, off (default: keyword)
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	MinConfidence float64 `yaml:"min_confidence"`
	TimeoutMs     int     `yaml:"timeout_ms"`
}

// IndexerConfig holds indexing pipeline settings.
type IndexerConfig struct {
	Concurrency      int `yaml:"concurrency"`
	StoreTimeoutMs   int `yaml:"store_timeout_ms"`
	DescriptionLimit int `yaml:"description_limit"`
	WatchDebounceMs  int `yaml:"watch_debounce_ms"`
	// Watch re-indexes when the local corpus file changes (server only).
	Watch bool `yaml:"watch"`
}

// SourceConfig locates the policy corpus.
type SourceConfig struct {
	Path         string `yaml:"path"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3Key        string `yaml:"s3_key"`
	S3Region     string `yaml:"s3_region"`
	AWSAccessKey string `yaml:"aws_access_key"`
	AWSSecretKey string `yaml:"aws_secret_key"`
}

// Load reads configuration from a YAML file by environment name (local, docker, prod).
// A .env file in the working directory, when present, is loaded first.
func Load(env string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	return LoadFile(findConfigPath(env))
}

// LoadFile reads, expands, defaults and validates one config file.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads environment files without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

func ptr[T any](v T) *T { return &v }

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.HNSWEFRuntime <= 0 {
		c.Index.HNSWEFRuntime = 40
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "policyrag:"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 100
	}
	if c.Embedding.MaxRetryAttempts <= 0 {
		c.Embedding.MaxRetryAttempts = 3
	}
	if c.Embedding.RetryBaseDelayMs <= 0 {
		c.Embedding.RetryBaseDelayMs = 500
	}
	if c.Embedding.TimeoutMs <= 0 {
		c.Embedding.TimeoutMs = 10000
	}
	if c.Cache.Enabled == nil {
		c.Cache.Enabled = ptr(true)
	}

	r := &c.Retrieval
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.MinSimilarity == nil {
		r.MinSimilarity = ptr(0.5)
	}
	if r.HybridEnabled == nil {
		r.HybridEnabled = ptr(true)
	}
	if r.HybridKeywordWeight == nil {
		r.HybridKeywordWeight = ptr(0.3)
	}
	if r.HybridSemanticWeight == nil {
		r.HybridSemanticWeight = ptr(0.7)
	}
	if r.Fusion == "" {
		r.Fusion = "weighted"
	}
	if r.ContextMaxTokens <= 0 {
		r.ContextMaxTokens = 4000
	}
	if r.ContextFormat == "" {
		r.ContextFormat = "structured"
	}
	if r.QueryDeadlineMs <= 0 {
		r.QueryDeadlineMs = 500
	}
	if r.StoreTimeoutMs <= 0 {
		r.StoreTimeoutMs = 300
	}
	if r.FallbackEnabled == nil {
		r.FallbackEnabled = ptr(true)
	}

	if c.Inference.Mode == "" {
		c.Inference.Mode = "keyword"
	}
	if c.Inference.MinConfidence <= 0 {
		c.Inference.MinConfidence = 0.3
	}
	if c.Inference.TimeoutMs <= 0 {
		c.Inference.TimeoutMs = 250
	}
	if c.Inference.APIKey == "" {
		c.Inference.APIKey = c.Embedding.APIKey
	}
	if c.Inference.BaseURL == "" && c.Embedding.Provider == "openai" {
		c.Inference.BaseURL = c.Embedding.BaseURL
	}

	if c.Indexer.Concurrency <= 0 {
		c.Indexer.Concurrency = 4
	}
	if c.Indexer.StoreTimeoutMs <= 0 {
		c.Indexer.StoreTimeoutMs = 5000
	}
	if c.Indexer.DescriptionLimit == 0 {
		c.Indexer.DescriptionLimit = 1200
	}
	if c.Indexer.WatchDebounceMs <= 0 {
		c.Indexer.WatchDebounceMs = 500
	}
	if c.Source.Path == "" && c.Source.S3Bucket == "" {
		c.Source.Path = "data/policies.json"
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return invalid("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case "valkey", "redis":
		if len(c.Database.Addrs) == 0 {
			return invalid("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return invalid("database.dsn is required for driver \"postgres\"")
		}
	default:
		return invalid("database.driver must be valkey, redis or postgres, got %q", c.Database.Driver)
	}

	e := c.Embedding
	switch e.Provider {
	case "openai", "gemini":
	default:
		return invalid("embedding.provider must be openai or gemini, got %q", e.Provider)
	}
	if err := (domain.EmbeddingSpace{Model: e.Model, Dimensions: e.Dimensions}).Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if e.BatchSize > 2048 {
		return invalid("embedding.batch_size must be at most 2048, got %d", e.BatchSize)
	}
	if e.RequestsPerSecond < 0 {
		return invalid("embedding.requests_per_second must not be negative")
	}

	r := c.Retrieval
	if r.MinSimilarity != nil && (*r.MinSimilarity < -1 || *r.MinSimilarity > 1) {
		return invalid("retrieval.min_similarity must be in [-1, 1], got %v", *r.MinSimilarity)
	}
	kw, sw := deref(r.HybridKeywordWeight), deref(r.HybridSemanticWeight)
	if kw < 0 || kw > 1 || sw < 0 || sw > 1 {
		return invalid("retrieval hybrid weights must be in [0, 1], got %v / %v", kw, sw)
	}
	if kw == 0 && sw == 0 {
		return invalid("retrieval hybrid weights must not both be zero")
	}
	switch r.Fusion {
	case "", "weighted", "rrf":
	default:
		return invalid("retrieval.fusion must be weighted or rrf, got %q", r.Fusion)
	}
	switch r.ContextFormat {
	case "", "structured", "compact", "prose":
	default:
		return invalid("retrieval.context_format must be structured, compact or prose, got %q", r.ContextFormat)
	}

	switch c.Inference.Mode {
	case "", "keyword", "off":
	case "external":
		if c.Inference.Model == "" {
			return invalid("inference.model is required for mode \"external\"")
		}
	default:
		return invalid("inference.mode must be keyword, external or off, got %q", c.Inference.Mode)
	}

	if c.Source.S3Bucket != "" && c.Source.S3Key == "" {
		return invalid("source.s3_key is required with source.s3_bucket")
	}
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Space returns the configured embedding space.
func (c *Config) Space() domain.EmbeddingSpace {
	return domain.EmbeddingSpace{Model: c.Embedding.Model, Dimensions: c.Embedding.Dimensions}
}

// QueryDeadline returns the aggregate query deadline.
func (r RetrievalConfig) QueryDeadline() time.Duration {
	return time.Duration(r.QueryDeadlineMs) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
