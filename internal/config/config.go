// Package config provides YAML-based configuration for concierge.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CONCIERGE_CONFIG environment variable
//  3. ~/.concierge/config.yaml
//  4. ./concierge.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat model used for category generation.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the dense text embedder.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// MMEmbedding configures the multimodal (image-text) embedder.
	MMEmbedding MMEmbeddingConfig `yaml:"mm_embedding"`

	// Sparse configures the TF-IDF sparse encoder.
	Sparse SparseConfig `yaml:"sparse"`

	// Qdrant configures the catalog vector index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// FeatureStore configures the item attribute store.
	FeatureStore FeatureStoreConfig `yaml:"feature_store"`

	// Redis configures the Redis feature store backend.
	Redis RedisConfig `yaml:"redis"`

	// Rerank configures the semantic ranking service.
	Rerank RerankConfig `yaml:"rerank"`

	// Judge configures the vision relevance judge.
	Judge JudgeConfig `yaml:"judge"`

	// Research configures deep research pacing.
	Research ResearchConfig `yaml:"research"`

	// Catalog describes the indexed catalog.
	Catalog CatalogConfig `yaml:"catalog"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures search history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint ID.
	Model string `yaml:"model"`
	// BaseURL overrides the regional endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds dense text embedding settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// MMEmbeddingConfig holds multimodal embedding settings.
type MMEmbeddingConfig struct {
	// Endpoint is the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the endpoint key. Prefer env var MM_EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the multimodal embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the vector size.
	Dimensions int `yaml:"dimensions"`
}

// SparseConfig holds sparse encoder settings.
type SparseConfig struct {
	// VocabPath is the fitted TF-IDF vocabulary file.
	VocabPath string `yaml:"vocab_path"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// FeatureStoreConfig selects the attribute store.
type FeatureStoreConfig struct {
	// Backend is sqlite or redis.
	Backend string `yaml:"backend"`
	// Path is the SQLite database path.
	Path string `yaml:"path"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is host:port.
	Addr string `yaml:"addr"`
	// Password is the Redis password. Prefer env var REDIS_PASSWORD.
	Password string `yaml:"password"`
	// DB is the logical database index.
	DB int `yaml:"db"`
}

// RerankConfig holds ranking service settings.
type RerankConfig struct {
	// Endpoint is the full /v1/rerank URL.
	Endpoint string `yaml:"endpoint"`
	// Model is the ranking model name.
	Model string `yaml:"model"`
	// APIKey is the service key. Prefer env var RERANK_API_KEY.
	APIKey string `yaml:"api_key"`
}

// JudgeConfig holds vision relevance judge settings. The Gemini API key is
// shared with model.gemini.api_key.
type JudgeConfig struct {
	// Model is the Gemini model used for judging.
	Model string `yaml:"model"`
	// ImageURLTemplate is the product photo URL with an {id} placeholder.
	// The relevance filter is disabled when empty.
	ImageURLTemplate string `yaml:"image_url_template"`
	// BatchTimeout is the shared batch deadline, e.g. "5s".
	BatchTimeout string `yaml:"batch_timeout"`
}

// ResearchConfig holds deep research pacing.
type ResearchConfig struct {
	// Stagger is the delay between category launches, e.g. "5s".
	Stagger string `yaml:"stagger"`
	// Settle is the delay before the aggregate, e.g. "5s".
	Settle string `yaml:"settle"`
	// Budget is the per-lookup neighbour count.
	Budget int `yaml:"budget"`
}

// CatalogConfig describes the catalog.
type CatalogConfig struct {
	// TotalItems overrides the catalog size reported in results. When zero
	// the index point count is used.
	TotalItems int `yaml:"total_items"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var CONCIERGE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds search history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"MM_EMBEDDING_ENDPOINT", func(c *Config) string { return c.MMEmbedding.Endpoint }},
	{"MM_EMBEDDING_API_KEY", func(c *Config) string { return c.MMEmbedding.APIKey }},
	{"MM_EMBEDDING_MODEL", func(c *Config) string { return c.MMEmbedding.Model }},
	{"MM_EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.MMEmbedding.Dimensions) }},
	{"SPARSE_VOCAB_PATH", func(c *Config) string { return c.Sparse.VocabPath }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"FEATURE_STORE", func(c *Config) string { return c.FeatureStore.Backend }},
	{"FEATURE_STORE_PATH", func(c *Config) string { return c.FeatureStore.Path }},
	{"REDIS_ADDR", func(c *Config) string { return c.Redis.Addr }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Redis.Password }},
	{"REDIS_DB", func(c *Config) string { return intStr(c.Redis.DB) }},
	{"RERANK_ENDPOINT", func(c *Config) string { return c.Rerank.Endpoint }},
	{"RERANK_MODEL", func(c *Config) string { return c.Rerank.Model }},
	{"RERANK_API_KEY", func(c *Config) string { return c.Rerank.APIKey }},
	{"JUDGE_MODEL", func(c *Config) string { return c.Judge.Model }},
	{"JUDGE_IMAGE_URL_TEMPLATE", func(c *Config) string { return c.Judge.ImageURLTemplate }},
	{"JUDGE_BATCH_TIMEOUT", func(c *Config) string { return c.Judge.BatchTimeout }},
	{"RESEARCH_STAGGER", func(c *Config) string { return c.Research.Stagger }},
	{"RESEARCH_SETTLE", func(c *Config) string { return c.Research.Settle }},
	{"RESEARCH_BUDGET", func(c *Config) string { return intStr(c.Research.Budget) }},
	{"CATALOG_TOTAL_ITEMS", func(c *Config) string { return intStr(c.Catalog.TotalItems) }},
	{"CONCIERGE_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"CONCIERGE_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and exports its non-empty values as
// environment variables. Variables already set are left alone. Returns the
// path that was loaded, or "" when no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return "", fmt.Errorf("config: %s: %w", path, err)
	}

	applied, skipped := 0, 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			skipped++
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
		slog.Int("keys_shadowed_by_env", skipped),
	)

	return path, nil
}

// validate rejects values that would only fail later, at first use.
func (c *Config) validate() error {
	var errs []error
	for name, v := range map[string]string{
		"judge.batch_timeout": c.Judge.BatchTimeout,
		"research.stagger":    c.Research.Stagger,
		"research.settle":     c.Research.Settle,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	switch c.FeatureStore.Backend {
	case "", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("feature_store.backend: unknown backend %q", c.FeatureStore.Backend))
	}
	if c.Catalog.TotalItems < 0 {
		errs = append(errs, errors.New("catalog.total_items: must not be negative"))
	}
	return errors.Join(errs...)
}

// Duration returns the duration in the named environment variable, or
// fallback when it is unset or unparseable.
func Duration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Int returns the integer in the named environment variable, or fallback
// when it is unset or unparseable.
func Int(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Float32 returns the float in the named environment variable, or fallback
// when it is unset or unparseable.
func Float32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// First returns the first non-empty value among the named environment
// variables, so a specific key can override an inherited one.
func First(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// String returns the named environment variable, or fallback when it is
// unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CONCIERGE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".concierge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("concierge.yaml"); err == nil {
		return "concierge.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
