// Package config provides configuration loading and structs for the Shashin server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the vector store directory and the interaction database.
type StorageConfig struct {
	StoreDir     string `yaml:"store_dir"`
	DatabasePath string `yaml:"database_path"`
}

// VectorConfig selects the similarity store backend.
type VectorConfig struct {
	StoreType string `yaml:"store_type"`
}

// EmbeddingConfig selects the encoder and holds its settings.
type EmbeddingConfig struct {
	Model          string       `yaml:"model"`      // clip, remote or mock
	ModelName      string       `yaml:"model_name"` // recorded with each search; empty uses the model's default
	Remote         RemoteConfig `yaml:"remote"`
	TextModelPath  string       `yaml:"text_model_path"`
	ImageModelPath string       `yaml:"image_model_path"`
	VocabPath      string       `yaml:"vocab_path"`
	Dimensions     int          `yaml:"dimensions"`
	MaxTokens      int          `yaml:"max_tokens"`
	CacheSize      int          `yaml:"cache_size"`
}

// RemoteConfig addresses a hosted feature-extraction model (embedding.model "remote").
// An empty URL uses the Hugging Face Inference API for model_name.
type RemoteConfig struct {
	URL            string `yaml:"url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DatasetConfig describes where the image corpus lives.
type DatasetConfig struct {
	Source     string   `yaml:"source"`
	DataPath   string   `yaml:"data_path"`
	SampleSize int      `yaml:"sample_size"`
	Extensions []string `yaml:"extensions"`
	S3         S3Config `yaml:"s3"`
}

// S3Config holds bucket settings used when dataset.source is "s3".
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// IndexingConfig controls bulk indexing and the directory watcher.
type IndexingConfig struct {
	BatchSize int   `yaml:"batch_size"`
	Bootstrap *bool `yaml:"bootstrap"`
	Watch     bool  `yaml:"watch"`
}

// BootstrapOrDefault returns whether to populate an empty store at startup; defaults to true when unset.
func (i *IndexingConfig) BootstrapOrDefault() bool {
	if i.Bootstrap != nil {
		return *i.Bootstrap
	}
	return true
}

// SearchConfig holds query limits.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// Environment variables that override file settings.
const (
	EnvDataPath    = "DATA_PATH"
	EnvSampleSize  = "SAMPLE_SIZE"
	EnvVectorStore = "VECTOR_STORE"
	EnvStoreDir    = "STORE_DIR"
	EnvModel       = "EMBEDDING_MODEL"
	EnvHFToken     = "HUGGINGFACE_API_TOKEN"
)

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. A .env file next to the config is loaded first;
// variables already set in the process environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	LoadDotEnv(configDir)

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Storage.StoreDir = expandPath(cfg.Storage.StoreDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	cfg.Embedding.ImageModelPath = expandPath(cfg.Embedding.ImageModelPath, configDir)
	if cfg.Embedding.VocabPath != "" {
		cfg.Embedding.VocabPath = expandPath(cfg.Embedding.VocabPath, configDir)
	}
	if cfg.Dataset.Source == SourceLocal {
		cfg.Dataset.DataPath = expandPath(cfg.Dataset.DataPath, configDir)
	}

	return &cfg, nil
}

// LoadDotEnv loads dir/.env and then ./.env when present. Missing files are ignored.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Load()
}

// ApplyEnv overrides dataset, store and model settings from the environment.
// HUGGINGFACE_API_TOKEN only fills a token the file leaves empty.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvDataPath)); v != "" {
		cfg.Dataset.DataPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSampleSize)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s %q: must be a non-negative integer", EnvSampleSize, v)
		}
		cfg.Dataset.SampleSize = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvVectorStore)); v != "" {
		cfg.Vector.StoreType = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreDir)); v != "" {
		cfg.Storage.StoreDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		cfg.Embedding.Model = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvHFToken)); v != "" && cfg.Embedding.Remote.APIToken == "" {
		cfg.Embedding.Remote.APIToken = v
	}
	return nil
}

// Embedding models.
const (
	ModelCLIP   = "clip"
	ModelRemote = "remote"
	ModelMock   = "mock"
)

// Dataset sources.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// Validate reports settings that cannot be served.
func (c *Config) Validate() error {
	switch c.Vector.StoreType {
	case "memory", "faiss":
	default:
		return fmt.Errorf("unsupported vector.store_type %q (want memory or faiss)", c.Vector.StoreType)
	}
	switch c.Dataset.Source {
	case SourceLocal:
	case SourceS3:
		if c.Dataset.S3.Bucket == "" {
			return fmt.Errorf("dataset.s3.bucket is required when dataset.source is %q", SourceS3)
		}
	default:
		return fmt.Errorf("unsupported dataset.source %q (want local or s3)", c.Dataset.Source)
	}
	switch c.Embedding.Model {
	case ModelCLIP, ModelRemote, ModelMock:
	default:
		return fmt.Errorf("unsupported embedding.model %q (want clip, remote or mock)", c.Embedding.Model)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.max_top_k (%d) is below search.default_top_k (%d)", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
