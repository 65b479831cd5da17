package config

import "strings"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.StoreDir == "" {
		cfg.Storage.StoreDir = "/usr/local/var/shashin/data/store"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/interactions.db"
	}
	cfg.Vector.StoreType = strings.ToLower(cfg.Vector.StoreType)
	if cfg.Vector.StoreType == "" {
		cfg.Vector.StoreType = "faiss"
	}
	cfg.Embedding.Model = strings.ToLower(cfg.Embedding.Model)
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = ModelCLIP
	}
	if cfg.Embedding.Remote.TimeoutSeconds == 0 {
		cfg.Embedding.Remote.TimeoutSeconds = 30
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "/usr/local/var/shashin/data/models/clip-text.onnx"
	}
	if cfg.Embedding.ImageModelPath == "" {
		cfg.Embedding.ImageModelPath = "/usr/local/var/shashin/data/models/clip-vision.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	cfg.Dataset.Source = strings.ToLower(cfg.Dataset.Source)
	if cfg.Dataset.Source == "" {
		cfg.Dataset.Source = SourceLocal
	}
	if cfg.Dataset.DataPath == "" {
		cfg.Dataset.DataPath = "/usr/local/var/shashin/data/images"
	}
	if cfg.Dataset.SampleSize == 0 {
		cfg.Dataset.SampleSize = 500
	}
	if cfg.Dataset.Extensions == nil {
		cfg.Dataset.Extensions = []string{".jpg"}
	}
	if cfg.Dataset.S3.Region == "" {
		cfg.Dataset.S3.Region = "us-east-1"
	}
	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 32
	}
	// Bootstrap defaults to true when unset (nil).
	if cfg.Indexing.Bootstrap == nil {
		t := true
		cfg.Indexing.Bootstrap = &t
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
}
