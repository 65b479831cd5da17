// Package main is the Shashin CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/query"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shashin/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and builds a logger; debugFlag forces debug logging.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, string) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || debugFlag
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, resolved
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolvedConfigPath := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Indexing.BootstrapOrDefault() {
		n, err := components.Indexer.EnsurePopulated(ctx, logProgress(logger))
		if err != nil {
			logger.Fatal("Failed to populate store", zap.Int("indexed", n), zap.Error(err))
		}
		if n > 0 {
			logger.Info("store populated", zap.Int("indexed", n), zap.Int("size", components.Store.Len()))
		}
	}

	if cfg.Indexing.Watch {
		if w := newDatasetWatcher(components, logger); w != nil {
			if err := w.Start(ctx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			defer w.Stop()
		} else {
			logger.Warn("indexing.watch requires a local dataset; watcher disabled",
				zap.String("source", cfg.Dataset.Source))
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Store,
		components.Source,
		components.Storage,
		cfg,
		logger,
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// newDatasetWatcher wires the fsnotify watcher to incremental indexing. Returns nil
// when the dataset is not a local directory.
func newDatasetWatcher(c *Components, logger *zap.Logger) *watcher.Watcher {
	local, ok := c.Source.(*dataset.Local)
	if !ok {
		return nil
	}
	idx := c.Indexer
	return watcher.NewWatcher(
		local.Dir(),
		local.Accepts,
		func(paths []string) {
			n, err := idx.IndexRefs(context.Background(), paths)
			if err != nil {
				logger.Warn("watch index failed", zap.Int("indexed", n), zap.Strings("paths", paths), zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("watch indexed images", zap.Int("indexed", n))
			}
		},
		func(path string) {
			// The store is append-only; removed images stay searchable until the store is rebuilt.
			logger.Info("image removed from dataset", zap.String("path", path))
		},
		watcher.WithLogger(logger),
	)
}

func logProgress(logger *zap.Logger) func(indexer.Progress) {
	return func(p indexer.Progress) {
		logger.Info("indexing progress",
			zap.Int("batch", p.Batch),
			zap.Int("batches", p.Batches),
			zap.Int("indexed", p.Indexed),
			zap.Int("total", p.Total),
		)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	sampleSize := fs.Int("sample-size", -1, "max images to index (overrides config; 0 = all)")
	batchSize := fs.Int("batch-size", 0, "images per batch (overrides config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := setup(*configPath, *debug)
	defer logger.Sync()
	if *sampleSize >= 0 {
		cfg.Dataset.SampleSize = *sampleSize
	}
	if *batchSize > 0 {
		cfg.Indexing.BatchSize = *batchSize
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	n, err := components.Indexer.Run(ctx, func(p indexer.Progress) {
		fmt.Printf("batch %d/%d  %d/%d images\n", p.Batch, p.Batches, p.Indexed, p.Total)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed after %d image(s): %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d image(s) in %s; store now holds %d\n",
		n, time.Since(start).Round(time.Millisecond), components.Store.Len())
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shashin search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  shashin search a dog on the beach
  shashin search --top-k 10 --threshold 0.2 "red sports car"
  shashin search --server "" sunset   # search the local store directly
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = search the local store directly)")
	topK := fs.Int("top-k", 0, "number of results (0 = server default)")
	threshold := fs.Float64("threshold", 0, "minimum cosine similarity")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	searchQuery := &models.SearchQuery{Query: queryStr}
	if *topK > 0 {
		searchQuery.TopK = topK
	}
	if flagSet(fs, "threshold") {
		searchQuery.Threshold = threshold
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, searchQuery)
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", initErr)
			os.Exit(1)
		}
		defer components.Close()
		response, err = components.Engine.Search(context.Background(), searchQuery, "")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var response models.SearchResponse
	if err := decodeResponse(resp, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func decodeResponse(resp *http.Response, v interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read the interaction log directly)")
	limit := fs.Int("limit", 20, "number of searches to show")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var list []*models.SearchInteraction
	if *serverURL != "" {
		list, err = historyViaHTTP(*serverURL, *limit)
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		db, openErr := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to open interaction log: %v\n", openErr)
			os.Exit(1)
		}
		defer db.Close()
		list, err = db.ListRecent(context.Background(), *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteInteractions(os.Stdout, list, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func historyViaHTTP(serverURL string, limit int) ([]*models.SearchInteraction, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	resp, err := http.Get(serverURL + "/api/v1/interactions?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Interactions []*models.SearchInteraction `json:"interactions"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Interactions, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	StoreType      string        `json:"store_type"`
	StoreSize      int           `json:"store_size"`
	Dimensions     int           `json:"dimensions"`
	Interactions   int64         `json:"interactions"`
	DiskUsageBytes int64         `json:"disk_usage_bytes"`
	Dataset        *dataset.Info `json:"dataset"`
}

func (s *statusResponse) toCLI() *cli.Status {
	out := &cli.Status{
		StoreType:      s.StoreType,
		StoreSize:      s.StoreSize,
		Dimensions:     s.Dimensions,
		Interactions:   s.Interactions,
		DiskUsageBytes: s.DiskUsageBytes,
	}
	if s.Dataset != nil {
		out.DatasetPath = s.Dataset.Location
		out.DatasetImages = s.Dataset.ImageCount
		out.DatasetExists = s.Dataset.Exists
	}
	return out
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = inspect local files directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status *statusResponse
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", initErr)
			os.Exit(1)
		}
		defer components.Close()
		status, err = localStatus(context.Background(), cfg, components)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status.toCLI(), format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*statusResponse, error) {
	n, err := c.Storage.CountInteractions(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.Source.Info(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := storage.MeasureUsage(cfg.Storage.StoreDir, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &statusResponse{
		StoreType:      c.Store.Type(),
		StoreSize:      c.Store.Len(),
		Dimensions:     c.Store.Dimensions(),
		Interactions:   n,
		DiskUsageBytes: usage.Total(),
		Dataset:        &info,
	}, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var s statusResponse
	if err := decodeResponse(resp, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store     vector.Store
	Encoder   embedding.Encoder
	Source    dataset.Source
	Storage   *storage.SQLiteStorage
	Engine    *search.Engine
	Indexer   *indexer.Indexer
	ModelName string
}

// Close releases every component, returning the combined error.
func (c *Components) Close() error {
	var err error
	if c.Storage != nil {
		err = multierr.Append(err, c.Storage.Close())
	}
	if c.Encoder != nil {
		err = multierr.Append(err, c.Encoder.Close())
	}
	if c.Store != nil {
		err = multierr.Append(err, c.Store.Close())
	}
	return err
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (c *Components, err error) {
	c = &Components{}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	c.Source = newSource(cfg)

	base, modelName, err := newEncoder(cfg, logger)
	if err != nil {
		return c, err
	}
	c.ModelName = modelName
	cached, err := embedding.NewCachedEncoder(base, cfg.Embedding.CacheSize)
	if err != nil {
		_ = base.Close()
		return c, err
	}
	c.Encoder = cached

	c.Store, err = vector.NewStore(cfg.Vector.StoreType, cfg.Storage.StoreDir, cfg.Embedding.Dimensions, vector.WithLogger(logger))
	if err != nil {
		return c, fmt.Errorf("failed to open vector store: %w", err)
	}
	logger.Info("vector store opened",
		zap.String("type", c.Store.Type()),
		zap.String("dir", cfg.Storage.StoreDir),
		zap.Int("size", c.Store.Len()),
	)

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return c, fmt.Errorf("failed to initialize storage: %w", err)
	}

	limits := models.SearchLimits{
		DefaultTopK:      cfg.Search.DefaultTopK,
		MaxTopK:          cfg.Search.MaxTopK,
		DefaultThreshold: cfg.Search.DefaultThreshold,
	}
	c.Engine = search.NewEngine(c.Store, query.NewAggregator(c.Encoder, logger),
		search.WithInteractionLog(c.Storage),
		search.WithLimits(limits),
		search.WithModelName(c.ModelName),
		search.WithLogger(logger),
	)
	c.Indexer = indexer.NewIndexer(c.Store, c.Encoder, c.Source,
		indexer.WithBatchSize(cfg.Indexing.BatchSize),
		indexer.WithLogger(logger),
	)
	return c, nil
}

func newSource(cfg *config.Config) dataset.Source {
	opts := []dataset.Option{
		dataset.WithExtensions(cfg.Dataset.Extensions...),
		dataset.WithSampleSize(cfg.Dataset.SampleSize),
	}
	if cfg.Dataset.Source == config.SourceS3 {
		s3cfg := cfg.Dataset.S3
		client := dataset.NewS3Client(dataset.S3Config{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		return dataset.NewS3(client, s3cfg.Bucket, s3cfg.Prefix, opts...)
	}
	return dataset.NewLocal(cfg.Dataset.DataPath, opts...)
}

// newEncoder builds the configured encoder. The clip model falls back to the deterministic
// mock encoder when its ONNX files are missing or ONNX Runtime is unavailable.
func newEncoder(cfg *config.Config, logger *zap.Logger) (embedding.Encoder, string, error) {
	emb := cfg.Embedding
	mc := embedding.ModelConfig{
		Model:      emb.Model,
		Name:       emb.ModelName,
		Dimensions: emb.Dimensions,
		CLIP: embedding.CLIPConfig{
			TextModelPath:  emb.TextModelPath,
			ImageModelPath: emb.ImageModelPath,
			VocabPath:      emb.VocabPath,
			Dimensions:     emb.Dimensions,
			MaxTokens:      emb.MaxTokens,
		},
		Remote: embedding.RemoteConfig{
			URL:        emb.Remote.URL,
			APIToken:   emb.Remote.APIToken,
			Dimensions: emb.Dimensions,
			Timeout:    time.Duration(emb.Remote.TimeoutSeconds) * time.Second,
		},
	}
	if mc.Model == config.ModelCLIP {
		var missing []string
		for _, p := range []string{emb.TextModelPath, emb.ImageModelPath} {
			if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			logger.Warn("CLIP models not found, using mock encoder", zap.Strings("missing", missing))
			mc.Model = config.ModelMock
		}
	}
	enc, name, err := embedding.NewEncoder(mc)
	if err != nil {
		if mc.Model != config.ModelCLIP {
			return nil, "", fmt.Errorf("failed to create %s encoder: %w", mc.Model, err)
		}
		logger.Warn("CLIP encoder unavailable, using mock encoder", zap.Error(err))
		mc.Model = config.ModelMock
		enc, name, err = embedding.NewEncoder(mc)
		if err != nil {
			return nil, "", err
		}
	}
	logger.Info("encoder ready", zap.String("model", mc.Model), zap.String("name", name))
	return enc, name, nil
}

func printUsage() {
	fmt.Println(`shashin - Text-to-image retrieval over CLIP embeddings

Usage:
  shashin server [flags]           Start the HTTP server
  shashin index [flags]            Encode dataset images into the vector store
  shashin search [flags] <query>   Search images by description
  shashin history [flags]          Show recent searches
  shashin status [flags]           Show store, dataset, and disk status
  shashin version                  Show version
  shashin help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/shashin/config.yaml)
  --debug            Enable debug logging

Index Flags:
  --config string    Config file path
  --sample-size int  Max images to index (overrides config; 0 = all)
  --batch-size int   Images per batch (overrides config)

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to search the local store directly.
  --top-k int        Number of results (default from config)
  --threshold float  Minimum cosine similarity
  --output string    Output format: text or json

History / Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct access.
  --limit int        Searches to show (history only, default: 20)
  --output string    Output format: text or json

Environment:
  DATA_PATH, SAMPLE_SIZE, VECTOR_STORE, STORE_DIR override the config file (.env supported).

Examples:
  shashin server
  shashin index --sample-size 100
  shashin search "a dog catching a frisbee"
  shashin search --output json --top-k 10 sunset over water
  shashin history --limit 5
  shashin status --output json`)
}
