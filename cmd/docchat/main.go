// Package main is the docchat CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/answer"
	"github.com/hyperjump/docchat/internal/cli"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/gate"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/keyword"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/pipeline"
	"github.com/hyperjump/docchat/internal/search"
	"github.com/hyperjump/docchat/internal/server"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/internal/verify"
	"github.com/hyperjump/docchat/internal/watcher"
	"github.com/hyperjump/docchat/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docchat/config.yaml"

// loadConfig loads config from path. When path is the default and a
// config.yaml exists in the current directory, that file is used instead.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
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
		runServer(os.Args[2:])
	case "ask":
		runAsk(os.Args[2:])
	case "retrieve":
		runRetrieve(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "rebuild":
		runRebuild(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("docchat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand accepts.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	debug = fs.Bool("debug", false, "enable debug logging")
	return configPath, debug
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	return cfg, logger
}

func fatal(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	_ = logger.Sync()
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	if len(cfg.Watch.Directories) > 0 {
		w := watcher.NewWatcher(c.Indexer, cfg.Watch.Directories, cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(), watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			fatal(logger, "failed to start watcher", err)
		}
		defer w.Stop()
		go func() {
			if err := w.Sync(ctx); err != nil {
				logger.Error("initial sync failed", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(c.Pipeline, c.Retriever, c.Indexer, cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(args))

	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: docchat ask [flags] <question>")
		os.Exit(1)
	}
	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	if err := ask(ctx, c, question, outFormat, os.Stdout); err != nil {
		fatal(logger, "ask failed", err)
	}
}

// ask answers question and writes the result to w.
func ask(ctx context.Context, c *Components, question string, format cli.OutputFormat, w io.Writer) error {
	ans, err := c.Pipeline.Ask(ctx, question)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(w, ans, format)
}

func runRetrieve(args []string) {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	format := fs.String("format", "text", "output format: text or json")
	k := fs.Int("k", 0, "results per source (default from config)")
	_ = fs.Parse(reorderArgs(args))

	query := joinArgs(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: docchat retrieve [flags] <query>")
		os.Exit(1)
	}
	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	if *k <= 0 {
		*k = cfg.Retrieval.K
	}
	results, err := c.Retriever.Retrieve(ctx, query, *k)
	if err != nil {
		fatal(logger, "retrieve failed", err)
	}
	_ = cli.WriteRetrieveResults(os.Stdout, query, results, outFormat)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: docchat ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	stats, err := ingest(ctx, c.Indexer, fs.Args(), cfg.Watch.Extensions, *recursive)
	if err != nil {
		fatal(logger, "ingest failed", err)
	}
	fmt.Printf("Indexed %d, skipped %d unchanged, failed %d\n", stats.Indexed, stats.Skipped, stats.Failed)
}

// ingest stores every path (file or directory), then rebuilds the indexes once.
func ingest(ctx context.Context, idx *indexer.Indexer, paths, exts []string, recursive bool) (*indexer.IngestStats, error) {
	total := &indexer.IngestStats{}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return total, err
		}
		if info.IsDir() {
			stats, err := idx.IngestDirectory(ctx, path, exts, recursive)
			if err != nil {
				return total, err
			}
			total.Indexed += stats.Indexed
			total.Skipped += stats.Skipped
			total.Failed += stats.Failed
			continue
		}
		res, err := idx.IngestFile(ctx, path, nil)
		if err != nil {
			return total, err
		}
		if res.Skipped {
			total.Skipped++
		} else {
			total.Indexed++
		}
	}
	return total, idx.Rebuild(ctx)
}

func runRebuild(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	start := time.Now()
	if err := c.Indexer.Rebuild(ctx); err != nil {
		fatal(logger, "rebuild failed", err)
	}
	fmt.Printf("Indexes rebuilt in %s\n", time.Since(start).Round(time.Millisecond))
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(args)

	outFormat, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fatal(logger, "failed to initialize", err)
	}
	defer c.Close()

	stats, err := c.Indexer.Stats(ctx)
	if err != nil {
		fatal(logger, "status failed", err)
	}
	paths := []string{cfg.Storage.DatabasePath}
	if cfg.Storage.VectorBackend == string(vector.BackendMemory) {
		paths = append(paths, cfg.Storage.VectorPath)
	}
	disk, _ := storage.DiskUsageBytes(paths...)
	_ = cli.WriteStatus(os.Stdout, stats, disk, outFormat)
}

// joinArgs joins positional args so multi-word questions work with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves flags that follow the positional arguments to the front,
// since the flag package stops at the first non-flag argument.
func reorderArgs(args []string) []string {
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

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	Embedder  embedding.Embedder
	Keyword   *keyword.BleveIndex
	Vectors   vector.Store
	Indexer   *indexer.Indexer
	Retriever *search.Retriever
	Pipeline  *pipeline.Pipeline
}

// Close releases every initialized resource.
func (c *Components) Close() {
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents builds the corpus services and opens the indexes.
// The completion client and answer pipeline are only built when answering
// is true, so corpus commands work without completion credentials.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, answering bool) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder
	if c.Keyword, err = keyword.NewBleveIndex(); err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	if c.Vectors, err = vector.NewStore(cfg.Storage, cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	c.Indexer = indexer.NewIndexer(c.Storage, c.Embedder, c.Keyword, c.Vectors,
		cfg.Retrieval.ChunkSize, cfg.Retrieval.Overlap(),
		indexer.WithLogger(logger),
		indexer.WithEmbedBatch(cfg.Embedding.BatchSize),
		indexer.WithSizeLimits(cfg.Ingest.MaxFileSize, cfg.Ingest.MaxTotalSize),
	)
	if err = c.Indexer.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open indexes: %w", err)
	}

	c.Retriever, err = search.NewRetriever(c.Storage, c.Embedder, c.Keyword, c.Vectors, cfg.Retrieval,
		search.WithLogger(logger),
		search.WithRebuilder(c.Indexer),
	)
	if err != nil {
		return nil, err
	}
	if !answering {
		return c, nil
	}

	client, err := llm.NewOpenAIClient(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}
	completer := llm.NewGuard(client, cfg.LLM, llm.WithLogger(logger))
	c.Pipeline = pipeline.New(
		c.Retriever,
		gate.New(completer, cfg.Generation.Gate, gate.WithLogger(logger)),
		answer.NewSynthesizer(completer, cfg.Generation.Synthesis, answer.WithLogger(logger)),
		verify.NewVerifier(completer, cfg.Generation.Verification, verify.WithLogger(logger)),
		cfg.Retrieval,
		pipeline.WithLogger(logger),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`docchat - Grounded question answering over your documents

Usage:
  docchat server [flags]                  Start the HTTP API (and watch configured directories)
  docchat ask [flags] <question>          Answer a question from the indexed documents
  docchat retrieve [flags] <query>        Show the fused evidence for a query
  docchat ingest [flags] <path>...        Ingest files or directories and rebuild the indexes
  docchat rebuild [flags]                 Rebuild the lexical and vector indexes from storage
  docchat status [flags]                  Show corpus and index statistics
  docchat version                         Show version
  docchat help                            Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docchat/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Ask / Retrieve / Status Flags:
  --format string    Output format: text or json (default: text)
  --k int            Results per source for retrieve (default from config)

Ingest Flags:
  --recursive        Descend into subdirectories (default: true)

Examples:
  docchat ingest ./docs
  docchat ask "How do solar panels produce electricity?"
  docchat ask --format json "What is the refund policy?"
  docchat retrieve --k 5 "refund policy"
  docchat status`)
}
