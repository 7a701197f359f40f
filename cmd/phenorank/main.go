package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/phenorank/internal/config"
	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/pipeline"
	"github.com/dshills/phenorank/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "phenorank",
	Short: "Rank diseases by phenotype-signature similarity",
	Long: `phenorank ranks candidate diseases for a set of observed phenotype terms.

Each disease's annotated terms are aggregated into a signature vector (a flat
mean, or one mean per organ system) and stored in a SQLite vector index. A query
is aggregated the same way and answered by nearest-neighbour search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Logs go to stderr; stdout is reserved for MCP and command output
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $PHENORANK_CONFIG or phenorank.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Vector store path (overrides storage.db_path)")

	rootCmd.AddCommand(serveCmd, buildCmd, ingestTermsCmd, rankCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by the flags
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// app is the runtime shared by every command
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	pipeline *pipeline.Pipeline
}

// openApp loads config, opens the store and wires the pipeline. withEmbedder
// requires an embedding provider; otherwise a provider that fails to
// initialize only disables ingestion.
func openApp(withEmbedder bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embCfg := cfg.EmbedderConfig()
	embCfg.Logger = logger.Named("embedder")
	emb, err := embedder.New(embCfg)
	if err != nil {
		if withEmbedder {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		logger.Warn("embedding provider unavailable, term ingestion disabled", zap.Error(err))
		emb = nil
	}

	p, err := pipeline.New(pipeline.Options{Config: cfg, Store: store, Embedder: emb, Logger: logger})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("opened vector store",
		zap.String("path", cfg.Storage.DBPath),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.Bool("vector_extension", storage.VectorExtensionAvailable))

	return &app{cfg: cfg, store: store, embedder: emb, pipeline: p}, nil
}

func (a *app) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
