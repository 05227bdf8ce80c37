// Package main provides the vectordb CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kryonlabs/vectordb/internal/annindex"
	"github.com/kryonlabs/vectordb/internal/config"
	"github.com/kryonlabs/vectordb/internal/embedding"
	"github.com/kryonlabs/vectordb/internal/httpapi"
	"github.com/kryonlabs/vectordb/internal/indexsvc"
	"github.com/kryonlabs/vectordb/internal/liblock"
	"github.com/kryonlabs/vectordb/internal/logging"
	"github.com/kryonlabs/vectordb/internal/querysvc"
	"github.com/kryonlabs/vectordb/internal/recordstore"
	"github.com/kryonlabs/vectordb/internal/vectorstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vectordb",
		Short: "vectordb - a vector database service for library-scoped similarity search",
		Long: `vectordb stores chunks of text and their embeddings under named
libraries, builds a per-library HNSW or Flat nearest-neighbor index
over those embeddings, and serves similarity search with optional
metadata filtering over HTTP.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectordb v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vectordb HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to a YAML config file")
	serveCmd.Flags().String("address", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init-db",
		Short: "Initialize a new vectordb data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	buildIndexCmd := &cobra.Command{
		Use:   "build-index [library-id]",
		Short: "Build or rebuild the ANN index for a library",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuildIndex,
	}
	buildIndexCmd.Flags().String("config", "", "Path to a YAML config file")
	buildIndexCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	buildIndexCmd.Flags().String("kind", "HNSW", "Index kind: HNSW or FLAT")
	rootCmd.AddCommand(buildIndexCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Server.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStores(cfg *config.Config) (*recordstore.Store, *vectorstore.Store, error) {
	records, err := recordstore.Open(recordstore.Options{DataDir: filepath.Join(cfg.Database.DataDir, "records")})
	if err != nil {
		return nil, nil, fmt.Errorf("opening record store: %w", err)
	}
	vectors, err := vectorstore.New(filepath.Join(cfg.Database.DataDir, "vectors"))
	if err != nil {
		_ = records.Close()
		return nil, nil, fmt.Errorf("opening vector store: %w", err)
	}
	return records, vectors, nil
}

func buildEmbedder(cfg *config.Config) embedding.Embedder {
	switch cfg.Embedding.Provider {
	case "cohere":
		cohereCfg := embedding.DefaultCohereConfig(cfg.Embedding.APIKey)
		if cfg.Embedding.Model != "" {
			cohereCfg.Model = cfg.Embedding.Model
		}
		if cfg.Embedding.Dimensions > 0 {
			cohereCfg.Dimensions = cfg.Embedding.Dimensions
		}
		return embedding.NewCohere(cohereCfg)
	default:
		return embedding.NewHash(cfg.Embedding.Dimensions)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.WithComponent(logger, "main")

	fmt.Printf("Starting vectordb v%s\n", version)
	fmt.Printf("  Data directory: %s\n", cfg.Database.DataDir)
	fmt.Printf("  Address:        %s\n", cfg.Server.Address)
	fmt.Printf("  Index kind:     %s\n", cfg.Index.DefaultKind)
	fmt.Printf("  Embedding:      %s\n", cfg.Embedding.Provider)

	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	records, vectors, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	locks := liblock.New()
	indexSvc := indexsvc.New(records, vectors, locks, cfg.Database.DataDir)
	querySvc := querysvc.New(indexSvc, records)
	embedder := buildEmbedder(cfg)

	server := httpapi.New(records, vectors, locks, indexSvc, querySvc, embedder, logger)
	if err := server.Start(cfg.Server.Address, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	log.WithField("address", server.Addr()).Info("vectordb is ready")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	fmt.Printf("Initializing vectordb data directory in %s\n", dataDir)

	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "records"),
		filepath.Join(dataDir, "vectors"),
		filepath.Join(dataDir, "indexes"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dataDir, "vectordb.yaml")
	configContent := `# vectordb configuration
database:
  data_dir: ` + dataDir + `

server:
  address: ":8080"
  read_timeout: 15s
  write_timeout: 15s

index:
  default_kind: HNSW
  default_distance_metric: l2
  m: 16
  ef_construction: 200
  ef_search: 100
  m_level: 1.0

embedding:
  provider: hash
  model: embed-english-v3.0
  dimensions: 1024

logging:
  level: info
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("  Wrote %s\n", configPath)
	fmt.Println("Done.")
	return nil
}

func runBuildIndex(cmd *cobra.Command, args []string) error {
	libraryID := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kindFlag, _ := cmd.Flags().GetString("kind")
	kind, err := annindex.ParseKind(kindFlag)
	if err != nil {
		return err
	}

	records, vectors, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	indexSvc := indexsvc.New(records, vectors, liblock.New(), cfg.Database.DataDir)
	info, err := indexSvc.Build(context.Background(), libraryID, kind, annindex.BuildParams{
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
		MLevel:         cfg.Index.MLevel,
	})
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	fmt.Printf("Built %s index for library %q: %d vectors, %d dimensions\n",
		kind, libraryID, info.VectorCount, info.Dimensions)
	return nil
}
