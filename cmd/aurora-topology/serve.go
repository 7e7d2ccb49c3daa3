package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Arvo-AI/aurora-sub002/internal/api"
	"github.com/Arvo-AI/aurora-sub002/internal/archive"
	"github.com/Arvo-AI/aurora-sub002/internal/events"
	"github.com/Arvo-AI/aurora-sub002/internal/incident"
	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/storage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the topology HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServeConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.String("db-path", "./aurora-topology.db", "Path to SQLite database file")
	f.Int("port", 8080, "HTTP server port")
	f.String("cache-ttl", "5m", "How long a computed layout is served before it is rebuilt")
	f.Int("history-limit", 50, "Snapshots kept per incident (0 keeps all)")
	f.Float64("ingest-rate", 50, "Snapshot submissions accepted per second")
	f.String("archive-bucket", "", "S3 bucket for snapshot archiving (empty = disabled)")
	f.String("archive-prefix", "topology", "Key prefix inside the archive bucket")
	f.String("archive-region", "", "AWS region of the archive bucket")
	f.String("watch", "", "NDJSON snapshot feed to tail on startup")
	f.String("layout-config", "", "YAML file overriding layout geometry")
	return cmd
}

func runServe(ctx context.Context, cfg serveConfig) error {
	logger := slog.Default()

	opts, err := loadLayoutOptions(cfg.LayoutConfig)
	if err != nil {
		return err
	}

	// ---- Storage ---------------------------------------------------------
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialise storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()

	// ---- Archive (optional) ----------------------------------------------
	var archiver incident.Archiver
	var archiveStats api.ArchiveReporter
	archiveStatus := "disabled"
	if cfg.ArchiveBucket != "" {
		a, err := archive.New(ctx, archive.Config{
			Bucket: cfg.ArchiveBucket,
			Prefix: cfg.ArchivePrefix,
			Region: cfg.ArchiveRegion,
		}, archive.WithLogger(logger))
		if err != nil {
			logger.Warn("snapshot archive init failed, archiving disabled", "error", err)
		} else {
			defer a.Close()
			archiver = a
			archiveStats = a
			archiveStatus = "s3://" + cfg.ArchiveBucket + "/" + cfg.ArchivePrefix
		}
	}

	// ---- Incident manager ------------------------------------------------
	bus := events.NewBus[incident.Event](events.DefaultBuffer, logger)
	defer bus.Close()

	engine := layout.NewEngine(opts, logger, nil)
	manager, err := incident.NewManager(engine, store, archiver, bus, incident.Config{
		HistoryLimit: cfg.HistoryLimit,
		CacheTTL:     cfg.CacheTTL,
	}, logger)
	if err != nil {
		return err
	}

	// ---- HTTP server -----------------------------------------------------
	srv := api.NewServer(manager, api.Config{
		IngestRate: cfg.IngestRate,
		Archive:    archiveStats,
	}, logger)
	srv.RegisterRoutes()

	if cfg.WatchFile != "" {
		if _, err := srv.StartWatch(cfg.WatchFile, false); err != nil {
			return fmt.Errorf("watch %s: %w", cfg.WatchFile, err)
		}
	}

	fmt.Printf(`
═══════════════════════════════
 Aurora topology
 DB:      %s
 Port:    %d
 Archive: %s
═══════════════════════════════
`, cfg.DBPath, cfg.Port, archiveStatus)

	logger.Info("aurora-topology starting",
		"db_path", cfg.DBPath,
		"port", cfg.Port,
		"cache_ttl", cfg.CacheTTL.String(),
		"history_limit", cfg.HistoryLimit,
		"archive", archiveStatus,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("aurora-topology shutdown complete")
	return nil
}
