package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Arvo-AI/aurora-sub002/internal/layout"
)

const envPrefix = "AURORA_TOPOLOGY_"

// initLogger configures the global slog default with JSON output.
func initLogger(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	h := slog.NewJSONHandler(w, opts)
	slog.SetDefault(slog.New(h))
}

// loadEnvFile loads KEY=VALUE pairs from path without overriding variables
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// envOrFlag resolves a configuration value with the priority:
//
//	flag (if explicitly set) > env var > flag default.
func envOrFlag(cmd *cobra.Command, name, envKey string) string {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		return os.Getenv(envKey)
	}
	if f.Changed {
		return f.Value.String()
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return f.DefValue
}

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	DBPath        string
	Port          int
	LogLevel      string
	CacheTTL      time.Duration
	HistoryLimit  int
	IngestRate    float64
	ArchiveBucket string
	ArchivePrefix string
	ArchiveRegion string
	WatchFile     string
	LayoutConfig  string
}

func resolveServeConfig(cmd *cobra.Command) (serveConfig, error) {
	var cfg serveConfig
	var err error

	cfg.DBPath = envOrFlag(cmd, "db-path", envPrefix+"DB_PATH")
	cfg.LogLevel = envOrFlag(cmd, "log-level", envPrefix+"LOG_LEVEL")
	cfg.ArchiveBucket = envOrFlag(cmd, "archive-bucket", envPrefix+"ARCHIVE_BUCKET")
	cfg.ArchivePrefix = envOrFlag(cmd, "archive-prefix", envPrefix+"ARCHIVE_PREFIX")
	cfg.ArchiveRegion = envOrFlag(cmd, "archive-region", envPrefix+"ARCHIVE_REGION")
	cfg.WatchFile = envOrFlag(cmd, "watch", envPrefix+"WATCH_FILE")
	cfg.LayoutConfig = envOrFlag(cmd, "layout-config", envPrefix+"LAYOUT_CONFIG")

	portStr := envOrFlag(cmd, "port", envPrefix+"PORT")
	if cfg.Port, err = strconv.Atoi(portStr); err != nil || cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port value %q", portStr)
	}

	ttlStr := envOrFlag(cmd, "cache-ttl", envPrefix+"CACHE_TTL")
	if cfg.CacheTTL, err = time.ParseDuration(ttlStr); err != nil || cfg.CacheTTL < 0 {
		return cfg, fmt.Errorf("invalid cache ttl %q", ttlStr)
	}

	limitStr := envOrFlag(cmd, "history-limit", envPrefix+"HISTORY_LIMIT")
	if cfg.HistoryLimit, err = strconv.Atoi(limitStr); err != nil || cfg.HistoryLimit < 0 {
		return cfg, fmt.Errorf("invalid history limit %q", limitStr)
	}

	rateStr := envOrFlag(cmd, "ingest-rate", envPrefix+"INGEST_RATE")
	if cfg.IngestRate, err = strconv.ParseFloat(rateStr, 64); err != nil || cfg.IngestRate <= 0 {
		return cfg, fmt.Errorf("invalid ingest rate %q", rateStr)
	}

	return cfg, nil
}

// loadLayoutOptions reads layout geometry overrides from a YAML file.
// Fields left out keep their defaults.
func loadLayoutOptions(path string) (layout.Options, error) {
	opts := layout.DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read layout config: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse layout config %s: %w", path, err)
	}
	return opts, nil
}
