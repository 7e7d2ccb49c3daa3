// Command aurora-topology serves incident topology layouts over HTTP and
// lays out snapshot files offline.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	initLogger("info", os.Stdout)

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "aurora-topology",
		Short:         "Incident infrastructure topology layout service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			// Offline commands print results on stdout, so their logs go
			// to stderr.
			var out io.Writer = os.Stdout
			if cmd.Name() != "serve" {
				out = cmd.ErrOrStderr()
			}
			initLogger(envOrFlag(cmd, "log-level", envPrefix+"LOG_LEVEL"), out)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(layoutCmd())
	return cmd
}
