package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	serveLogFile  string
	serveLogLevel string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync loop",
	Long: `Run the perpetual sync loop in the foreground.

Every cycle, each registered user's most recent plays are fetched from
Tidal, deduplicated against the local database, enriched with track,
album and artist metadata, and stored. The loop sleeps between cycles
and shuts down cleanly on SIGINT/SIGTERM.

A storage failure is fatal: the process exits non-zero and relies on a
supervisor to restart it. Progress markers are checkpointed, so a
restart picks up where the previous run stopped.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Log file path (default: stderr)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(serveLogFile, serveLogLevel)

	logger.Info().Str("version", version).Msg("Starting tidewatch")

	e, s, cfg, err := setupEngine(logger)
	if err != nil {
		return err
	}
	defer s.Close()
	defer e.Close()

	logger.Info().Str("database", cfg.DatabasePath).Msg("Using database")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.StartSync(ctx)

	if err := <-e.SyncDone(); err != nil {
		logger.Error().Err(err).Msg("Sync loop failed")
		return fmt.Errorf("sync loop failed: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
