package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/engine"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

// setupLogger creates a logger with the specified configuration
func setupLogger(logFile, logLevel string) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// Set up output
	var output *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			output = os.Stderr
		} else {
			output = f
		}
	} else {
		output = os.Stderr
	}

	// Create logger
	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Use pretty console output if logging to stderr
	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}

// zerologAdapter lets the tidal client log through zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug().Msgf(format, args...)
}

// setupEngine loads configuration, opens the store and assembles the
// engine. The caller owns both returned closers.
func setupEngine(logger zerolog.Logger) (*engine.Engine, *store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Tidal.ClientID == "" || cfg.Tidal.ClientSecret == "" {
		return nil, nil, nil, fmt.Errorf("tidal API credentials not configured; set tidal.client_id and tidal.client_secret")
	}

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	client, err := tidal.NewClient(tidal.Config{
		ClientID:     cfg.Tidal.ClientID,
		ClientSecret: cfg.Tidal.ClientSecret,
		Logger:       zerologAdapter{logger.With().Str("component", "tidal").Logger()},
	})
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, fmt.Errorf("failed to create tidal client: %w", err)
	}

	return engine.New(s, engine.NewAPIClient(client), *cfg, logger), s, cfg, nil
}
