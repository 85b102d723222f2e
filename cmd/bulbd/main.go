package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/app"
	"github.com/dokzlo13/bulbd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetState := flag.Bool("reset-state", false, "Discard saved light state and boot from defaults")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Int("lights", len(cfg.Lights)).Msg("Starting bulbd")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset state flag
	if *resetState {
		log.Info().Msg("Resetting saved light state (--reset-state)")
		if err := application.ResetState(); err != nil {
			log.Warn().Err(err).Msg("Failed to reset light state")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	// Unknown or empty levels fall back to info
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
