package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/config"
	"frame-grabber-go/internal/logging"
	"frame-grabber-go/internal/services"
	"frame-grabber-go/internal/services/shutdown"
)

func main() {
	// Parse command line flags, they override the environment
	var (
		listen   = flag.String("listen", "", "Command protocol address (overrides LISTEN_ADDRESS)")
		network  = flag.String("network", "", "Command protocol network, tcp or unix (overrides LISTEN_NETWORK)")
		src      = flag.String("source", "", "Frame source, synthetic or opencv (overrides SOURCE)")
		device   = flag.String("device", "", "OpenCV device index or stream URL (overrides SOURCE_DEVICE)")
		logLevel = flag.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Setup console logging early so config loading is visible
	logging.Setup("info")

	cfg := config.Load()
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if *network != "" {
		cfg.ListenNetwork = *network
	}
	if *src != "" {
		cfg.Source = *src
	}
	if *device != "" {
		cfg.SourceDevice = *device
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var extra []io.Writer
	if cfg.LogdyEnabled {
		w, err := logging.StartLogdy(cfg.LogdyHost, cfg.LogdyPort)
		if err != nil {
			log.Warn().Err(err).Msg("Logdy UI unavailable")
		} else {
			extra = append(extra, w)
		}
	}
	logging.Setup(cfg.LogLevel, extra...)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("grabber_id", cfg.GrabberID).
		Str("version", cfg.Version).
		Str("listen", cfg.ListenNetwork+"://"+cfg.ListenAddress).
		Str("source", cfg.Source).
		Str("buffer_dir", cfg.BufferDir).
		Msg("Starting frame grabber")

	coord := shutdown.New(context.Background(), cfg.PollInterval, cfg.JoinWarnAfter)
	coord.ListenSignals()

	container, err := services.NewServiceContainer(cfg, coord)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}
	if err := container.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}

	// Wait for a signal or the close command
	<-coord.Done()
	log.Info().Str("reason", coord.Reason()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Grabber forced to shutdown")
		cancel()
		os.Exit(1)
	}
	log.Info().Msg("Grabber shutdown complete")
}
