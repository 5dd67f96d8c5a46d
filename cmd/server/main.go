package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/api"
	"github.com/MahmoudSaeedNST/learnhub/internal/config"
	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/hub"
	"github.com/MahmoudSaeedNST/learnhub/internal/identity"
)

var (
	configPath string
	debug      bool
	pretty     bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&pretty, "pretty", false, "human-readable log output")
	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	verifier := identity.NewHTTPVerifier(cfg.IdentityProviderURL, cfg.ContentStoreDeadline)
	store := contentstore.NewClient(cfg.ContentStoreBaseURL, cfg.ContentStoreDeadline)

	h := hub.New(logger, cfg, verifier, store)
	go h.Run()

	srv := api.NewServer(logger, h, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("hub shutdown")
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
