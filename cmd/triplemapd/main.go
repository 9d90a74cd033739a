// Command triplemapd serves the HTTP surface: session management,
// heatmap tile rendering, and nearest-object lookups against a live
// SPARQL backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/config"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/httpapi"
	"github.com/kvnloo/triplemap/metrics"
	"github.com/kvnloo/triplemap/renderer"
	"github.com/kvnloo/triplemap/session"
)

const sessionCapacity = 256

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("parse config")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	mgr, err := session.NewManager(cfg.MaxMemoryBytes, sessionCapacity, log)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}
	if cfg.RowCachePath != "" {
		rc, err := geomcache.OpenRowCache(cfg.RowCachePath)
		if err != nil {
			return fmt.Errorf("open row cache %s: %w", cfg.RowCachePath, err)
		}
		defer rc.Close()
		mgr.SetRowCache(rc)
	}
	if cfg.CachePath != "" && cfg.BackendURL != "" {
		if err := mgr.PreloadCache(cfg.BackendURL, cfg.CachePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.CachePath).Msg("no persisted geometry cache to preload")
		}
	}

	srv := &httpapi.Server{
		Sessions:         mgr,
		Renderer:         renderer.New(renderer.DefaultRamp),
		Metrics:          metrics.Init(),
		Log:              log,
		DefaultCachePath: cfg.CachePath,
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:      srv.NewRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.ListenPort).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
