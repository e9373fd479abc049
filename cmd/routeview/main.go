package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routeview/core-go/internal/config"
	"routeview/core-go/internal/controller"
	"routeview/core-go/internal/db"
	"routeview/core-go/internal/httpapi"
	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/metrics"
	"routeview/core-go/internal/placesearch"
	"routeview/core-go/internal/routing"
	"routeview/core-go/internal/session"
)

func main() {
	bootLogger := httpapi.NewLogger(envOr("LOG_LEVEL", "info"))

	cfg, err := config.Load(envOr("CONFIG_FILE", ""), os.Getenv)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	var places placesearch.Searcher
	if cfg.Places.URL != "" {
		places = placesearch.NewClient(placesearch.ClientOptions{BaseURL: cfg.Places.URL, Timeout: cfg.Places.Timeout})
	} else {
		places = placesearch.NewStore(pool.Queries(), cfg.Places.Limit)
	}
	routes := routing.NewClient(routing.ClientOptions{BaseURL: cfg.Routing.URL, Timeout: cfg.Routing.Timeout})

	m := metrics.New()
	sessions := session.NewRegistry(logger, func(s mapsurface.Surface) *controller.Controller {
		return controller.New(logger, s, places, routes, controller.Options{
			OverlayProvider: cfg.Overlay.WMSURL,
			OverlayLayer:    cfg.Overlay.Layer,
			Metrics:         m,
		})
	}, m, session.Options{
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
	})
	go sessions.Run(ctx)

	h := httpapi.NewHandler(logger, pool, sessions, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("routeview listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
