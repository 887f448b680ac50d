package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"storefront-delivery/internal/config"
	"storefront-delivery/internal/database"
	"storefront-delivery/internal/modules/checkout"
	"storefront-delivery/internal/modules/geocoding"
	"storefront-delivery/internal/modules/zones"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.RunMigration {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := zones.NewRepository(pool)

	var wg sync.WaitGroup
	var watcher zones.Watcher
	switch cfg.ZoneSource {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("storefront-delivery"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		watcher = zones.NewNATSWatcher(nc, logger)
	default:
		pgw := zones.NewPGWatcher(pool, repo, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pgw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Zone watcher failed", slog.Any("error", err))
				cancel()
			}
		}()
		watcher = pgw
	}

	google := geocoding.NewGoogleClient(geocoding.GoogleOptions{
		BaseURL:       cfg.GeocoderBaseURL,
		APIKey:        cfg.GoogleMapsAPIKey,
		Timeout:       cfg.GeocoderTimeout,
		RatePerSecond: cfg.GeocoderRatePerSecond,
		Burst:         cfg.GeocoderBurst,
	})
	geocoder := geocoding.NewCachingGeocoder(google, cfg.GeocodeCacheSize, cfg.GeocodeCacheTTL)

	svc := checkout.NewService(checkout.Options{
		Repo:     repo,
		Watcher:  watcher,
		Geocoder: geocoder,
		Resolver: zones.NewResolver(zones.TimeWindow{
			MinMinutes: cfg.FallbackMinTime,
			MaxMinutes: cfg.FallbackMaxTime,
		}),
		Debounce:   cfg.DebounceWindow,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	})
	defer svc.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
	}()

	e := newEcho(cfg, logger)
	api := e.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(jwtMiddleware(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, checkout API is unauthenticated")
	}
	checkout.NewHandler(svc).RegisterRoutes(api)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", slog.Any("error", err))
		}
	}()

	logger.Info("Starting server", slog.String("port", cfg.ServerPort), slog.String("zone_source", cfg.ZoneSource))
	err = e.Start(":" + cfg.ServerPort)
	cancel()
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newEcho(cfg *config.Config, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
				logger.LogAttrs(c.Request().Context(), slog.LevelError, "request", attrs...)
				return nil
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	if cfg.ClientOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{cfg.ClientOrigin},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	return e
}
