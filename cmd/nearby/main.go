package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/adapter/geolocation"
	"github.com/pscheid92/nearby/internal/adapter/httpserver"
	adaptermetrics "github.com/pscheid92/nearby/internal/adapter/metrics"
	"github.com/pscheid92/nearby/internal/adapter/postgres"
	"github.com/pscheid92/nearby/internal/adapter/redis"
	"github.com/pscheid92/nearby/internal/adapter/websocket"
	"github.com/pscheid92/nearby/internal/app"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
	"github.com/pscheid92/nearby/internal/platform/config"
	"github.com/pscheid92/nearby/internal/platform/logging"
	"github.com/pscheid92/nearby/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	resumeTimeout   = 2 * time.Minute
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupChangeFeed picks the change-notification transport. With Redis, writes
// go through a store that publishes every visibility change.
func setupChangeFeed(cfg *config.Config, pool *pgxpool.Pool, profiles domain.ProfileStore, redisClient *goredis.Client, clock clockwork.Clock) (domain.ChangeFeed, domain.ProfileStore) {
	if cfg.ChangeFeed == config.ChangeFeedRedis {
		slog.Info("Using Redis change feed", "channel", redis.ChangesChannel)
		return redis.NewChangeFeed(redisClient), redis.NewPublishingStore(profiles, redisClient, clock)
	}
	slog.Info("Using PostgreSQL change feed")
	return postgres.NewChangeFeed(pool, clock), profiles
}

func setupProvider(cfg *config.Config, clock clockwork.Clock) *geolocation.Provider {
	provider := geolocation.NewProvider(clock, domain.ParsePermissionState(cfg.GeoPermission), cfg.GeoWatchInterval)
	if cfg.GeoLatitude != 0 || cfg.GeoLongitude != 0 {
		provider.Report(domain.LocationSample{
			Latitude:       cfg.GeoLatitude,
			Longitude:      cfg.GeoLongitude,
			AccuracyMeters: cfg.GeoAccuracy,
		})
		slog.Info("Seeded device position", "latitude", cfg.GeoLatitude, "longitude", cfg.GeoLongitude)
	}
	return provider
}

func healthChecks(pool *pgxpool.Pool, redisClient *goredis.Client, rescans *app.Rescanner) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "changefeed", Optional: true, Check: changeFeedCheck(rescans)},
	}
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

// changeFeedCheck fails while a session is active without a change-feed
// subscription. Rescans still run on the timer then, so it only degrades.
func changeFeedCheck(rescans *app.Rescanner) func(context.Context) error {
	return func(context.Context) error {
		if rescans.Active() && !rescans.FeedConnected() {
			return errors.New("change feed not subscribed")
		}
		return nil
	}
}

// resumePresence picks up a session the stored profile still claims, for
// example after a restart within the visibility window.
func resumePresence(presence *app.Presence, profiles *app.Profiles) {
	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()

	profile, err := profiles.Get(ctx)
	if err != nil {
		slog.Warn("Failed to load profile for resume", "error", err)
		return
	}
	started, err := presence.Resume(ctx, profile)
	if err != nil {
		slog.Warn("Failed to resume presence", "error", err)
		return
	}
	if started {
		slog.Info("Presence resumed from stored visibility")
	}
}

func runGracefulShutdown(srv *httpserver.Server, presence *app.Presence, hub *websocket.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// leaves the user hidden and releases every session resource
		signOutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := presence.SignOut(signOutCtx); err != nil {
			slog.Error("Failed to hide user on shutdown", "error", err)
		}

		hub.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "user_id", cfg.User)

	pool := setupDB(cfg)
	defer pool.Close()

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()
	}

	profiles := postgres.NewProfileRepo(pool)
	ensureCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := profiles.EnsureProfile(ensureCtx, cfg.User, cfg.DisplayName); err != nil {
		cancel()
		slog.Error("Failed to ensure profile", "error", err)
		os.Exit(1)
	}
	cancel()

	feed, store := setupChangeFeed(cfg, pool, profiles, redisClient, clock)
	provider := setupProvider(cfg, clock)
	hub := websocket.NewHub(clock, cfg.MaxWebSocketClients)

	locator := app.NewLocator(provider, app.LocatorConfig{
		MaxAttempts:    cfg.LocationAttempts,
		AttemptTimeout: cfg.LocationAttemptTimeout,
		RetryDelay:     cfg.LocationRetryDelay,
		MaxAge:         cfg.LocationMaxAge,
		HighAccuracy:   true,
	}, clock)
	tracker := app.NewTracker(provider, store, cfg.User, domain.PositionOptions{
		HighAccuracy: true,
		Timeout:      cfg.LocationAttemptTimeout,
		MaxAge:       cfg.WatchMaxAge,
	})
	rescans := app.NewRescanner(profiles, feed, clock, app.RescannerConfig{
		UserID:          cfg.User,
		Interval:        cfg.RescanInterval,
		RadiusMeters:    cfg.SearchRadiusMeters,
		SubscribePolicy: app.DefaultSubscribePolicy(),
		OnUpdate:        hub.NearbyUpdated,
	})
	presence := app.NewPresence(app.PresenceConfig{
		UserID:          cfg.User,
		VisibilityTTL:   cfg.VisibilityTTL,
		StartTimeout:    cfg.StartTimeout,
		DisableAutoHide: !cfg.AutoHide,
	}, locator, tracker, store, rescans, hub, clock)
	profileService := app.NewProfiles(profiles, cfg.User)
	go resumePresence(presence, profileService)

	relay := app.NewRelay(profiles, hub, cfg.User, clock)
	relay.OnMatch = func(target uuid.UUID) {
		// the matched user may change what the nearby list shows
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := presence.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrNoLocation) {
				slog.Warn("Refresh after match failed", "target", target, "error", err)
			}
		}()
	}

	registry := adaptermetrics.NewRegistry()
	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Presence:       presence,
		Relay:          relay,
		Device:         provider,
		Profiles:       profileService,
		Settings:       presence,
		Hub:            hub,
		CheckOrigin:    websocket.NewCheckOrigin(cfg.AppURL, cfg.Origins, !cfg.IsProduction()),
		MetricsHandler: adaptermetrics.Handler(registry),
		HTTPMetrics:    adaptermetrics.NewHTTPMetrics(registry),
		HealthChecks:   healthChecks(pool, redisClient, rescans),
		Clock:          clock,
	})

	done := runGracefulShutdown(srv, presence, hub)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
