package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pscheid92/nearby/internal/domain"
	"go-simpler.org/env"
)

const (
	ChangeFeedPostgres = "postgres"
	ChangeFeedRedis    = "redis"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	// AllowedOrigins is a comma-separated list of extra browser origins.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`
	UserID      string `env:"USER_ID"`
	DisplayName string `env:"DISPLAY_NAME" default:"Nearby user"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	ChangeFeed  string `env:"CHANGE_FEED" default:"postgres"`

	SearchRadiusMeters float64       `env:"SEARCH_RADIUS_METERS" default:"100"`
	AutoHide           bool          `env:"AUTO_HIDE" default:"true"`
	RescanInterval     time.Duration `env:"RESCAN_INTERVAL" default:"30s"`
	VisibilityTTL      time.Duration `env:"VISIBILITY_TTL" default:"15m"`
	StartTimeout       time.Duration `env:"START_TIMEOUT" default:"15s"`

	LocationAttempts       int           `env:"LOCATION_ATTEMPTS" default:"3"`
	LocationAttemptTimeout time.Duration `env:"LOCATION_ATTEMPT_TIMEOUT" default:"15s"`
	LocationRetryDelay     time.Duration `env:"LOCATION_RETRY_DELAY" default:"1s"`
	LocationMaxAge         time.Duration `env:"LOCATION_MAX_AGE" default:"5m"`
	WatchMaxAge            time.Duration `env:"WATCH_MAX_AGE" default:"1m"`

	GeoPermission    string        `env:"GEO_PERMISSION" default:"granted"`
	GeoLatitude      float64       `env:"GEO_LATITUDE"`
	GeoLongitude     float64       `env:"GEO_LONGITUDE"`
	GeoAccuracy      float64       `env:"GEO_ACCURACY" default:"10"`
	GeoWatchInterval time.Duration `env:"GEO_WATCH_INTERVAL" default:"10s"`

	MaxWebSocketClients int `env:"MAX_WEBSOCKET_CLIENTS" default:"16"`

	ActionRateLimit float64 `env:"ACTION_RATE_LIMIT" default:"1"`
	ActionRateBurst int     `env:"ACTION_RATE_BURST" default:"5"`

	// User is the parsed UserID, set by validate.
	User uuid.UUID
	// Origins is the parsed AllowedOrigins, set by validate.
	Origins []string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"USER_ID", cfg.UserID},
		{"DATABASE_URL", cfg.DatabaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	id, err := uuid.Parse(cfg.UserID)
	if err != nil {
		return fmt.Errorf("USER_ID must be a UUID: %w", err)
	}
	cfg.User = id

	switch cfg.ChangeFeed {
	case ChangeFeedPostgres:
	case ChangeFeedRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when CHANGE_FEED=redis")
		}
	default:
		return fmt.Errorf("CHANGE_FEED must be %q or %q, got %q", ChangeFeedPostgres, ChangeFeedRedis, cfg.ChangeFeed)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"RESCAN_INTERVAL", cfg.RescanInterval},
		{"VISIBILITY_TTL", cfg.VisibilityTTL},
		{"START_TIMEOUT", cfg.StartTimeout},
		{"LOCATION_ATTEMPT_TIMEOUT", cfg.LocationAttemptTimeout},
		{"GEO_WATCH_INTERVAL", cfg.GeoWatchInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if cfg.LocationRetryDelay < 0 {
		return fmt.Errorf("LOCATION_RETRY_DELAY must not be negative, got %s", cfg.LocationRetryDelay)
	}

	if cfg.LocationAttempts < 1 {
		return fmt.Errorf("LOCATION_ATTEMPTS must be at least 1, got %d", cfg.LocationAttempts)
	}
	if cfg.MaxWebSocketClients < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CLIENTS must be at least 1, got %d", cfg.MaxWebSocketClients)
	}
	if cfg.ActionRateLimit <= 0 {
		return fmt.Errorf("ACTION_RATE_LIMIT must be positive, got %v", cfg.ActionRateLimit)
	}
	if cfg.ActionRateBurst < 1 {
		return fmt.Errorf("ACTION_RATE_BURST must be at least 1, got %d", cfg.ActionRateBurst)
	}
	if u, err := url.Parse(cfg.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
	}
	origins, err := parseOrigins(cfg.AllowedOrigins)
	if err != nil {
		return err
	}
	cfg.Origins = origins
	if cfg.SearchRadiusMeters < domain.MinSearchRadius || cfg.SearchRadiusMeters > domain.MaxSearchRadius {
		return fmt.Errorf("SEARCH_RADIUS_METERS must be between %g and %g, got %v",
			domain.MinSearchRadius, domain.MaxSearchRadius, cfg.SearchRadiusMeters)
	}

	if cfg.GeoLatitude < -90 || cfg.GeoLatitude > 90 {
		return fmt.Errorf("GEO_LATITUDE out of range: %v", cfg.GeoLatitude)
	}
	if cfg.GeoLongitude < -180 || cfg.GeoLongitude > 180 {
		return fmt.Errorf("GEO_LONGITUDE out of range: %v", cfg.GeoLongitude)
	}
	switch cfg.GeoPermission {
	case "granted", "denied", "prompt":
	default:
		return fmt.Errorf("GEO_PERMISSION must be granted, denied or prompt, got %q", cfg.GeoPermission)
	}

	if cfg.IsProduction() {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func parseOrigins(list string) ([]string, error) {
	var origins []string
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entry must be an absolute URL, got %q", raw)
		}
		origins = append(origins, raw)
	}
	return origins, nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
