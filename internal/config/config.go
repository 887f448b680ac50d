package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	ClientOrigin string `mapstructure:"CLIENT_ORIGIN"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	RunMigration bool   `mapstructure:"RUN_MIGRATIONS"`

	GoogleMapsAPIKey      string        `mapstructure:"GOOGLE_MAPS_API_KEY"`
	GeocoderBaseURL       string        `mapstructure:"GEOCODER_BASE_URL"`
	GeocoderTimeout       time.Duration `mapstructure:"GEOCODER_TIMEOUT"`
	GeocoderRatePerSecond float64       `mapstructure:"GEOCODER_RATE_PER_SECOND"`
	GeocoderBurst         int           `mapstructure:"GEOCODER_BURST"`
	GeocodeCacheTTL       time.Duration `mapstructure:"GEOCODE_CACHE_TTL"`
	GeocodeCacheSize      int           `mapstructure:"GEOCODE_CACHE_SIZE"`

	DebounceWindow  time.Duration `mapstructure:"DEBOUNCE_WINDOW"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	FallbackMinTime int           `mapstructure:"FALLBACK_MIN_TIME"`
	FallbackMaxTime int           `mapstructure:"FALLBACK_MAX_TIME"`

	// ZoneSource selects how zone changes reach live sessions: "postgres"
	// (LISTEN/NOTIFY) or "nats".
	ZoneSource string `mapstructure:"ZONE_SOURCE"`
	NATSURL    string `mapstructure:"NATS_URL"`
}

func setDefaults(v *viper.Viper) {
	// keys without a default still have to be known for Unmarshal to see the
	// environment
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "CLIENT_ORIGIN", "GOOGLE_MAPS_API_KEY"} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RUN_MIGRATIONS", false)
	v.SetDefault("GEOCODER_BASE_URL", "https://maps.googleapis.com")
	v.SetDefault("GEOCODER_TIMEOUT", 5*time.Second)
	v.SetDefault("GEOCODER_RATE_PER_SECOND", 10.0)
	v.SetDefault("GEOCODER_BURST", 5)
	v.SetDefault("GEOCODE_CACHE_TTL", 5*time.Minute)
	v.SetDefault("GEOCODE_CACHE_SIZE", 1024)
	v.SetDefault("DEBOUNCE_WINDOW", 500*time.Millisecond)
	v.SetDefault("SESSION_TTL", 30*time.Minute)
	v.SetDefault("FALLBACK_MIN_TIME", 30)
	v.SetDefault("FALLBACK_MAX_TIME", 45)
	v.SetDefault("ZONE_SOURCE", "postgres")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName(".env") // Name of config file (without extension)
	v.SetConfigType("env")

	v.AutomaticEnv() // Read in environment variables that match

	err := v.ReadInConfig() // Find and read the config file
	if err != nil {
		// Handle errors reading the config file, but allow it if it's just "not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("No .env file found, using environment")
		} else {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.ZoneSource = strings.ToLower(cfg.ZoneSource)

	return &cfg, nil
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
