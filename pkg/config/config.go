package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Calendar CalendarConfig
	Feed     FeedConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds what is needed to verify access tokens minted by the auth service.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CalendarConfig tunes the calendar engine and its sessions.
type CalendarConfig struct {
	Timezone        string
	Location        *time.Location
	ClockInterval   time.Duration
	OverflowLimit   int
	SessionTTL      time.Duration
	PrefetchWorkers int
	MaxRangeDays    int
}

// FeedConfig controls signed ICS subscription feeds and exports.
type FeedConfig struct {
	Enabled         bool
	Secret          string
	TTL             time.Duration
	BaseURL         string
	ReminderMinutes int
}

// CacheConfig governs the Redis-backed event cache.
type CacheConfig struct {
	Enabled   bool
	EventsTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	loc, err := time.LoadLocation(v.GetString("CALENDAR_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("load calendar timezone: %w", err)
	}
	cfg.Calendar = CalendarConfig{
		Timezone:        loc.String(),
		Location:        loc,
		ClockInterval:   clampDuration(parseDuration(v.GetString("CALENDAR_CLOCK_INTERVAL"), 30*time.Second), time.Second, time.Minute),
		OverflowLimit:   v.GetInt("CALENDAR_OVERFLOW_LIMIT"),
		SessionTTL:      parseDuration(v.GetString("CALENDAR_SESSION_TTL"), 30*time.Minute),
		PrefetchWorkers: v.GetInt("CALENDAR_PREFETCH_WORKERS"),
		MaxRangeDays:    v.GetInt("CALENDAR_MAX_RANGE_DAYS"),
	}

	cfg.Feed = FeedConfig{
		Enabled:         v.GetBool("ENABLE_CALENDAR_FEED"),
		Secret:          v.GetString("CALENDAR_FEED_SECRET"),
		TTL:             parseDuration(v.GetString("CALENDAR_FEED_TTL"), 30*24*time.Hour),
		BaseURL:         strings.TrimRight(v.GetString("CALENDAR_FEED_BASE_URL"), "/"),
		ReminderMinutes: v.GetInt("CALENDAR_REMINDER_MINUTES"),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("ENABLE_EVENTS_CACHE"),
		EventsTTL: parseDuration(v.GetString("CALENDAR_EVENTS_CACHE_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "elearning")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CALENDAR_TIMEZONE", "America/Lima")
	v.SetDefault("CALENDAR_CLOCK_INTERVAL", "30s")
	v.SetDefault("CALENDAR_OVERFLOW_LIMIT", 2)
	v.SetDefault("CALENDAR_SESSION_TTL", "30m")
	v.SetDefault("CALENDAR_PREFETCH_WORKERS", 1)
	v.SetDefault("CALENDAR_MAX_RANGE_DAYS", 366)

	v.SetDefault("ENABLE_CALENDAR_FEED", false)
	v.SetDefault("CALENDAR_FEED_SECRET", "dev_feed_secret")
	v.SetDefault("CALENDAR_FEED_TTL", "720h")
	v.SetDefault("CALENDAR_FEED_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("CALENDAR_REMINDER_MINUTES", 1440)

	v.SetDefault("ENABLE_EVENTS_CACHE", false)
	v.SetDefault("CALENDAR_EVENTS_CACHE_TTL", "2m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
