// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"handmade/internal/ingest"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds every runtime setting.
type Config struct {
	AppPort string

	StoreDriver   string
	DatabaseDSN   string
	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RabbitMQURL string

	JWTSecret    string
	AdminUserIDs []string

	SimilarSearchURL     string
	SimilarSearchTimeout time.Duration

	Image ingest.Options
}

// Load reads .env (when present) and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	img := ingest.DefaultOptions()

	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "handmade")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("JWT_SECRET", "change_me")
	v.SetDefault("ADMIN_USER_IDS", "")
	v.SetDefault("SIMILAR_SEARCH_URL", "http://localhost:8000")
	v.SetDefault("SIMILAR_SEARCH_TIMEOUT", "30s")
	v.SetDefault("IMAGE_MAX_WIDTH", img.MaxWidth)
	v.SetDefault("IMAGE_MAX_HEIGHT", img.MaxHeight)
	v.SetDefault("IMAGE_QUALITY", img.Quality)
	v.SetDefault("IMAGE_MAX_FILE_BYTES", img.MaxFileBytes)
	v.SetDefault("IMAGE_MAX_PIXELS", img.MaxPixels)
	v.SetDefault("IMAGE_MAX_PAYLOAD_CHARS", img.MaxPayloadChars)
	v.SetDefault("IMAGE_CONCURRENCY", img.Concurrency)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:              v.GetString("APP_PORT"),
		StoreDriver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseDSN:          v.GetString("DATABASE_DSN"),
		MongoURI:             v.GetString("MONGO_URI"),
		MongoDatabase:        v.GetString("MONGO_DATABASE"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		CacheTTL:             v.GetDuration("CACHE_TTL"),
		RabbitMQURL:          v.GetString("RABBITMQ_URL"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		AdminUserIDs:         splitList(v.GetString("ADMIN_USER_IDS")),
		SimilarSearchURL:     v.GetString("SIMILAR_SEARCH_URL"),
		SimilarSearchTimeout: v.GetDuration("SIMILAR_SEARCH_TIMEOUT"),
		Image: ingest.Options{
			MaxWidth:        v.GetInt("IMAGE_MAX_WIDTH"),
			MaxHeight:       v.GetInt("IMAGE_MAX_HEIGHT"),
			Quality:         v.GetFloat64("IMAGE_QUALITY"),
			MaxFileBytes:    v.GetInt64("IMAGE_MAX_FILE_BYTES"),
			MaxPixels:       v.GetInt64("IMAGE_MAX_PIXELS"),
			MaxPayloadChars: v.GetInt("IMAGE_MAX_PAYLOAD_CHARS"),
			Concurrency:     v.GetInt("IMAGE_CONCURRENCY"),
		},
	}

	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite, DriverMongo:
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("DATABASE_DSN is required for the %s driver", DriverPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.Image.MaxWidth <= 0 || cfg.Image.MaxHeight <= 0 {
		return nil, fmt.Errorf("IMAGE_MAX_WIDTH and IMAGE_MAX_HEIGHT must be positive")
	}
	if cfg.JWTSecret == "change_me" {
		log.Println("WARNING: JWT_SECRET is not set, using the insecure default")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
