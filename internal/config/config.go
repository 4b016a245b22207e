package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	FaceAPI   FaceAPIConfig
	RateLimit RateLimitConfig
	Matching  MatchingConfig
	Session   SessionConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RedisConfig struct {
	Addr     string // host:port; empty means the PostgreSQL attempt store is used
	Password string
	DB       int
}

type StorageConfig struct {
	SelfieBucket string // GCS bucket for uploaded guest selfies
	PhotoBucket  string // GCS bucket for gallery photos
}

type FaceAPIConfig struct {
	URL     string // base URL of the face-recognition service
	Token   string // bearer token, optional
	Timeout time.Duration
}

type RateLimitConfig struct {
	MaxAttempts int           // attempts permitted per window
	Window      time.Duration // sliding window length
}

type MatchingConfig struct {
	SimilarityThreshold   int           // percent, passed to the provider search
	HashDistanceThreshold int           // max Hamming distance for "same selfie"
	MaxImageDimension     int           // normalization bound in pixels
	JPEGQuality           int           // normalization re-encode quality
	SignedURLTTL          time.Duration // expiry for selfie signed URLs
}

type SessionConfig struct {
	Secret string // HMAC secret for guest session tokens
	TTL    time.Duration
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// defaults mirrors the embedded defaults.yaml layout.
type defaults struct {
	RateLimit struct {
		MaxAttempts   int `yaml:"max_attempts"`
		WindowMinutes int `yaml:"window_minutes"`
	} `yaml:"rate_limit"`
	Matching struct {
		SimilarityThreshold    int `yaml:"similarity_threshold"`
		HashDistanceThreshold  int `yaml:"hash_distance_threshold"`
		MaxImageDimension      int `yaml:"max_image_dimension"`
		JPEGQuality            int `yaml:"jpeg_quality"`
		ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
		SignedURLTTLSeconds    int `yaml:"signed_url_ttl_seconds"`
	} `yaml:"matching"`
	Session struct {
		TTLHours int `yaml:"ttl_hours"`
	} `yaml:"session"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// Embedded file, so this can only happen on a broken build.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			SelfieBucket: os.Getenv("SELFIE_GCS_BUCKET"),
			PhotoBucket:  os.Getenv("PHOTO_GCS_BUCKET"),
		},
		FaceAPI: FaceAPIConfig{
			URL:     os.Getenv("FACE_API_URL"),
			Token:   os.Getenv("FACE_API_TOKEN"),
			Timeout: time.Duration(envInt("FACE_API_TIMEOUT_SECONDS", def.Matching.ProviderTimeoutSeconds)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: envInt("RATE_LIMIT_MAX_ATTEMPTS", def.RateLimit.MaxAttempts),
			Window:      time.Duration(envInt("RATE_LIMIT_WINDOW_MINUTES", def.RateLimit.WindowMinutes)) * time.Minute,
		},
		Matching: MatchingConfig{
			SimilarityThreshold:   envInt("MATCH_SIMILARITY_THRESHOLD", def.Matching.SimilarityThreshold),
			HashDistanceThreshold: envInt("MATCH_HASH_DISTANCE_THRESHOLD", def.Matching.HashDistanceThreshold),
			MaxImageDimension:     envInt("MATCH_MAX_IMAGE_DIMENSION", def.Matching.MaxImageDimension),
			JPEGQuality:           envInt("MATCH_JPEG_QUALITY", def.Matching.JPEGQuality),
			SignedURLTTL:          time.Duration(envInt("SIGNED_URL_TTL_SECONDS", def.Matching.SignedURLTTLSeconds)) * time.Second,
		},
		Session: SessionConfig{
			Secret: os.Getenv("GUEST_SESSION_SECRET"),
			TTL:    time.Duration(envInt("GUEST_SESSION_TTL_HOURS", def.Session.TTLHours)) * time.Hour,
		},
		Log: LogConfig{
			Level:      os.Getenv("LOG_LEVEL"),
			FilePath:   os.Getenv("LOG_PATH"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 0),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 0),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 0),
			Compress:   envBool("LOG_COMPRESS"),
		},
	}
}
