package utils

import (
	"os"
	"strconv"
	"time"
)

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

func LoadAuthConfig() AuthConfig {
	secret := os.Getenv("SCANHUB_JWT_SECRET")
	if secret == "" {
		// dev default (change for demo / production)
		secret = "dev-secret-change-me"
	}

	issuer := os.Getenv("SCANHUB_JWT_ISSUER")
	if issuer == "" {
		issuer = "scanhub"
	}

	dur := 24 * time.Hour
	if ttl := os.Getenv("SCANHUB_JWT_TTL_HOURS"); ttl != "" {
		if h, err := strconv.Atoi(ttl); err == nil && h > 0 {
			dur = time.Duration(h) * time.Hour
		}
	}

	return AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   issuer,
		JWTDuration: dur,
	}
}

// LimitConfig holds the submission rate-limit thresholds. Windows are fixed;
// the origin window is coarser than the per-user windows on purpose.
type LimitConfig struct {
	ChapterPerUser int           // chapter submissions per user per window
	ChapterWindow  time.Duration //
	SeriesPerUser  int           // series submissions per user per window
	SeriesWindow   time.Duration //
	PerOrigin      int           // any submissions per network origin per window
	OriginWindow   time.Duration //
}

func LoadLimitConfig() LimitConfig {
	return LimitConfig{
		ChapterPerUser: envInt("SCANHUB_LIMIT_CHAPTERS_PER_USER", 10),
		ChapterWindow:  time.Hour,
		SeriesPerUser:  envInt("SCANHUB_LIMIT_SERIES_PER_USER", 2),
		SeriesWindow:   24 * time.Hour,
		PerOrigin:      envInt("SCANHUB_LIMIT_PER_ORIGIN", 30),
		OriginWindow:   time.Hour,
	}
}

// StorageConfig selects the object-store backend. Backend is "local" or "s3".
type StorageConfig struct {
	Backend string

	LocalDir string
	BaseURL  string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string // optional, for R2/minio
	S3PublicURL string
}

func LoadStorageConfig() StorageConfig {
	cfg := StorageConfig{
		Backend:     os.Getenv("SCANHUB_STORAGE"),
		LocalDir:    os.Getenv("SCANHUB_STORAGE_DIR"),
		BaseURL:     os.Getenv("SCANHUB_BASE_URL"),
		S3Bucket:    os.Getenv("SCANHUB_S3_BUCKET"),
		S3Region:    os.Getenv("SCANHUB_S3_REGION"),
		S3Endpoint:  os.Getenv("SCANHUB_S3_ENDPOINT"),
		S3PublicURL: os.Getenv("SCANHUB_S3_PUBLIC_URL"),
	}
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.LocalDir == "" {
		cfg.LocalDir = "data/objects"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	return cfg
}

// ValkeyConfig configures the optional external rate-limit counter store.
// An empty Addr means counters live in process memory.
type ValkeyConfig struct {
	Addr     string
	Password string
	TLS      bool
}

func LoadValkeyConfig() ValkeyConfig {
	return ValkeyConfig{
		Addr:     os.Getenv("SCANHUB_VALKEY_ADDR"),
		Password: os.Getenv("SCANHUB_VALKEY_PASSWORD"),
		TLS:      os.Getenv("SCANHUB_VALKEY_TLS") == "true",
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
