package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Recording RecordingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	MaxChunkBytes      int64  // upper bound for one multipart form on /upload-video/chunk
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/podcast?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to validate session tokens from the auth provider.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds credentials and the recordings bucket of the S3-compatible store.
type AWSConfig struct {
	Region           string
	Endpoint         string // empty = AWS; set for MinIO and other S3-compatible stores
	UsePathStyle     bool
	AccessKeyID      string
	SecretAccessKey  string
	RecordingsBucket string
}

// RecordingConfig holds recording pipeline settings.
type RecordingConfig struct {
	FinalizeLinkTTL time.Duration // download URL returned by /upload-video/complete
	DownloadLinkTTL time.Duration // download URL returned by /download-meeting
	HistoryCacheTTL time.Duration // chat history cache entry lifetime
	RecoverTimeout  time.Duration // whole-body deadline of /upload-video/recover; 0 = none
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               GetEnv("PORT", "8080"),
			ReadTimeout:        GetEnvInt("READ_TIMEOUT_SEC", 60),
			WriteTimeout:       GetEnvInt("WRITE_TIMEOUT_SEC", 60),
			CORSAllowedOrigins: GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			MaxChunkBytes:      int64(GetEnvInt("MAX_CHUNK_MB", 64)) << 20,
		},
		Database: DatabaseConfig{
			URL:      GetEnv("DATABASE_URL", ""),
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "5432"),
			User:     GetEnv("DB_USER", "postgres"),
			Password: GetEnv("DB_PASSWORD", "postgres"),
			DBName:   GetEnv("DB_NAME", "podcast"),
			SSLMode:  GetEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     GetEnv("REDIS_ADDR", "localhost:6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      GetEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: GetEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:           GetEnv("AWS_REGION", "ap-south-1"),
			Endpoint:         GetEnv("S3_ENDPOINT", ""),
			UsePathStyle:     GetEnvBool("S3_USE_PATH_STYLE", false),
			AccessKeyID:      GetEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  GetEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket: GetEnv("S3_BUCKET_NAME", "podcast-recordings"),
		},
		Recording: RecordingConfig{
			FinalizeLinkTTL: time.Duration(GetEnvInt("RECORDING_FINALIZE_LINK_SEC", 7*24*60*60)) * time.Second,
			DownloadLinkTTL: time.Duration(GetEnvInt("RECORDING_DOWNLOAD_LINK_SEC", 3600)) * time.Second,
			HistoryCacheTTL: time.Duration(GetEnvInt("CHAT_HISTORY_CACHE_SEC", 300)) * time.Second,
			RecoverTimeout:  time.Duration(GetEnvInt("RECOVER_TIMEOUT_SEC", 0)) * time.Second,
		},
	}
	if cfg.AWS.RecordingsBucket == "" {
		return nil, fmt.Errorf("S3_BUCKET_NAME is required")
	}
	return cfg, nil
}

// GetEnvInt returns the integer value of key, or fallback when unset or malformed.
func GetEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of key, or fallback when unset or malformed.
func GetEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnv returns the value of key or fallback.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
