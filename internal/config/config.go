// Package config provides configuration loading for the orchestrator service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the orchestrator service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// ComfyUI engine
	ComfyHost      string // host:port of the ComfyUI server
	ClientID       string // websocket client id; generated when empty
	RequestTimeout time.Duration
	TrackTimeout   time.Duration

	// JobStore configuration
	JobStoreType string // "memory", "file" or "redis"
	DataDir      string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Template store
	TemplateDir string

	// Artifact store
	ArtifactStoreType string // "local" or "s3"
	ArtifactDir       string
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3PathPrefix      string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// ComfyUI engine
		ComfyHost:      getEnv("COMFY_HOST", "127.0.0.1:8188"),
		ClientID:       getEnv("COMFY_CLIENT_ID", ""),
		RequestTimeout: getDuration("COMFY_REQUEST_TIMEOUT", 30*time.Second),
		TrackTimeout:   getDuration("COMFY_TRACK_TIMEOUT", 600*time.Second),

		// JobStore
		JobStoreType: getEnv("JOBSTORE", "file"), // "memory", "file" or "redis"
		DataDir:      getEnv("DATA_DIR", "data/projects"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisTTL:      getDuration("REDIS_TTL", 0), // 0 = no expiry

		// Templates
		TemplateDir: getEnv("TEMPLATE_DIR", "data/templates"),

		// Artifacts
		ArtifactStoreType: getEnv("ARTIFACT_STORE", "local"), // "local" or "s3"
		ArtifactDir:       getEnv("ARTIFACT_DIR", "data/artifacts"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Bucket:          getEnv("S3_BUCKET", "comfystudio-artifacts"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:          getBool("S3_USE_SSL", true),
		S3PathPrefix:      getEnv("S3_PATH_PREFIX", "artifacts"),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
