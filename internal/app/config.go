package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	MongoURI          string // "" disables the Mongo snapshot mirror
	MongoDatabase     string
	MongoCollection   string
	LogLevel          string
	LogFormat         string
	StateDir          string
	DownloadDir       string
	ListenPort        int // 0 = let the backend pick
	CheckpointTimeout time.Duration
	ProbeInterval     time.Duration
	Profile           string // startup profile override; "" = auto-detect
	RateLimitRPS      float64
	RateLimitBurst    int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		MongoURI:          getEnv("MONGO_URI", ""),
		MongoDatabase:     getEnv("MONGO_DB", "swarmhub"),
		MongoCollection:   getEnv("MONGO_COLLECTION", "transfers"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StateDir:          getEnv("STATE_DIR", "state"),
		DownloadDir:       getEnv("DOWNLOAD_DIR", "downloads"),
		ListenPort:        int(getEnvInt64("LISTEN_PORT", 6881)),
		CheckpointTimeout: getEnvDuration("CHECKPOINT_TIMEOUT", 8*time.Second),
		ProbeInterval:     getEnvDuration("PROBE_INTERVAL", 5*time.Second),
		Profile:           strings.ToLower(getEnv("NETWORK_PROFILE", "")),
		RateLimitRPS:      getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		RateLimitBurst:    int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 100)),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
