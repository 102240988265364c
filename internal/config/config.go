package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// ACE-Step queue backend
	ACEStepAPIURL    string
	ACEStepAPIKey    string
	ACEStepOutputDir string // shared volume with the backend, checked before downloading

	// Block serve until ACE-Step is healthy instead of only warning
	WaitForBackend     bool
	BackendWaitTimeout time.Duration

	// Modal synchronous backend
	ModalURL string
	UseModal bool

	// Server
	Port int

	// Generation pipeline
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	PeakCount       int

	// Generation defaults for new projects
	InferenceSteps int
	GuidanceScale  float64
	Shift          float64
	Thinking       bool
	Model          string

	// Playback
	TimeUpdateRate int // scheduler ticks per second

	// Monitor stream of the master bus
	MonitorMP3Bitrate  string
	MonitorOpusBitrate int

	// Blob storage: memory, redis or minio
	BlobBackend    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTTL       time.Duration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is read first; variables already set
// in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ACEStepAPIURL:    envStr("ACESTEP_API_URL", "http://localhost:8001"),
		ACEStepAPIKey:    envStr("ACESTEP_API_KEY", ""),
		ACEStepOutputDir: envStr("ACESTEP_OUTPUT_DIR", ""),

		WaitForBackend:     envBool("LAYERDAW_WAIT_FOR_BACKEND", false),
		BackendWaitTimeout: envDuration("LAYERDAW_BACKEND_WAIT_TIMEOUT", 5*time.Minute),

		ModalURL: envStr("MODAL_URL", ""),
		UseModal: envBool("LAYERDAW_USE_MODAL", false),

		Port: envInt("LAYERDAW_PORT", 8080),

		PollInterval:    envDuration("LAYERDAW_POLL_INTERVAL", 2*time.Second),
		MaxPollDuration: envDuration("LAYERDAW_MAX_POLL_DURATION", 20*time.Minute),
		PeakCount:       envInt("LAYERDAW_PEAK_COUNT", 200),

		InferenceSteps: envInt("LAYERDAW_INFERENCE_STEPS", 50),
		GuidanceScale:  envFloat("LAYERDAW_GUIDANCE_SCALE", 7.0),
		Shift:          envFloat("LAYERDAW_SHIFT", 3.0),
		Thinking:       envBool("LAYERDAW_THINKING", true),
		Model:          envStr("LAYERDAW_MODEL", ""),

		TimeUpdateRate: envInt("LAYERDAW_TIME_UPDATE_RATE", 60),

		MonitorMP3Bitrate:  envStr("LAYERDAW_MONITOR_MP3_BITRATE", "192k"),
		MonitorOpusBitrate: envInt("LAYERDAW_MONITOR_OPUS_BITRATE", 128000),

		BlobBackend:    strings.ToLower(envStr("LAYERDAW_BLOB_BACKEND", "memory")),
		RedisAddr:      envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  envStr("REDIS_PASSWORD", ""),
		RedisDB:        envInt("REDIS_DB", 0),
		RedisTTL:       envDuration("REDIS_TTL", 0),
		MinioEndpoint:  envStr("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: envStr("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: envStr("MINIO_SECRET_KEY", ""),
		MinioBucket:    envStr("MINIO_BUCKET", "layerdaw"),
		MinioUseSSL:    envBool("MINIO_USE_SSL", false),

		LogLevel:      envStr("LOG_LEVEL", "info"),
		LogPath:       envStr("LOG_PATH", ""),
		LogMaxSize:    envInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: envInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     envInt("LOG_MAX_AGE", 30),
		LogCompress:   envBool("LOG_COMPRESS", true),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("2s", "20m") or bare seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
