// Package config provides configuration loading for vidsight.
//
// Configuration is loaded from environment variables with sensible defaults.
// This package covers the server, observability, the windowing pipeline and
// every external collaborator the daemon talks to.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the complete vidsight configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Video         VideoConfig         `koanf:"video"`
	Cleanup       CleanupConfig       `koanf:"cleanup"`
	Storage       StorageConfig       `koanf:"storage"`
	AI            AIConfig            `koanf:"ai"`
	Database      DatabaseConfig      `koanf:"database"`
	NATS          NATSConfig          `koanf:"nats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int           `koanf:"max_upload_mb"`
}

// ObservabilityConfig holds OpenTelemetry and logging configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// VideoConfig holds sliding-window pipeline configuration.
// Window sizes are expressed in seconds of video.
type VideoConfig struct {
	WindowSize     float64       `koanf:"window_size"`
	WindowStep     float64       `koanf:"window_step"`
	MinWindowSize  float64       `koanf:"min_window_size"`
	TempPath       string        `koanf:"temp_path"`
	AnalyzeTimeout time.Duration `koanf:"analyze_timeout"`
	URLExpiry      time.Duration `koanf:"url_expiry"`
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	// ReorderWindow is how many chunk indexes past the next expected one
	// are held for reordering.
	ReorderWindow int           `koanf:"reorder_window"`
	HoldTimeout   time.Duration `koanf:"hold_timeout"`
}

// CleanupConfig controls the periodic scratch-directory sweep.
type CleanupConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	Retention     time.Duration `koanf:"retention"`
}

// StorageConfig holds credentials for every object-storage backend.
// A session picks its backend by tag; DefaultBackend only applies when a
// session is created without one.
type StorageConfig struct {
	DefaultBackend string `koanf:"default_backend"`

	MinIOEndpoint  string `koanf:"minio_endpoint"`
	MinIOAccessKey string `koanf:"minio_access_key"`
	MinIOSecretKey Secret `koanf:"minio_secret_key"`
	MinIOBucket    string `koanf:"minio_bucket"`
	MinIOUseSSL    bool   `koanf:"minio_use_ssl"`

	OSSEndpoint        string `koanf:"oss_endpoint"`
	OSSAccessKeyID     string `koanf:"oss_access_key_id"`
	OSSAccessKeySecret Secret `koanf:"oss_access_key_secret"`
	OSSBucket          string `koanf:"oss_bucket"`

	COSBucketURL string `koanf:"cos_bucket_url"`
	COSSecretID  string `koanf:"cos_secret_id"`
	COSSecretKey Secret `koanf:"cos_secret_key"`
}

// AIConfig configures the AI/media RPC service and the optional
// OpenAI-compatible analyzer.
type AIConfig struct {
	Provider      string        `koanf:"provider"`
	GRPCAddress   string        `koanf:"grpc_address"`
	MediaTimeout  time.Duration `koanf:"media_timeout"`
	TitleTimeout  time.Duration `koanf:"title_timeout"`
	OpenAIBaseURL string        `koanf:"openai_base_url"`
	OpenAIAPIKey  Secret        `koanf:"openai_api_key"`
	OpenAIModel   string        `koanf:"openai_model"`
	RateLimit     float64       `koanf:"rate_limit"`
	RateBurst     int           `koanf:"rate_burst"`
}

// DatabaseConfig configures the SQLite persistence layer.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// NATSConfig configures the push sink.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Supported AI providers.
const (
	AIProviderGRPC   = "grpc"
	AIProviderOpenAI = "openai"
)

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadMB:     64,
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "vidsight",
			OTLPEndpoint:    "localhost:4317",
			LogLevel:        "info",
			LogFormat:       "json",
		},
		Video: VideoConfig{
			WindowSize:     15,
			WindowStep:     10,
			MinWindowSize:  5,
			TempPath:       filepath.Join(os.TempDir(), "vidsight"),
			AnalyzeTimeout: 5 * time.Minute,
			URLExpiry:      time.Hour,
			Workers:        4,
			QueueSize:      256,
			ReorderWindow:  8,
			HoldTimeout:    2 * time.Minute,
		},
		Cleanup: CleanupConfig{
			SweepInterval: time.Hour,
			Retention:     2 * time.Hour,
		},
		Storage: StorageConfig{
			DefaultBackend: "minio",
			MinIOEndpoint:  "localhost:9000",
			MinIOBucket:    "vidsight",
		},
		AI: AIConfig{
			Provider:      AIProviderGRPC,
			GRPCAddress:   "localhost:50051",
			MediaTimeout:  2 * time.Minute,
			TitleTimeout:  180 * time.Second,
			OpenAIBaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
			OpenAIModel:   "qwen-vl-max",
			RateLimit:     2,
			RateBurst:     1,
		},
		Database: DatabaseConfig{
			Path: "vidsight.db",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "sessions",
		},
	}
}

// Load loads configuration from environment variables with defaults.
//
// Variable names follow the SECTION_FIELD convention also used by
// LoadWithFile, for example:
//   - SERVER_HTTP_PORT: HTTP server port (default: 8080)
//   - VIDEO_WINDOW_SIZE: window length in seconds (default: 15)
//   - VIDEO_WINDOW_STEP: distance between window starts (default: 10)
//   - VIDEO_TEMP_PATH: scratch directory for masters and window clips
//   - CLEANUP_RETENTION: age after which scratch files are swept (default: 2h)
//   - AI_GRPC_ADDRESS: AI/media RPC service address (default: localhost:50051)
//   - DATABASE_PATH: SQLite file (default: vidsight.db)
//   - NATS_URL: push sink (default: nats://127.0.0.1:4222)
func Load() *Config {
	d := Defaults()
	return &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", d.Server.Host),
			Port:            getEnvInt("SERVER_HTTP_PORT", d.Server.Port),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout),
			MaxUploadMB:     getEnvInt("SERVER_MAX_UPLOAD_MB", d.Server.MaxUploadMB),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OBSERVABILITY_ENABLE_TELEMETRY", d.Observability.EnableTelemetry),
			ServiceName:     getEnvString("OBSERVABILITY_SERVICE_NAME", d.Observability.ServiceName),
			OTLPEndpoint:    getEnvString("OBSERVABILITY_OTLP_ENDPOINT", d.Observability.OTLPEndpoint),
			LogLevel:        getEnvString("OBSERVABILITY_LOG_LEVEL", d.Observability.LogLevel),
			LogFormat:       getEnvString("OBSERVABILITY_LOG_FORMAT", d.Observability.LogFormat),
		},
		Video: VideoConfig{
			WindowSize:     getEnvFloat("VIDEO_WINDOW_SIZE", d.Video.WindowSize),
			WindowStep:     getEnvFloat("VIDEO_WINDOW_STEP", d.Video.WindowStep),
			MinWindowSize:  getEnvFloat("VIDEO_MIN_WINDOW_SIZE", d.Video.MinWindowSize),
			TempPath:       getEnvString("VIDEO_TEMP_PATH", d.Video.TempPath),
			AnalyzeTimeout: getEnvDuration("VIDEO_ANALYZE_TIMEOUT", d.Video.AnalyzeTimeout),
			URLExpiry:      getEnvDuration("VIDEO_URL_EXPIRY", d.Video.URLExpiry),
			Workers:        getEnvInt("VIDEO_WORKERS", d.Video.Workers),
			QueueSize:      getEnvInt("VIDEO_QUEUE_SIZE", d.Video.QueueSize),
			ReorderWindow:  getEnvInt("VIDEO_REORDER_WINDOW", d.Video.ReorderWindow),
			HoldTimeout:    getEnvDuration("VIDEO_HOLD_TIMEOUT", d.Video.HoldTimeout),
		},
		Cleanup: CleanupConfig{
			SweepInterval: getEnvDuration("CLEANUP_SWEEP_INTERVAL", d.Cleanup.SweepInterval),
			Retention:     getEnvDuration("CLEANUP_RETENTION", d.Cleanup.Retention),
		},
		Storage: StorageConfig{
			DefaultBackend:     getEnvString("STORAGE_DEFAULT_BACKEND", d.Storage.DefaultBackend),
			MinIOEndpoint:      getEnvString("STORAGE_MINIO_ENDPOINT", d.Storage.MinIOEndpoint),
			MinIOAccessKey:     getEnvString("STORAGE_MINIO_ACCESS_KEY", ""),
			MinIOSecretKey:     Secret(getEnvString("STORAGE_MINIO_SECRET_KEY", "")),
			MinIOBucket:        getEnvString("STORAGE_MINIO_BUCKET", d.Storage.MinIOBucket),
			MinIOUseSSL:        getEnvBool("STORAGE_MINIO_USE_SSL", false),
			OSSEndpoint:        getEnvString("STORAGE_OSS_ENDPOINT", ""),
			OSSAccessKeyID:     getEnvString("STORAGE_OSS_ACCESS_KEY_ID", ""),
			OSSAccessKeySecret: Secret(getEnvString("STORAGE_OSS_ACCESS_KEY_SECRET", "")),
			OSSBucket:          getEnvString("STORAGE_OSS_BUCKET", ""),
			COSBucketURL:       getEnvString("STORAGE_COS_BUCKET_URL", ""),
			COSSecretID:        getEnvString("STORAGE_COS_SECRET_ID", ""),
			COSSecretKey:       Secret(getEnvString("STORAGE_COS_SECRET_KEY", "")),
		},
		AI: AIConfig{
			Provider:      getEnvString("AI_PROVIDER", d.AI.Provider),
			GRPCAddress:   getEnvString("AI_GRPC_ADDRESS", d.AI.GRPCAddress),
			MediaTimeout:  getEnvDuration("AI_MEDIA_TIMEOUT", d.AI.MediaTimeout),
			TitleTimeout:  getEnvDuration("AI_TITLE_TIMEOUT", d.AI.TitleTimeout),
			OpenAIBaseURL: getEnvString("AI_OPENAI_BASE_URL", d.AI.OpenAIBaseURL),
			OpenAIAPIKey:  Secret(getEnvString("AI_OPENAI_API_KEY", "")),
			OpenAIModel:   getEnvString("AI_OPENAI_MODEL", d.AI.OpenAIModel),
			RateLimit:     getEnvFloat("AI_RATE_LIMIT", d.AI.RateLimit),
			RateBurst:     getEnvInt("AI_RATE_BURST", d.AI.RateBurst),
		},
		Database: DatabaseConfig{
			Path: getEnvString("DATABASE_PATH", d.Database.Path),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", d.NATS.URL),
			SubjectPrefix: getEnvString("NATS_SUBJECT_PREFIX", d.NATS.SubjectPrefix),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("max upload size must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	v := c.Video
	if v.WindowStep <= 0 || v.WindowSize <= v.WindowStep {
		return fmt.Errorf("invalid window parameters: size=%g step=%g (need 0 < step < size)", v.WindowSize, v.WindowStep)
	}
	if v.MinWindowSize <= 0 {
		return fmt.Errorf("min window size must be positive, got %g", v.MinWindowSize)
	}
	if v.TempPath == "" {
		return errors.New("video temp path is required")
	}
	if v.AnalyzeTimeout <= 0 || v.URLExpiry <= 0 {
		return errors.New("analyze timeout and url expiry must be positive")
	}
	if v.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", v.Workers)
	}
	if v.QueueSize < 1 {
		return fmt.Errorf("queue size must be >= 1, got %d", v.QueueSize)
	}
	if v.ReorderWindow < 1 || v.HoldTimeout <= 0 {
		return fmt.Errorf("reorder window must be >= 1 and hold timeout positive, got %d and %s", v.ReorderWindow, v.HoldTimeout)
	}

	if c.Cleanup.SweepInterval <= 0 || c.Cleanup.Retention <= 0 {
		return errors.New("cleanup sweep interval and retention must be positive")
	}

	switch c.AI.Provider {
	case AIProviderGRPC:
	case AIProviderOpenAI:
		if c.AI.OpenAIBaseURL == "" || c.AI.OpenAIModel == "" {
			return errors.New("openai provider requires base url and model")
		}
	default:
		return fmt.Errorf("unsupported ai provider: %q", c.AI.Provider)
	}
	if c.AI.GRPCAddress == "" {
		return errors.New("ai grpc address is required for media operations")
	}
	if c.AI.RateLimit <= 0 || c.AI.RateBurst < 1 {
		return errors.New("ai rate limit and burst must be positive")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.NATS.URL == "" {
		return errors.New("nats url is required")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
