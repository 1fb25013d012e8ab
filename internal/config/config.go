package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pdf2md/internal/domain"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

type Config struct {
	Port           string
	BaseURL        string
	DataDir        string
	MaxUploadBytes int64

	RenderDPI       int
	JPEGQuality     int
	Workers         int
	QueueSize       int
	DefaultTaskType string

	OCR   OCRConfig
	Store StoreConfig
	Kafka KafkaConfig
	MinIO MinIOConfig

	ShareSecret string
	ShareTTL    time.Duration

	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// OCRConfig points at an OpenAI-compatible vision endpoint serving the OCR model.
type OCRConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

func LoadConfig() (Config, error) {
	cfg := Config{}

	cfg.Port = envOrDefault("PORT", "8080")
	cfg.BaseURL = envOrDefault("BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))
	cfg.DataDir = envOrDefault("DATA_DIR", "data")
	cfg.DefaultTaskType = envOrDefault("DEFAULT_TASK_TYPE", domain.TaskTypeOCR)
	cfg.ShareSecret = envOrDefault("SHARE_SECRET", "change-me")
	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = envOrDefault("LOG_FORMAT", "json")
	cfg.CORSOrigins = splitList(envOrDefault("CORS_ORIGINS", "http://localhost:5173,"+cfg.BaseURL))

	cfg.OCR = OCRConfig{
		APIKey:  os.Getenv("OCR_API_KEY"),
		BaseURL: envOrDefault("OCR_BASE_URL", "http://localhost:8000/v1"),
		Model:   envOrDefault("OCR_MODEL", "PaddleOCR-VL-0.9B"),
	}

	cfg.Store = StoreConfig{
		Backend:       strings.ToLower(envOrDefault("TASK_STORE", StoreMemory)),
		RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   envOrDefault("REDIS_PREFIX", "pdf2md:"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
		Topic:   envOrDefault("KAFKA_TOPIC", "pdf2md.task-events"),
	}

	cfg.MinIO = MinIOConfig{
		Endpoint:        os.Getenv("MINIO_ENDPOINT"),
		AccessKeyID:     os.Getenv("MINIO_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("MINIO_SECRET_KEY"),
		UseSSL:          envOrDefault("MINIO_USE_SSL", "false") == "true",
		Bucket:          os.Getenv("MINIO_BUCKET"),
	}

	ints := []struct {
		key      string
		fallback int64
		dst      func(int64)
	}{
		{"MAX_UPLOAD_MB", 100, func(v int64) { cfg.MaxUploadBytes = v * 1024 * 1024 }},
		{"RENDER_DPI", 300, func(v int64) { cfg.RenderDPI = int(v) }},
		{"JPEG_QUALITY", 95, func(v int64) { cfg.JPEGQuality = int(v) }},
		{"WORKERS", 1, func(v int64) { cfg.Workers = int(v) }},
		{"QUEUE_SIZE", 64, func(v int64) { cfg.QueueSize = int(v) }},
		{"OCR_TIMEOUT_SECONDS", 300, func(v int64) { cfg.OCR.Timeout = time.Duration(v) * time.Second }},
		{"OCR_MAX_TOKENS", 2048, func(v int64) { cfg.OCR.MaxTokens = int(v) }},
		{"REDIS_DB", 0, func(v int64) { cfg.Store.RedisDB = int(v) }},
		{"SHARE_TTL_SECONDS", 86400, func(v int64) { cfg.ShareTTL = time.Duration(v) * time.Second }},
	}
	for _, item := range ints {
		v, err := parseIntEnv(item.key, item.fallback)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", item.key, err)
		}
		item.dst(v)
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RenderDPI < 36 || c.RenderDPI > 600 {
		return domain.ConfigError(fmt.Sprintf("RENDER_DPI must be between 36 and 600, got %d", c.RenderDPI), nil)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return domain.ConfigError(fmt.Sprintf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality), nil)
	}
	if c.Workers < 1 {
		return domain.ConfigError("WORKERS must be at least 1", nil)
	}
	if c.QueueSize < 1 {
		return domain.ConfigError("QUEUE_SIZE must be at least 1", nil)
	}
	if !domain.ValidTaskType(c.DefaultTaskType) {
		return domain.ConfigError(fmt.Sprintf("unknown DEFAULT_TASK_TYPE %q", c.DefaultTaskType), nil)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return domain.ConfigError(fmt.Sprintf("unknown TASK_STORE %q", c.Store.Backend), nil)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
