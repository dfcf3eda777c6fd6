package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	MaxUploadMB   int
	DefaultLocale string
	GeoIPDBPath   string

	ModelProvider  string
	AnalysisShape  string
	PassStrategy   string
	PassDelay      time.Duration
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string
	GroqAPIKey     string
	GroqModel      string
	GroqSynthModel string
	GroqBaseURL    string

	RetryMaxAttempts   int
	RetryRateLimitWait time.Duration
	RetryTransientWait time.Duration
	RetryBuffer        time.Duration

	StorageDriver      string
	StoragePath        string
	StorageBaseURL     string
	SupabaseURL        string
	SupabaseKey        string
	SupabaseBucket     string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3PublicBaseURL    string
	S3AccessKeyID      string
	S3SecretAccessKey  string
	AzureAccountName   string
	AzureAccountKey    string
	AzureContainer     string
	AzureServiceURL    string
	RemoveBGAPIKey     string
	RemoveBGURL        string
	QueueItemDelay     time.Duration
	CORSAllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxUploadMB:   getEnvInt("MAX_UPLOAD_MB", 30),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),

		ModelProvider:  strings.ToLower(getEnv("MODEL_PROVIDER", "gemini")),
		AnalysisShape:  strings.ToLower(getEnv("ANALYSIS_SHAPE", "single")),
		PassStrategy:   strings.ToLower(getEnv("PASS_STRATEGY", "concurrent")),
		PassDelay:      getEnvMillis("PASS_DELAY_MS", 2*time.Second),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		GeminiBaseURL:  os.Getenv("GEMINI_BASE_URL"),
		GroqAPIKey:     os.Getenv("GROQ_API_KEY"),
		GroqModel:      getEnv("GROQ_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		GroqSynthModel: getEnv("GROQ_SYNTH_MODEL", "llama-3.3-70b-versatile"),
		GroqBaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),

		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryRateLimitWait: getEnvMillis("RETRY_RATE_LIMIT_WAIT_MS", 30*time.Second),
		RetryTransientWait: getEnvMillis("RETRY_TRANSIENT_WAIT_MS", 3*time.Second),
		RetryBuffer:        getEnvMillis("RETRY_BUFFER_MS", time.Second),

		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseKey:        os.Getenv("SUPABASE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "images"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3AccessKeyID:      os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:  os.Getenv("S3_SECRET_ACCESS_KEY"),
		AzureAccountName:   os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:    os.Getenv("AZURE_ACCOUNT_KEY"),
		AzureContainer:     getEnv("AZURE_CONTAINER", "images"),
		AzureServiceURL:    os.Getenv("AZURE_SERVICE_URL"),
		RemoveBGAPIKey:     os.Getenv("REMOVE_BG_API_KEY"),
		RemoveBGURL:        getEnv("REMOVE_BG_URL", "https://api.remove.bg/v1.0/removebg"),
		QueueItemDelay:     getEnvMillis("QUEUE_ITEM_DELAY_MS", 2*time.Second),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.ModelProvider {
	case "gemini", "groq":
	default:
		return nil, fmt.Errorf("MODEL_PROVIDER must be gemini or groq, got %q", cfg.ModelProvider)
	}
	switch cfg.AnalysisShape {
	case "single", "pipeline":
	default:
		return nil, fmt.Errorf("ANALYSIS_SHAPE must be single or pipeline, got %q", cfg.AnalysisShape)
	}
	switch cfg.PassStrategy {
	case "concurrent", "sequential":
	default:
		return nil, fmt.Errorf("PASS_STRATEGY must be concurrent or sequential, got %q", cfg.PassStrategy)
	}
	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if cfg.StorageBaseURL != "" {
		if _, err := url.Parse(cfg.StorageBaseURL); err != nil {
			return nil, fmt.Errorf("STORAGE_BASE_URL: %w", err)
		}
	}

	return cfg, nil
}

// MaxUploadBytes is the request body limit derived from MaxUploadMB.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
