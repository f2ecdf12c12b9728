/**
 * Configuration for the document intelligence service
 *
 * Loads configuration from environment variables (and an optional
 * docintel.yaml in the working directory) through viper.
 */

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds service configuration
type Config struct {
	// Remote inference service. Neither value is validated here; a missing
	// URL or key surfaces as a connection failure on the first call.
	InferenceURL    string
	InferenceAPIKey string

	// HTTP server
	ListenAddr string

	// Transient data: rasterized pages live under DataDir/converted
	DataDir       string
	JobConfigPath string

	// Model registry override file (empty = embedded defaults)
	ModelsFile string

	// Pipeline behaviour
	OCREngine          string
	TesseractLanguages []string
	PipelineFanOut     bool
	SubmitPause        time.Duration
	PollInterval       time.Duration
	NERTimeout         time.Duration
	MaxUploadSize      int64
	MaxPageDimension   int
	PDFDPI             float64

	// Result store
	ResultStore string
	RedisURL    string
	SessionTTL  time.Duration

	// Optional run history in PostgreSQL (empty = disabled)
	DatabaseURL string

	// Dashboard
	DropTopCategory bool

	// Logging
	LogLevel  string
	LogFormat string
}

// ConvertedDir is where page images are written.
func (c *Config) ConvertedDir() string {
	return filepath.Join(c.DataDir, "converted")
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("docintel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	// Accept the variable names used by earlier deployments.
	_ = v.BindEnv("INFERENCE_URL", "INFERENCE_URL", "MODZY_URL")
	_ = v.BindEnv("INFERENCE_API_KEY", "INFERENCE_API_KEY", "MODZY_API_KEY")

	cfg := &Config{
		InferenceURL:       v.GetString("INFERENCE_URL"),
		InferenceAPIKey:    v.GetString("INFERENCE_API_KEY"),
		ListenAddr:         v.GetString("LISTEN_ADDR"),
		DataDir:            v.GetString("DATA_DIR"),
		JobConfigPath:      v.GetString("JOB_CONFIG_PATH"),
		ModelsFile:         v.GetString("MODELS_FILE"),
		OCREngine:          v.GetString("OCR_ENGINE"),
		TesseractLanguages: v.GetStringSlice("TESSERACT_LANGUAGES"),
		PipelineFanOut:     v.GetBool("PIPELINE_FAN_OUT"),
		SubmitPause:        v.GetDuration("SUBMIT_PAUSE"),
		PollInterval:       v.GetDuration("POLL_INTERVAL"),
		NERTimeout:         v.GetDuration("NER_TIMEOUT"),
		MaxUploadSize:      v.GetInt64("MAX_UPLOAD_SIZE"),
		MaxPageDimension:   v.GetInt("MAX_PAGE_DIMENSION"),
		PDFDPI:             v.GetFloat64("PDF_DPI"),
		ResultStore:        v.GetString("RESULT_STORE"),
		RedisURL:           v.GetString("REDIS_URL"),
		SessionTTL:         v.GetDuration("SESSION_TTL"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DropTopCategory:    v.GetBool("DASHBOARD_DROP_TOP_CATEGORY"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8501")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("JOB_CONFIG_PATH", "data/config.json")
	v.SetDefault("OCR_ENGINE", "remote")
	v.SetDefault("TESSERACT_LANGUAGES", []string{"eng"})
	v.SetDefault("PIPELINE_FAN_OUT", false)
	v.SetDefault("SUBMIT_PAUSE", 500*time.Millisecond)
	v.SetDefault("POLL_INTERVAL", 2*time.Second)
	v.SetDefault("NER_TIMEOUT", 600*time.Second)
	v.SetDefault("MAX_UPLOAD_SIZE", int64(200*1024*1024)) // 200MB
	v.SetDefault("MAX_PAGE_DIMENSION", 3300)             // letter at 300 DPI
	v.SetDefault("PDF_DPI", 200)
	v.SetDefault("RESULT_STORE", "memory")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("DASHBOARD_DROP_TOP_CATEGORY", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if c.JobConfigPath == "" {
		return fmt.Errorf("JOB_CONFIG_PATH is required")
	}

	switch c.OCREngine {
	case "remote", "tesseract":
	default:
		return fmt.Errorf("OCR_ENGINE must be remote or tesseract, got %q", c.OCREngine)
	}

	switch c.ResultStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RESULT_STORE=redis")
		}
	default:
		return fmt.Errorf("RESULT_STORE must be memory or redis, got %q", c.ResultStore)
	}

	if c.MaxUploadSize < 1024 || c.MaxUploadSize > 2147483648 { // 1KB to 2GB
		return fmt.Errorf("MAX_UPLOAD_SIZE must be between 1KB and 2GB, got %d", c.MaxUploadSize)
	}

	if c.MaxPageDimension < 100 {
		return fmt.Errorf("MAX_PAGE_DIMENSION must be at least 100, got %d", c.MaxPageDimension)
	}

	if c.PDFDPI < 36 || c.PDFDPI > 600 {
		return fmt.Errorf("PDF_DPI must be between 36 and 600, got %v", c.PDFDPI)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}

	if c.SubmitPause < 0 {
		return fmt.Errorf("SUBMIT_PAUSE must not be negative, got %v", c.SubmitPause)
	}

	if c.NERTimeout <= 0 {
		return fmt.Errorf("NER_TIMEOUT must be positive, got %v", c.NERTimeout)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL)
	}

	return nil
}
