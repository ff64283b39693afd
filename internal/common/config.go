package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	OCR     OCRConfig
	LLM     LLMConfig
	Tracker TrackerConfig
	Source  SourceConfig
	Session SessionConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr      string
	ModelsDir string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftotext string
	Pdftoppm  string
	Tesseract string

	TesseractLang       string
	DPI                 int
	MaxPages            int
	NativeTextThreshold int
	BackgroundTimeout   time.Duration
}

// LLMConfig holds completion-capability configuration
type LLMConfig struct {
	BaseURL      string // llama.cpp server base URL
	Model        string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration
	PromptBudget int
	HeadChars    int
	TailChars    int
	MinTextLen   int
	BlockConfMin float32
}

// TrackerConfig holds remote tracking store configuration
type TrackerConfig struct {
	BaseURL       string
	SiteName      string
	ListName      string
	TenantName    string
	ClientID      string
	ClientSecret  string
	Scope         string
	RefreshMargin time.Duration
	MaxRetries    int
	Timeout       time.Duration
}

// SourceConfig holds document repository configuration
type SourceConfig struct {
	BaseURL  string
	Ticket   string
	FolderID int64
	Timeout  time.Duration
	TempDir  string
}

// SessionConfig holds processing-session persistence configuration
type SessionConfig struct {
	DBPath   string
	LockPath string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      getEnv("HTTP_ADDR", ":5000"),
			ModelsDir: getEnv("MODELS_DIR", "./models"),
		},
		OCR: OCRConfig{
			Pdftotext:           getEnv("PDFTOTEXT", "pdftotext"),
			Pdftoppm:            getEnv("PDFTOPPM", "pdftoppm"),
			Tesseract:           getEnv("TESSERACT", "tesseract"),
			TesseractLang:       getEnv("TESSERACT_LANG", "eng"),
			DPI:                 getEnvAsInt("OCR_DPI", 200),
			MaxPages:            getEnvAsInt("OCR_MAX_PAGES", 10),
			NativeTextThreshold: getEnvAsInt("OCR_NATIVE_THRESHOLD", 25),
			BackgroundTimeout:   getEnvAsDuration("OCR_BACKGROUND_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:      getEnv("LLM_BASE_URL", "http://127.0.0.1:8081"),
			Model:        getEnv("LLM_MODEL", "mistral-7b.gguf"),
			Temperature:  getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			MaxTokens:    getEnvAsInt("LLM_MAX_TOKENS", 512),
			Timeout:      getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			PromptBudget: getEnvAsInt("LLM_PROMPT_BUDGET", 2400),
			HeadChars:    getEnvAsInt("LLM_HEAD_CHARS", 1200),
			TailChars:    getEnvAsInt("LLM_TAIL_CHARS", 800),
			MinTextLen:   getEnvAsInt("LLM_MIN_TEXT_LEN", 20),
			BlockConfMin: getEnvAsFloat32("LLM_BLOCK_CONF_MIN", 0.5),
		},
		Tracker: TrackerConfig{
			BaseURL:       getEnv("TRACKER_BASE_URL", "https://graph.microsoft.com/v1.0"),
			SiteName:      getEnv("TRACKER_SITE", "DataScience"),
			ListName:      getEnv("TRACKER_LIST", "invoice-verification-tracking"),
			TenantName:    getEnv("TRACKER_TENANT", ""),
			ClientID:      getEnv("TRACKER_CLIENT_ID", ""),
			ClientSecret:  getEnv("TRACKER_CLIENT_SECRET", ""),
			Scope:         getEnv("TRACKER_SCOPE", "https://graph.microsoft.com/.default"),
			RefreshMargin: getEnvAsDuration("TRACKER_REFRESH_MARGIN", 5*time.Minute),
			MaxRetries:    getEnvAsInt("TRACKER_MAX_RETRIES", 4),
			Timeout:       getEnvAsDuration("TRACKER_TIMEOUT", 30*time.Second),
		},
		Source: SourceConfig{
			BaseURL:  getEnv("DOCS_BASE_URL", ""),
			Ticket:   getEnv("DOCS_TICKET", ""),
			FolderID: getEnvAsInt64("DOCS_FOLDER_ID", 0),
			Timeout:  getEnvAsDuration("DOCS_TIMEOUT", 60*time.Second),
			TempDir:  getEnv("DOCS_TEMP_DIR", "./temp"),
		},
		Session: SessionConfig{
			DBPath:   getEnv("SESSION_DB_PATH", "./processing_session.db"),
			LockPath: getEnv("BATCH_LOCK_PATH", "./invoice-batch.lock"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Tracker.TenantName == "" {
		return NewAppError("CONFIG_ERROR", "TRACKER_TENANT is required", ErrInvalidInput)
	}
	if c.Source.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "DOCS_BASE_URL is required", ErrInvalidInput)
	}
	if c.Source.FolderID == 0 {
		return NewAppError("CONFIG_ERROR", "DOCS_FOLDER_ID is required", ErrInvalidInput)
	}
	if c.OCR.MaxPages <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_MAX_PAGES must be positive", ErrInvalidInput)
	}
	return nil
}
