package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"grader/internal/logger"
)

// Supported OCR providers.
const (
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
	ProviderTesseract  = "tesseract"
)

const defaultMaxUploadBytes = 20 * 1024 * 1024

type Config struct {
	// OpenAI Configuration
	OpenAIAPIKey      string  `yaml:"openai_api_key"`
	OpenAIModel       string  `yaml:"openai_model"`
	OpenAIBaseURL     string  `yaml:"openai_base_url"`
	OpenAITemperature float64 `yaml:"openai_temperature"`

	// Grading Configuration
	GraderMaxRetries      int  `yaml:"grader_max_retries"`
	GraderStructuredMarks bool `yaml:"grader_structured_marks"`

	// OCR Configuration
	OCRProvider           string `yaml:"ocr_provider"`
	GoogleCloudProject    string `yaml:"google_cloud_project"`
	GoogleCloudLocation   string `yaml:"google_cloud_location"`
	DocumentAIProcessorID string `yaml:"document_ai_processor_id"`
	TesseractLanguage     string `yaml:"tesseract_language"`

	// Line reconstruction and alignment
	LineYThreshold float64 `yaml:"line_y_threshold"`
	LineXThreshold float64 `yaml:"line_x_threshold"`
	MatchThreshold float64 `yaml:"match_threshold"`

	// Server Configuration
	ServerAddr     string   `yaml:"server_addr"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`

	// Batch processing
	BatchWorkers int `yaml:"batch_workers"`

	// Logging Configuration
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogTimeFormat string `yaml:"log_time_format"`
	LogOutput     string `yaml:"log_output"`
}

// Default returns the configuration used when neither a file nor the environment sets a value.
func Default() *Config {
	return &Config{
		OpenAIModel:           "gpt-4",
		OpenAITemperature:     0.2,
		GraderMaxRetries:      3,
		GraderStructuredMarks: true,
		OCRProvider:           ProviderVision,
		GoogleCloudLocation:   "us",
		TesseractLanguage:     "eng",
		LineYThreshold:        15,
		LineXThreshold:        100,
		MatchThreshold:        0.6,
		ServerAddr:            ":8000",
		CORSOrigins:           []string{"http://localhost:8000", "http://localhost:3000"},
		MaxUploadBytes:        defaultMaxUploadBytes,
		BatchWorkers:          4,
		LogLevel:              "info",
		LogFormat:             "console",
		LogTimeFormat:         "2006-01-02T15:04:05Z07:00",
		LogOutput:             "stderr",
	}
}

// Load builds the configuration from defaults, the YAML file named by GRADER_CONFIG
// (if any) and finally the environment.
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("GRADER_CONFIG"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("config environment parsing failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OCRProvider = strings.ToLower(getEnv("OCR_PROVIDER", c.OCRProvider))
	c.GoogleCloudProject = getEnv("GOOGLE_CLOUD_PROJECT", c.GoogleCloudProject)
	c.GoogleCloudLocation = getEnv("GOOGLE_CLOUD_LOCATION", c.GoogleCloudLocation)
	c.DocumentAIProcessorID = getEnv("DOCUMENT_AI_PROCESSOR_ID", c.DocumentAIProcessorID)
	c.TesseractLanguage = getEnv("TESSERACT_LANGUAGE", c.TesseractLanguage)
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogTimeFormat = getEnv("LOG_TIME_FORMAT", c.LogTimeFormat)
	c.LogOutput = getEnv("LOG_OUTPUT", c.LogOutput)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = splitList(origins)
	}

	var errs []error
	c.OpenAITemperature = getEnvFloat("OPENAI_TEMPERATURE", c.OpenAITemperature, &errs)
	c.LineYThreshold = getEnvFloat("LINE_Y_THRESHOLD", c.LineYThreshold, &errs)
	c.LineXThreshold = getEnvFloat("LINE_X_THRESHOLD", c.LineXThreshold, &errs)
	c.MatchThreshold = getEnvFloat("MATCH_THRESHOLD", c.MatchThreshold, &errs)
	c.GraderMaxRetries = getEnvInt("GRADER_MAX_RETRIES", c.GraderMaxRetries, &errs)
	c.BatchWorkers = getEnvInt("BATCH_WORKERS", c.BatchWorkers, &errs)
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes), &errs))
	c.GraderStructuredMarks = getEnvBool("GRADER_STRUCTURED_MARKS", c.GraderStructuredMarks, &errs)

	return errors.Join(errs...)
}

// validate checks settings every command depends on. Credentials are checked
// by the services that need them, so offline commands work without them.
func (c *Config) validate() error {
	switch c.OCRProvider {
	case ProviderVision, ProviderDocumentAI, ProviderTesseract:
	default:
		return fmt.Errorf("OCR_PROVIDER must be one of %s, %s, %s (got %q)",
			ProviderVision, ProviderDocumentAI, ProviderTesseract, c.OCRProvider)
	}
	if c.LineYThreshold <= 0 {
		return fmt.Errorf("LINE_Y_THRESHOLD must be positive")
	}
	if c.LineXThreshold <= 0 {
		return fmt.Errorf("LINE_X_THRESHOLD must be positive")
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be within [0, 1]")
	}
	if c.GraderMaxRetries < 1 {
		return fmt.Errorf("GRADER_MAX_RETRIES must be at least 1")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.OCRProvider == ProviderDocumentAI && c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai provider")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return f
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
