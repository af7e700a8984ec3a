package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var configEnvKeys = []string{
	"GRADER_CONFIG", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_TEMPERATURE", "OCR_PROVIDER",
	"DOCUMENT_AI_PROCESSOR_ID", "LINE_Y_THRESHOLD", "LINE_X_THRESHOLD", "MATCH_THRESHOLD",
	"GRADER_MAX_RETRIES", "GRADER_STRUCTURED_MARKS", "BATCH_WORKERS", "MAX_UPLOAD_BYTES",
	"CORS_ORIGINS", "SERVER_ADDR",
}

// clearEnv blanks every key Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OCRProvider != ProviderVision {
		t.Errorf("OCRProvider = %q", cfg.OCRProvider)
	}
	if cfg.LineYThreshold != 15 || cfg.LineXThreshold != 100 || cfg.MatchThreshold != 0.6 {
		t.Errorf("thresholds = %v/%v/%v", cfg.LineYThreshold, cfg.LineXThreshold, cfg.MatchThreshold)
	}
	if cfg.OpenAIModel != "gpt-4" || cfg.GraderMaxRetries != 3 || !cfg.GraderStructuredMarks {
		t.Errorf("grader defaults = %q/%d/%v", cfg.OpenAIModel, cfg.GraderMaxRetries, cfg.GraderStructuredMarks)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.ServerAddr != ":8000" {
		t.Errorf("server defaults = %v %q", cfg.CORSOrigins, cfg.ServerAddr)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCR_PROVIDER", "Tesseract")
	t.Setenv("MATCH_THRESHOLD", "0.75")
	t.Setenv("GRADER_STRUCTURED_MARKS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("BATCH_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OCRProvider != ProviderTesseract {
		t.Errorf("OCRProvider = %q", cfg.OCRProvider)
	}
	if cfg.MatchThreshold != 0.75 || cfg.GraderStructuredMarks || cfg.BatchWorkers != 8 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "https://a.example|https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_YAMLFileUnderEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "grader.yaml")
	data := "openai_model: gpt-4o\nline_y_threshold: 20\nmatch_threshold: 0.5\ncors_origins:\n  - https://school.example\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRADER_CONFIG", path)
	t.Setenv("MATCH_THRESHOLD", "0.9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OpenAIModel != "gpt-4o" || cfg.LineYThreshold != 20 {
		t.Errorf("file values not applied: %q %v", cfg.OpenAIModel, cfg.LineYThreshold)
	}
	if cfg.MatchThreshold != 0.9 {
		t.Errorf("environment should win over file, got %v", cfg.MatchThreshold)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://school.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.LineXThreshold != 100 {
		t.Errorf("unset file key should keep default, got %v", cfg.LineXThreshold)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown provider", map[string]string{"OCR_PROVIDER": "abbyy"}, "OCR_PROVIDER"},
		{"negative y threshold", map[string]string{"LINE_Y_THRESHOLD": "-1"}, "LINE_Y_THRESHOLD"},
		{"match threshold above one", map[string]string{"MATCH_THRESHOLD": "1.5"}, "MATCH_THRESHOLD"},
		{"unparsable number", map[string]string{"LINE_X_THRESHOLD": "wide"}, "LINE_X_THRESHOLD"},
		{"documentai without processor", map[string]string{"OCR_PROVIDER": "documentai"}, "DOCUMENT_AI_PROCESSOR_ID"},
		{"zero workers", map[string]string{"BATCH_WORKERS": "0"}, "BATCH_WORKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}

func TestGetLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	lc := cfg.GetLoggerConfig()
	if lc.Level != "debug" || lc.Output != "stderr" || lc.Format != "console" {
		t.Errorf("unexpected logger config: %+v", lc)
	}
}
