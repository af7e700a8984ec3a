package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grader/internal/config"
	"grader/internal/logger"
	"grader/internal/ocr"
	"grader/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file]",
	Short: "Recognise the words in an image",
	Long: `Run the configured OCR provider on an image and print the recognised text,
or with --json the word tokens with their bounding boxes.

The provider is chosen by OCR_PROVIDER (vision, documentai or tesseract).

Required environment variables for the Google providers:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID (documentai)
  DOCUMENT_AI_PROCESSOR_ID - Document AI OCR processor ID (documentai)`,
	Example: `  # Print the text of a worksheet photo
  grader ocr worksheet.jpg

  # Save tokens as JSON for the lines command
  grader ocr worksheet.jpg --json -o tokens.json

  # Use local Tesseract (binary built with -tags ocr)
  OCR_PROVIDER=tesseract grader ocr worksheet.png`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	FileName           string             `json:"file_name"`
	FileSize           int64              `json:"file_size"`
	Provider           string             `json:"provider"`
	Text               string             `json:"text"`
	Tokens             []models.WordToken `json:"tokens"`
	Confidence         float32            `json:"confidence,omitempty"`
	ProcessedAt        time.Time          `json:"processed_at"`
	ProcessingDuration string             `json:"processing_duration"`
	Raw                json.RawMessage    `json:"raw,omitempty"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("json", false, "Output tokens as JSON")
	ocrCmd.Flags().Bool("raw", false, "Include the raw provider response in JSON output")
	ocrCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	includeRaw, _ := cmd.Flags().GetBool("raw")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	fileInfo, err := validateImageFile(imagePath, log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	ocrService, err := createOCRService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ocrService.Close()

	result, err := recognizeFile(ctx, ocrService, imagePath, log)
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Int("tokens", len(result.Tokens)).
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("OCR processing completed successfully")

	if !jsonOutput {
		return outputResults([]byte(result.Text), outputPath, true, log)
	}

	out := OCROutput{
		FileName:           filepath.Base(fileInfo.Name()),
		FileSize:           fileInfo.Size(),
		Provider:           result.Provider,
		Text:               result.Text,
		Tokens:             result.Tokens,
		Confidence:         result.Confidence,
		ProcessedAt:        result.ProcessedAt,
		ProcessingDuration: result.ProcessingDuration.String(),
	}
	if includeRaw {
		out.Raw = result.Raw
	}
	return outputJSON(out, outputPath, log)
}

// recognizeFile opens an image file and runs it through the OCR service.
func recognizeFile(ctx context.Context, ocrService ocr.OCRService, imagePath string, log zerolog.Logger) (*ocr.OCRResult, error) {
	imageFile, err := os.Open(imagePath)
	if err != nil {
		log.Error().
			Err(err).
			Str("file", imagePath).
			Msg("Failed to open image file")
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer func() {
		if closeErr := imageFile.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close image file")
		}
	}()

	return ocrService.RecognizeImage(ctx, imageFile)
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// validateImageFile checks if the file exists, is readable, and is within the size limit
func validateImageFile(imagePath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", imagePath).
				Msg("Image file not found")
			return nil, fmt.Errorf("image file not found: %s", imagePath)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", imagePath).
				Msg("Permission denied accessing image file")
			return nil, fmt.Errorf("permission denied accessing image file: %s", imagePath)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", imagePath).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", imagePath)
	}

	if !isImageFile(imagePath) {
		log.Warn().
			Str("file", imagePath).
			Msg("File does not have an image extension")
	}

	if fileInfo.Size() == 0 {
		return nil, fmt.Errorf("image file is empty: %s", imagePath)
	}

	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", imagePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxImageSizeBytes)
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// createOCRService creates the provider selected by the configuration
func createOCRService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.OCRService, error) {
	ocrService, err := ocr.NewService(ctx, ocr.Options{
		Provider:    cfg.OCRProvider,
		ProjectID:   cfg.GoogleCloudProject,
		Location:    cfg.GoogleCloudLocation,
		ProcessorID: cfg.DocumentAIProcessorID,
		Language:    cfg.TesseractLanguage,
	})
	if err != nil {
		switch {
		case errors.Is(err, ocr.ErrMissingCredentials):
			log.Error().Err(err).Msg("Google Cloud credentials validation failed")
			return nil, fmt.Errorf("Google Cloud credentials not usable. Please set one of:\n\n" +
				"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
				"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
				"2. Export GOOGLE_CREDENTIALS with inline JSON\n\n" +
				"3. Use Application Default Credentials (gcloud auth application-default login)\n\n" +
				"Original error: %w", err)
		case errors.Is(err, ocr.ErrTesseractNotEnabled):
			return nil, fmt.Errorf("the tesseract provider needs a binary built with -tags ocr: %w", err)
		}
		log.Error().Err(err).Str("provider", cfg.OCRProvider).Msg("Failed to create OCR service")
		return nil, fmt.Errorf("failed to create OCR service: %w", err)
	}

	log.Debug().Str("provider", ocrService.Name()).Msg("OCR service created successfully")
	return ocrService, nil
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("processing was canceled")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 20MB). Try downscaling it")
	case errors.Is(err, ocr.ErrInvalidImage):
		return fmt.Errorf("invalid or unsupported image. Use PNG, JPEG, GIF, BMP, WebP or TIFF")
	case errors.Is(err, ocr.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the image")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "auth:") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Check GOOGLE_APPLICATION_CREDENTIALS "+
			"or GOOGLE_CREDENTIALS, or run: gcloud auth application-default login\n\nOriginal error: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "forbidden"):
		return fmt.Errorf("permission denied. Please ensure your service account may call the %s API", providerAPIName(errStr))
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "quota"):
		return fmt.Errorf("OCR API quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues or service unavailability: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

func providerAPIName(errStr string) string {
	if strings.Contains(errStr, "documentai") {
		return "Document AI"
	}
	return "Cloud Vision"
}

// outputJSON marshals v with indentation and writes it like outputResults.
func outputJSON(v interface{}, outputPath string, log zerolog.Logger) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return outputResults(data, outputPath, true, log)
}

// outputResults writes data to outputPath, or to stdout when no path is given
func outputResults(data []byte, outputPath string, trailingNewline bool, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	if trailingNewline {
		fmt.Println()
	}
	return nil
}
