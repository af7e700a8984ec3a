package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grader/internal/config"
	"grader/internal/grading"
	"grader/internal/lines"
	"grader/internal/logger"
)

var gradeCmd = &cobra.Command{
	Use:   "grade [image-file]",
	Short: "Grade a photo of handwritten work",
	Long: `Run the full pipeline on one image: OCR, line reconstruction, grading by the
language model and alignment of every remark to the line it refers to.

Prints the result as JSON (question, answer, lines, alignments,
indexed_alignments, omissions).

Required environment variables:
  OPENAI_API_KEY - OpenAI API key
  plus the credentials of the selected OCR provider (see "grader ocr --help")`,
	Example: `  # Grade a worksheet
  grader grade worksheet.jpg

  # Free-text feedback instead of line-numbered marks
  GRADER_STRUCTURED_MARKS=false grader grade worksheet.jpg -o result.json

  # Include the raw provider response
  grader grade worksheet.jpg --raw`,
	Args: cobra.ExactArgs(1),
	RunE: runGrade,
}

func init() {
	rootCmd.AddCommand(gradeCmd)

	gradeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	gradeCmd.Flags().Bool("raw", false, "Keep the raw OCR response in the output")
	gradeCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runGrade(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("grade")

	outputPath, _ := cmd.Flags().GetString("output")
	includeRaw, _ := cmd.Flags().GetBool("raw")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	imagePath := args[0]

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	if _, err := validateImageFile(imagePath, log); err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	service, closeFn, err := createGradingService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	imageFile, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image file: %w", err)
	}
	defer imageFile.Close()

	result, err := service.GradeImage(ctx, "", imageFile)
	if err != nil {
		return handleGradingError(err, log)
	}
	if !includeRaw {
		result.RawOCR = nil
	}

	log.Info().
		Str("request_id", result.RequestID).
		Int("lines", len(result.Lines)).
		Int("alignments", len(result.Alignments)).
		Int("indexed", len(result.IndexedAlignments)).
		Str("duration", result.ProcessingDuration).
		Msg("Image graded")

	return outputJSON(result, outputPath, log)
}

// createGradingService wires the OCR provider and the OpenAI grader from the configuration.
// The returned function closes the OCR client.
func createGradingService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*grading.Service, func(), error) {
	graderCfg := grading.GraderConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Model:           cfg.OpenAIModel,
		Temperature:     float32(cfg.OpenAITemperature),
		MaxRetries:      cfg.GraderMaxRetries,
		StructuredMarks: cfg.GraderStructuredMarks,
		MaxTokens:       grading.DefaultGraderConfig().MaxTokens,
	}
	grader, err := grading.NewOpenAIGrader(graderCfg)
	if err != nil {
		if errors.Is(err, grading.ErrMissingAPIKey) {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for grading")
		}
		return nil, nil, err
	}

	ocrService, err := createOCRService(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	service, err := grading.NewService(ocrService, grader, grading.ServiceConfig{
		Lines: lines.Config{
			YThreshold: cfg.LineYThreshold,
			XThreshold: cfg.LineXThreshold,
		},
		MatchThreshold: cfg.MatchThreshold,
	})
	if err != nil {
		ocrService.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := ocrService.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close OCR service")
		}
	}
	return service, closeFn, nil
}

// handleGradingError maps pipeline errors to user-friendly messages.
func handleGradingError(err error, log zerolog.Logger) error {
	switch {
	case errors.Is(err, grading.ErrNoText):
		log.Error().Err(err).Msg("Nothing to grade")
		return fmt.Errorf("no text lines were found in the image")
	case errors.Is(err, grading.ErrGradingFailed), errors.Is(err, grading.ErrEmptyResponse):
		log.Error().Err(err).Msg("Grading failed")
		return fmt.Errorf("the language model could not grade the work. Check OPENAI_API_KEY, OPENAI_MODEL and network access: %w", err)
	default:
		return handleOCRError(err, log)
	}
}
