package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grader/internal/config"
	"grader/internal/lines"
	"grader/internal/logger"
	"grader/internal/ocr"
	"grader/pkg/models"
)

var linesCmd = &cobra.Command{
	Use:   "lines [tokens.json|page.hocr|image-file]",
	Short: "Rebuild text lines from word boxes",
	Long: `Group word-level OCR tokens into text lines.

The input may be:
  - a JSON file with a token array, or the output of "grader ocr --json"
    (tokens as {"text", "bounds"} objects or ["word", [[x,y] x4]] pairs)
  - an hOCR file (.hocr, .html) as written by "tesseract ... hocr"
  - an image, which is first run through the configured OCR provider

Thresholds default to LINE_Y_THRESHOLD and LINE_X_THRESHOLD.`,
	Example: `  # Lines from saved tokens
  grader lines tokens.json

  # Lines from a Tesseract hOCR page, sorted top to bottom
  grader lines page.hocr --sort

  # Lines straight from an image, as JSON
  grader lines worksheet.jpg --json -o lines.json`,
	Args: cobra.ExactArgs(1),
	RunE: runLines,
}

func init() {
	rootCmd.AddCommand(linesCmd)

	linesCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	linesCmd.Flags().Bool("json", false, "Output line records as JSON")
	linesCmd.Flags().Float64("y-threshold", 0, "Vertical grouping threshold in pixels (default: LINE_Y_THRESHOLD)")
	linesCmd.Flags().Float64("x-threshold", 0, "Horizontal grouping threshold in pixels (default: LINE_X_THRESHOLD)")
	linesCmd.Flags().Bool("sort", false, "Order lines by their mean vertical center")
	linesCmd.Flags().Int("timeout", 120, "OCR timeout in seconds when the input is an image")
}

func runLines(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("lines")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	lineCfg := lineConfigFromFlags(cmd, cfg)

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	tokens, _, err := loadTokens(ctx, args[0], cfg, log)
	if err != nil {
		return err
	}

	records, err := lines.Group(tokens, lineCfg)
	if err != nil {
		return fmt.Errorf("line reconstruction failed: %w", err)
	}

	log.Info().
		Int("tokens", len(tokens)).
		Int("lines", len(records)).
		Msg("Lines reconstructed")

	if jsonOutput {
		return outputJSON(records, outputPath, log)
	}
	return outputResults([]byte(formatLines(records)), outputPath, false, log)
}

func lineConfigFromFlags(cmd *cobra.Command, cfg *config.Config) lines.Config {
	lineCfg := lines.Config{
		YThreshold: cfg.LineYThreshold,
		XThreshold: cfg.LineXThreshold,
	}
	if v, _ := cmd.Flags().GetFloat64("y-threshold"); v > 0 {
		lineCfg.YThreshold = v
	}
	if v, _ := cmd.Flags().GetFloat64("x-threshold"); v > 0 {
		lineCfg.XThreshold = v
	}
	lineCfg.SortByMeanY, _ = cmd.Flags().GetBool("sort")
	return lineCfg
}

// formatLines renders one numbered line per record with its envelope.
func formatLines(records []models.LineRecord) string {
	var b strings.Builder
	for i, r := range records {
		e := r.Bounds.Extent()
		fmt.Fprintf(&b, "%3d  [%.0f,%.0f - %.0f,%.0f]  %s\n", i+1, e.MinX, e.MinY, e.MaxX, e.MaxY, r.Text)
	}
	return b.String()
}

// loadTokens reads word tokens from a token JSON file, an hOCR page or an image.
// The returned text is the provider's full-page text for images and empty otherwise.
func loadTokens(ctx context.Context, path string, cfg *config.Config, log zerolog.Logger) ([]models.WordToken, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read token file: %w", err)
		}
		tokens, err := decodeTokens(data)
		if err != nil {
			return nil, "", fmt.Errorf("invalid token file %s: %w", path, err)
		}
		return tokens, "", nil

	case ".hocr", ".html", ".htm", ".xhtml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read hOCR file: %w", err)
		}
		tokens, err := ocr.ParseHOCR(data)
		if err != nil {
			return nil, "", fmt.Errorf("invalid hOCR file %s: %w", path, err)
		}
		return tokens, "", nil
	}

	if _, err := validateImageFile(path, log); err != nil {
		return nil, "", err
	}
	ocrService, err := createOCRService(ctx, cfg, log)
	if err != nil {
		return nil, "", err
	}
	defer ocrService.Close()

	result, err := recognizeFile(ctx, ocrService, path, log)
	if err != nil {
		return nil, "", handleOCRError(err, log)
	}
	return result.Tokens, result.Text, nil
}

// decodeTokens accepts a bare token array or an object with a "tokens" field.
func decodeTokens(data []byte) ([]models.WordToken, error) {
	var tokens []models.WordToken
	if err := json.Unmarshal(data, &tokens); err == nil {
		return tokens, nil
	}

	var wrapped struct {
		Tokens []models.WordToken `json:"tokens"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Tokens == nil {
		return nil, fmt.Errorf("no tokens field")
	}
	return wrapped.Tokens, nil
}
