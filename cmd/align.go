package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"grader/internal/align"
	"grader/internal/grading"
	"grader/internal/logger"
	"grader/pkg/models"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Anchor grader remarks to OCR lines",
	Long: `Align the fragments of a grader answer to reconstructed lines.

--lines is either the JSON output of "grader lines --json" or a plain text file
with one line per row (plain text lines carry no bounds).

--fragments is a grader answer: free text (one fragment per line) or the JSON
mark format with method_marks and answer_mark. Marks that cite a line number
are resolved by index; everything else is matched by text.`,
	Example: `  # Align free-text feedback against saved lines
  grader align --lines lines.json --fragments answer.txt

  # Stricter matching, JSON output
  grader align --lines lines.json --fragments answer.json --threshold 0.8 --json`,
	Args: cobra.NoArgs,
	RunE: runAlign,
}

func init() {
	rootCmd.AddCommand(alignCmd)

	alignCmd.Flags().String("lines", "", "Line records (JSON) or text file [REQUIRED]")
	alignCmd.Flags().String("fragments", "", "Grader answer file [REQUIRED]")
	alignCmd.Flags().Float64("threshold", -1, "Acceptance threshold in [0, 1] (default: MATCH_THRESHOLD)")
	alignCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	alignCmd.Flags().Bool("json", false, "Output as JSON")

	alignCmd.MarkFlagRequired("lines")
	alignCmd.MarkFlagRequired("fragments")
}

func runAlign(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("align")

	linesPath, _ := cmd.Flags().GetString("lines")
	fragmentsPath, _ := cmd.Flags().GetString("fragments")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if threshold < 0 {
		cfg, err := loadConfig(log)
		if err != nil {
			return err
		}
		threshold = cfg.MatchThreshold
	}

	aligner, err := align.NewAligner(threshold)
	if err != nil {
		return err
	}

	lineRecords, err := readLineRecords(linesPath)
	if err != nil {
		return err
	}

	answer, err := os.ReadFile(fragmentsPath)
	if err != nil {
		return fmt.Errorf("failed to read fragments file: %w", err)
	}
	fb := grading.ParseFeedback(string(answer))

	anchors := grading.Anchor(aligner, fb, lineRecords)

	log.Info().
		Int("lines", len(lineRecords)).
		Bool("structured", fb.Structured).
		Int("alignments", len(anchors.Alignments)).
		Int("indexed", len(anchors.Indexed)).
		Int("omissions", len(anchors.Omissions)).
		Float64("threshold", threshold).
		Msg("Alignment completed")

	if jsonOutput {
		return outputJSON(anchors, outputPath, log)
	}
	return outputResults([]byte(formatAnchors(anchors)), outputPath, false, log)
}

// readLineRecords loads line records from JSON, or one record per non-blank text row.
func readLineRecords(path string) ([]models.LineRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lines file: %w", err)
	}

	var records []models.LineRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	records = nil
	for _, row := range strings.Split(string(data), "\n") {
		if row = strings.TrimSpace(row); row != "" {
			records = append(records, models.LineRecord{Text: row, WordCount: len(strings.Fields(row))})
		}
	}
	return records, nil
}

func formatAnchors(anchors grading.Anchors) string {
	var b strings.Builder
	for _, a := range anchors.Alignments {
		if !a.Matched() {
			fmt.Fprintf(&b, "%q -> absent\n", a.SourceLine)
			continue
		}
		fmt.Fprintf(&b, "%q -> %q (%s %.2f)\n", a.SourceLine, *a.MatchedLine, a.Pass, a.Score)
	}
	for _, ia := range anchors.Indexed {
		fmt.Fprintf(&b, "[%s] line %d: %s\n", ia.Type, ia.LineNumber, ia.Text)
	}
	for _, o := range anchors.Omissions {
		fmt.Fprintf(&b, "[%s] omitted (%s): %s\n", o.Type, o.Reason, o.Text)
	}
	return b.String()
}
