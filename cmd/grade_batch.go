package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grader/internal/logger"
	"grader/pkg/models"
)

var gradeBatchCmd = &cobra.Command{
	Use:   "grade-batch [folder-path]",
	Short: "Grade every image in a folder",
	Long: `Grade all images in a folder (recursively) with a pool of parallel workers.

Each image runs through the full pipeline like "grader grade". Progress is printed
per image; the collected results are written as one JSON array.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)`,
	Example: `  # Grade a class set, results to a file
  grader grade-batch ./submissions -o results.json

  # More workers and a longer overall timeout
  BATCH_WORKERS=8 grader grade-batch ./submissions --timeout 3600`,
	Args: cobra.ExactArgs(1),
	RunE: runGradeBatch,
}

// BatchResult represents the result of grading a single image
type BatchResult struct {
	Filename string              `json:"filename"`
	Result   *models.GradeResult `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
	Status   string              `json:"status"` // "success", "warning", "error"
	Index    int                 `json:"-"`      // Original order index
}

// WorkerJob represents an image grading job
type WorkerJob struct {
	FilePath string
	Index    int
}

// imageGrader is the part of grading.Service the workers need.
type imageGrader interface {
	GradeImage(ctx context.Context, requestID string, image io.Reader) (*models.GradeResult, error)
}

func init() {
	rootCmd.AddCommand(gradeBatchCmd)

	gradeBatchCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	gradeBatchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	gradeBatchCmd.Flags().Int("timeout", 1800, "Overall timeout in seconds")
	gradeBatchCmd.Flags().Bool("verbose", false, "Show detailed processing information")
}

func runGradeBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("grade-batch")

	folderPath := args[0]
	outputPath, _ := cmd.Flags().GetString("output")
	numWorkers, _ := cmd.Flags().GetInt("workers")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if numWorkers <= 0 {
		numWorkers = cfg.BatchWorkers
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	imageFiles, err := findImageFiles(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find image files: %w", err)
	}
	if len(imageFiles) == 0 {
		fmt.Fprintln(os.Stderr, "No image files found in folder.")
		return nil
	}

	log.Info().
		Str("folder", folderPath).
		Int("images", len(imageFiles)).
		Int("workers", numWorkers).
		Msg("Starting batch grading")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	service, closeFn, err := createGradingService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Fprintf(os.Stderr, "Grading %d images with %d parallel workers...\n\n", len(imageFiles), numWorkers)

	start := time.Now()
	results := gradeImagesInParallel(ctx, imageFiles, service, numWorkers, log, verbose)

	successCount, warningCount, errorCount := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "success":
			successCount++
		case "warning":
			warningCount++
		case "error":
			errorCount++
		}
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, strings.Repeat("=", 50))
	fmt.Fprintf(os.Stderr, "Graded: %d\n", successCount)
	if warningCount > 0 {
		fmt.Fprintf(os.Stderr, "With warnings: %d\n", warningCount)
	}
	if errorCount > 0 {
		fmt.Fprintf(os.Stderr, "Errors: %d\n", errorCount)
	}
	fmt.Fprintln(os.Stderr, strings.Repeat("=", 50))

	log.Info().
		Int("total", len(imageFiles)).
		Int("success", successCount).
		Int("warnings", warningCount).
		Int("errors", errorCount).
		Dur("duration", time.Since(start)).
		Msg("Batch grading completed")

	return outputJSON(results, outputPath, log)
}

// findImageFiles finds all image files in the specified folder, in path order
func findImageFiles(folderPath string) ([]string, error) {
	var imageFiles []string

	err := filepath.Walk(folderPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isImageFile(info.Name()) {
			imageFiles = append(imageFiles, path)
		}
		return nil
	})

	sort.Strings(imageFiles)
	return imageFiles, err
}

// gradeSingleImage grades one image file and returns the result
func gradeSingleImage(ctx context.Context, imagePath string, grader imageGrader, log zerolog.Logger, verbose bool) BatchResult {
	result := BatchResult{Status: "error"}

	imageFile, err := os.Open(imagePath)
	if err != nil {
		result.Error = fmt.Sprintf("failed to open image file: %v", err)
		return result
	}
	defer imageFile.Close()

	graded, err := grader.GradeImage(ctx, "", imageFile)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Result = graded
	result.Status = "success"

	// Remarks that landed nowhere on the page deserve a second look.
	if len(graded.Omissions) > 0 || unmatchedCount(graded.Alignments) > 0 {
		result.Status = "warning"
	}

	if verbose {
		log.Info().
			Str("file", imagePath).
			Str("request_id", graded.RequestID).
			Int("lines", len(graded.Lines)).
			Int("unmatched", unmatchedCount(graded.Alignments)).
			Int("omissions", len(graded.Omissions)).
			Msg("Image graded")
	}

	return result
}

func unmatchedCount(alignments []models.AlignmentRecord) int {
	n := 0
	for _, a := range alignments {
		if !a.Matched() {
			n++
		}
	}
	return n
}

// gradeImagesInParallel grades images using a worker pool; results keep input order
func gradeImagesInParallel(ctx context.Context, imageFiles []string, grader imageGrader, numWorkers int, log zerolog.Logger, verbose bool) []BatchResult {
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan WorkerJob, len(imageFiles))
	results := make([]BatchResult, len(imageFiles))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.FilePath).
					Int("index", job.Index+1).
					Msg("Worker grading image")

				result := gradeSingleImage(ctx, job.FilePath, grader, log, verbose)
				result.Index = job.Index
				result.Filename = filepath.Base(job.FilePath)

				results[job.Index] = result

				mu.Lock()
				processedCount++
				fmt.Fprintf(os.Stderr, "[%d/%d] %s - %s", processedCount, len(imageFiles), result.Filename, result.Status)
				if result.Error != "" {
					fmt.Fprintf(os.Stderr, " (%s)", result.Error)
				} else if result.Result != nil {
					fmt.Fprintf(os.Stderr, " (%d lines, %d remarks)", len(result.Result.Lines),
						len(result.Result.Alignments)+len(result.Result.IndexedAlignments))
				}
				fmt.Fprintln(os.Stderr)
				mu.Unlock()
			}
		}(w)
	}

	for i, imageFile := range imageFiles {
		jobs <- WorkerJob{
			FilePath: imageFile,
			Index:    i,
		}
	}
	close(jobs)

	wg.Wait()

	return results
}
