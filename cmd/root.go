package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grader/internal/config"
	"grader/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "grader",
	Short: "Grader - OCR line reconstruction and feedback alignment for handwritten work",
	Long: `Grader reads a photo of handwritten or printed math work, rebuilds its text lines
from word-level OCR boxes, asks a language model to grade it and anchors every
remark to the image region it refers to.

Subcommands expose each stage on its own (ocr, lines, align), the full pipeline
(grade, grade-batch) and the HTTP service (serve).`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Grader CLI executed")

		fmt.Println("Welcome to Grader!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

// loadConfig loads the validated configuration for a subcommand.
func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
