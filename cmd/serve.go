package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grader/internal/logger"
	"grader/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the grading HTTP service",
	Long: `Serve the grading pipeline over HTTP.

Endpoints:
  POST /solve/   multipart upload with the image in field "file"
  GET  /healthz  liveness probe

Configuration: SERVER_ADDR, CORS_ORIGINS, MAX_UPLOAD_BYTES plus the OCR and
OpenAI settings used by "grader grade".`,
	Example: `  # Serve on the default address (:8000)
  grader serve

  # Custom address
  grader serve --addr 127.0.0.1:9000

  # Try it
  curl -F file=@worksheet.jpg http://localhost:8000/solve/`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: SERVER_ADDR)")
	serveCmd.Flags().Int("request-timeout", 120, "Per-request processing timeout in seconds")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	requestTimeout, _ := cmd.Flags().GetInt("request-timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.ServerAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, closeFn, err := createGradingService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := server.New(service, server.Config{
		Addr:           addr,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: time.Duration(requestTimeout) * time.Second,
	})

	log.Info().
		Str("addr", addr).
		Str("ocr_provider", cfg.OCRProvider).
		Strs("cors_origins", cfg.CORSOrigins).
		Msg("Starting grading service")

	return srv.Run(ctx)
}
