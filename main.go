package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"grader/cmd"
	"grader/internal/config"
	"grader/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Subcommands report invalid configuration themselves; here it only decides log setup.
	cfg, err := config.Load()
	if err != nil {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting Grader CLI")

	cmd.Execute()

	log.Debug().Msg("Grader CLI shutdown")
	os.Exit(0)
}
