package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "face-checkin",
	Short: "Face-based attendance check-in",
	Long: `Face Check-in captures a well-framed face from a camera or a recorded
landmark stream, matches it against an enrolled gallery and records attendance.

Configuration comes from environment variables (a .env file is loaded when
present). Storage is PostgreSQL (DATABASE_URL) or a local SQLite file (SQLITE_PATH).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
