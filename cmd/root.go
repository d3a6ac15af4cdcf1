package cmd

import (
	"context"
	"fmt"
	"os"

	"spotfinder/config"
	"spotfinder/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "spotfinder",
	Short:         "spotfinder finds where a product ranks in a store's search listing.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
}

// Execute runs the CLI
func Execute() {
	ExecuteContext(context.Background())
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env, the configuration and the logger shared by every command
func setup() (*config.Config, *zap.Logger, error) {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	if envErr != nil {
		log.Debug("No .env file found, using environment variables")
	}
	return cfg, log, nil
}
