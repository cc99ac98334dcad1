package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Marketing events relay",
	Long: `Relay ingests conversion events from the order management system and
forwards them to advertising and analytics platforms.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml or app.env")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies its logging settings
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if cfg.Environment == "development" || cfg.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if os.Getenv("LOG_LEVEL") == "" && cfg.Logging.Level != "" {
		if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	return cfg, nil
}
