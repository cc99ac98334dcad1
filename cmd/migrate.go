package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/database"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := models.SetupModels(db.Write); err != nil {
		return err
	}

	log.Info().Msg("Migrations applied")
	return nil
}
