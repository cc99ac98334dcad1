package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/adapters"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/database"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
)

var seedPlatformsCmd = &cobra.Command{
	Use:   "seed-platforms",
	Short: "Upsert the built-in platform catalogue",
	Long:  `Create or refresh the built-in platforms. Existing rows keep their active flag.`,
	RunE:  runSeedPlatforms,
}

func init() {
	rootCmd.AddCommand(seedPlatformsCmd)
}

func runSeedPlatforms(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	platforms := repositories.NewPlatformRepository(db.Write, db.ReadOnly)
	for _, p := range adapters.Catalogue() {
		platform := p
		if err := platforms.Upsert(context.Background(), &platform); err != nil {
			return errors.Wrapf(err, "failed to seed platform %s", p.Code)
		}
		log.Info().Str("platform", p.Code).Int("tier", p.Tier).Msg("Platform seeded")
	}
	return nil
}
