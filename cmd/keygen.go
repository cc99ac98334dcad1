package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/vault"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new credential vault key",
	Long:  `Print a new key for vault.encryption_key. Rotating the key makes existing credentials unreadable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
