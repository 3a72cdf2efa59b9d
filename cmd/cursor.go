package cmd

import (
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/config"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Print the last committed point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg, hclog.NewNullLogger())
		if err != nil {
			return err
		}

		defer store.Close()

		cursor, err := store.ReadCursor()
		if err != nil {
			return err
		}

		if cursor == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing committed yet")

			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), cursor.String())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cursorCmd)
}
