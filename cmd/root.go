package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configFlag = "config"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cardano-projector",
	Short: "Projects confirmed cardano blocks into convergent storage",
	Long: `Follows a cardano node, waits for blocks to be buried under the configured depth,
resolves the outputs they spend and stores the reducer results as convergent commands.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, configFlag, "c", "config.yaml", "path to the yaml config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
