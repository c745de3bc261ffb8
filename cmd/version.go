package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avforge/avforge/pkg/avforge"
)

// versionCmd prints the version of this avforge build
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of avforge",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(avforge.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
