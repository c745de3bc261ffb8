package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avforge/avforge/pkg/avforge"
)

// cleanCmd removes everything a build leaves behind
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes the working directory, staged libraries, manifest and sentinel",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := getRecipe()
		if err != nil {
			log.Fatal(err)
		}

		if err := avforge.Clean(r); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
