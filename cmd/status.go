package cmd

import (
	"os"

	"github.com/gookit/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avforge/avforge/pkg/avforge"
)

// statusCmd reports whether a prior build is still usable. It exits non-zero if
// a build is needed, which makes it scriptable as a gate.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reports whether a prior build is still usable",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := getRecipe()
		if err != nil {
			log.Fatal(err)
		}

		status := avforge.Status(r)
		if status.AlreadyBuilt {
			color.Printf("<green>built</> %s %s\n", r.Python.Module, status.ModuleVersion)
			if status.Manifest != nil {
				color.Printf("<gray>built at %s from %s</>\n", status.Manifest.BuiltAt.Format("2006-01-02 15:04:05 MST"), status.Manifest.Source.Commit)
			}
			return
		}

		color.Printf("<yellow>not built</>\n<white>Reason:</> %s\n", status.Reason)
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
