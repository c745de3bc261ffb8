package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avforge/avforge/pkg/avforge"
)

// describeCmd groups the inspection subcommands
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describes build metadata",
}

// describeManifestCmd prints the recorded build manifest
var describeManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Prints the manifest of the last successful build",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := getRecipe()
		if err != nil {
			log.Fatal(err)
		}

		m, err := avforge.LoadManifest(r.ManifestPath())
		if err != nil {
			if os.IsNotExist(err) {
				log.Fatalf("no build manifest found - has %s been built here?", r.Python.Module)
			}
			log.Fatal(err)
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "yaml":
			fc, err := yaml.Marshal(m)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Print(string(fc))
		case "json":
			fc, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(fc))
		default:
			log.Fatalf("unknown format %q, use yaml or json", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.AddCommand(describeManifestCmd)

	describeManifestCmd.Flags().StringP("format", "o", "yaml", "output format: yaml or json")
}
