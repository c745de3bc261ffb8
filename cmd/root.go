package cmd

import (
	"os"

	"github.com/gookit/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avforge/avforge/pkg/avforge"
	"github.com/avforge/avforge/pkg/avforge/cache"
	"github.com/avforge/avforge/pkg/avforge/cache/remote"
)

const (
	// EnvvarConfig names the environment variable we take the recipe path from
	EnvvarConfig = "AVFORGE_CONFIG"

	// EnvvarCacheBucket names the environment variable we take the remote cache
	// bucket name from
	EnvvarCacheBucket = "AVFORGE_CACHE_BUCKET"

	// EnvvarCacheRegion names the environment variable we take the remote cache
	// bucket region from
	EnvvarCacheRegion = "AVFORGE_CACHE_REGION"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "avforge",
	Short: "avforge builds Python media bindings against vendored native libraries",
	Long: color.Render(`<light_yellow>avforge</> builds a Python media binding from source against a prebuilt,
vendored set of native libraries and stages the shared objects for deployment.

A build is described by an <light_cyan>avforge.yaml</> recipe. avforge clones the upstream
binding, fetches the platform's prebuilt archive, patches its pkg-config
metadata, compiles the binding against it and verifies the result imports.
Successful builds are recorded in a manifest and skipped on subsequent runs.`),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
			log.Debug("verbose logging enabled")
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(EnvvarConfig), "path to the build recipe (default: discover avforge.yaml upwards from the working directory)")
}

func getRecipe() (*avforge.Recipe, error) {
	return avforge.FindRecipe(configPath)
}

// getRemoteCache produces the remote cache configured through the environment.
// Without a bucket, or when S3 setup fails, the build silently proceeds without
// a remote cache.
func getRemoteCache() cache.RemoteCache {
	bucket := os.Getenv(EnvvarCacheBucket)
	if bucket == "" {
		log.Debugf("%s is not set, not using a remote cache", EnvvarCacheBucket)
		return remote.NoRemoteCache{}
	}

	rc, err := remote.NewS3Cache(&cache.RemoteConfig{
		BucketName: bucket,
		Region:     os.Getenv(EnvvarCacheRegion),
	})
	if err != nil {
		log.WithError(err).Warn("cannot set up remote cache - continuing without")
		return remote.NoRemoteCache{}
	}
	return rc
}
