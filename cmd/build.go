package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avforge/avforge/pkg/avforge"
	"github.com/avforge/avforge/pkg/avforge/cache"
	"github.com/avforge/avforge/pkg/avforge/cache/local"
)

// buildCmd runs the full build procedure for the discovered recipe
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds the binding described by the recipe",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			r   *avforge.Recipe
			err error
		)
		if vendorURL, _ := cmd.Flags().GetString("vendor-url"); vendorURL != "" {
			wd, werr := os.Getwd()
			if werr != nil {
				log.Fatal(werr)
			}
			r, err = recipeFromVendorURL(vendorURL, wd)
		} else {
			r, err = getRecipe()
		}
		if err != nil {
			log.Fatal(err)
		}

		force, _ := cmd.Flags().GetBool("force")
		keepWorkDir, _ := cmd.Flags().GetBool("keep-workdir")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cacheMode, _ := cmd.Flags().GetString("cache")

		opts := []avforge.BuildOption{
			avforge.WithForce(force),
			avforge.WithKeepWorkDir(keepWorkDir),
			avforge.WithDryRun(dryRun),
		}

		if cacheMode != "none" {
			localCacheLoc := os.Getenv(avforge.EnvvarCacheDir)
			if localCacheLoc == "" {
				localCacheLoc = filepath.Join(os.TempDir(), "avforge", "cache")
			}
			log.WithField("location", localCacheLoc).Debug("set up local cache")
			localCache, err := local.NewFilesystemCache(localCacheLoc)
			if err != nil {
				log.Fatal(err)
			}
			opts = append(opts, avforge.WithLocalCache(localCache))

			if strings.HasPrefix(cacheMode, "remote") {
				remoteCache := getRemoteCache()
				switch cacheMode {
				case "remote-pull":
					remoteCache = pullOnlyRemoteCache{remoteCache}
				case "remote-push":
					remoteCache = pushOnlyRemoteCache{remoteCache}
				}
				opts = append(opts, avforge.WithRemoteCache(remoteCache))
			}
		}

		if err := avforge.Build(r, opts...); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolP("force", "f", false, "rebuild even if a prior build is still usable")
	buildCmd.Flags().Bool("keep-workdir", false, "keep the working directory after a successful build")
	buildCmd.Flags().Bool("dry-run", false, "print the stages that would run without running them")
	buildCmd.Flags().String("cache", "remote", "artifact cache mode: none, local, remote-pull, remote-push, remote")
	buildCmd.Flags().String("vendor-url", "", "build without a recipe file, using this vendor archive URL template")
}

// recipeFromVendorURL produces a defaulted recipe rooted in dir. It serves the
// recipe-less invocation where only the vendor archive URL is given.
func recipeFromVendorURL(vendorURL, dir string) (*avforge.Recipe, error) {
	r := &avforge.Recipe{
		Vendor: avforge.VendorConfig{URL: vendorURL},
		Origin: dir,
	}
	r.FillDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// pullOnlyRemoteCache wraps a remote cache and discards uploads
type pullOnlyRemoteCache struct {
	C cache.RemoteCache
}

func (c pullOnlyRemoteCache) ExistingArtifacts(ctx context.Context, artifacts []cache.Artifact) (map[cache.Artifact]struct{}, error) {
	return c.C.ExistingArtifacts(ctx, artifacts)
}

func (c pullOnlyRemoteCache) Download(ctx context.Context, dst cache.LocalCache, artifacts []cache.Artifact) error {
	return c.C.Download(ctx, dst, artifacts)
}

func (c pullOnlyRemoteCache) Upload(ctx context.Context, src cache.LocalCache, artifacts []cache.Artifact) error {
	return nil
}

// pushOnlyRemoteCache wraps a remote cache and never downloads, forcing a fresh
// build whose result still gets shared.
type pushOnlyRemoteCache struct {
	C cache.RemoteCache
}

func (c pushOnlyRemoteCache) ExistingArtifacts(ctx context.Context, artifacts []cache.Artifact) (map[cache.Artifact]struct{}, error) {
	return map[cache.Artifact]struct{}{}, nil
}

func (c pushOnlyRemoteCache) Download(ctx context.Context, dst cache.LocalCache, artifacts []cache.Artifact) error {
	return nil
}

func (c pushOnlyRemoteCache) Upload(ctx context.Context, src cache.LocalCache, artifacts []cache.Artifact) error {
	return c.C.Upload(ctx, src, artifacts)
}
