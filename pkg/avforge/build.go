package avforge

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/avforge/avforge/pkg/avforge/cache"
	"github.com/avforge/avforge/pkg/avforge/cache/remote"
)

// Stage identifies one step of the build procedure
type Stage string

const (
	// StageGate decides whether a prior successful build can be reused
	StageGate Stage = "gate"
	// StageReset destroys prior build state and recreates the runtime library directory
	StageReset Stage = "reset"
	// StageRestore attempts to restore a packed artifact from the cache
	StageRestore Stage = "cache-restore"
	// StageClone shallow-clones the upstream binding repository
	StageClone Stage = "clone"
	// StageVendor writes the vendor descriptor and fetches the prebuilt archive
	StageVendor Stage = "vendor-fetch"
	// StageProvision installs the build front-end's helper packages
	StageProvision Stage = "provision"
	// StageStaging copies the shared objects into the runtime library directory
	StageStaging Stage = "staging"
	// StageConfigure patches pkg-config prefixes and derives the build environment
	StageConfigure Stage = "configure"
	// StageCompile builds and installs the binding against the vendor tree
	StageCompile Stage = "compile"
	// StageVerify re-imports the built module as a smoke test
	StageVerify Stage = "verify"
	// StagePack packs the build result into the artifact cache
	StagePack Stage = "cache-pack"
	// StageCleanup removes the working directory
	StageCleanup Stage = "cleanup"
)

const (
	// EnvvarBuildDir names the environment variable we take the build dir location from
	EnvvarBuildDir = "AVFORGE_BUILD_DIR"

	// EnvvarCacheDir names the environment variable we take the artifact cache location from
	EnvvarCacheDir = "AVFORGE_CACHE_DIR"
)

// buildProcessVersion is the current version of the build procedure.
// Increment this value if you change the procedure in a way that invalidates
// previously cached artifacts.
const buildProcessVersion = 1

// Version is set during the build using ldflags
var Version = "unknown"

type buildOptions struct {
	Reporter    Reporter
	LocalCache  cache.LocalCache
	RemoteCache cache.RemoteCache
	DryRun      bool
	Force       bool
	KeepWorkDir bool
	BuildDir    string
}

// BuildOption configures the build behaviour
type BuildOption func(*buildOptions) error

// WithReporter sets the reporter which is notified about the build progress
func WithReporter(reporter Reporter) BuildOption {
	return func(opts *buildOptions) error {
		opts.Reporter = reporter
		return nil
	}
}

// WithLocalCache configures the local artifact cache
func WithLocalCache(c cache.LocalCache) BuildOption {
	return func(opts *buildOptions) error {
		opts.LocalCache = c
		return nil
	}
}

// WithRemoteCache configures the remote artifact cache
func WithRemoteCache(c cache.RemoteCache) BuildOption {
	return func(opts *buildOptions) error {
		opts.RemoteCache = c
		return nil
	}
}

// WithDryRun marks this build as dry run
func WithDryRun(dryrun bool) BuildOption {
	return func(opts *buildOptions) error {
		opts.DryRun = dryrun
		return nil
	}
}

// WithForce skips the idempotency gate and always rebuilds
func WithForce(force bool) BuildOption {
	return func(opts *buildOptions) error {
		opts.Force = force
		return nil
	}
}

// WithKeepWorkDir retains the working directory after a successful build
func WithKeepWorkDir(keep bool) BuildOption {
	return func(opts *buildOptions) error {
		opts.KeepWorkDir = keep
		return nil
	}
}

// WithBuildDir overrides the location the working directory is placed in
func WithBuildDir(dir string) BuildOption {
	return func(opts *buildOptions) error {
		opts.BuildDir = dir
		return nil
	}
}

type buildContext struct {
	buildOptions
	buildDir string
	buildID  string
}

// DefaultBuildDir is the working location of avforge if AVFORGE_BUILD_DIR is unset
func DefaultBuildDir() string {
	if dir := os.Getenv(EnvvarBuildDir); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "avforge", "build")
}

func newBuildContext(options buildOptions) (*buildContext, error) {
	buildDir := options.BuildDir
	if buildDir == "" {
		buildDir = DefaultBuildDir()
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return nil, xerrors.Errorf("cannot create build directory: %w", err)
	}

	if options.Reporter == nil {
		options.Reporter = NewConsoleReporter()
	}
	if options.RemoteCache == nil {
		options.RemoteCache = remote.NoRemoteCache{}
	}

	return &buildContext{
		buildOptions: options,
		buildDir:     buildDir,
		buildID:      uuid.New().String(),
	}, nil
}

// workDir is the ephemeral clone location. It is owned exclusively by the build
// and destroyed at the end of a successful run.
func (c *buildContext) workDir(r *Recipe) string {
	return filepath.Join(c.buildDir, r.Python.Module+"-build")
}

func (c *buildContext) vendorDir(r *Recipe) string {
	return filepath.Join(c.workDir(r), "vendor")
}

// buildStages is the order of execution for a full, uncached build
var buildStages = []Stage{
	StageReset, StageClone, StageVendor, StageProvision,
	StageStaging, StageConfigure, StageCompile, StageVerify, StageCleanup,
}

// Build runs the whole build procedure for the given recipe: strictly sequential,
// fail-fast, no retries. Every stage failure aborts the run with the underlying
// tool's diagnostic attached.
func Build(r *Recipe, opts ...BuildOption) (err error) {
	var options buildOptions
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return err
		}
	}

	c, err := newBuildContext(options)
	if err != nil {
		return err
	}

	log.WithField("buildID", c.buildID).Debug("this is avforge version " + Version)

	if !c.Force {
		status := Status(r)
		if status.AlreadyBuilt {
			log.WithField("version", status.ModuleVersion).Infof("%s - nothing to do", status.Reason)
			return nil
		}
		log.WithField("reason", status.Reason).Debug("prior build not usable, building")
	}

	if c.DryRun {
		for _, s := range buildStages {
			fmt.Printf("would run %s\n", s)
		}
		return nil
	}

	c.Reporter.BuildStarted(r)
	defer func() {
		c.Reporter.BuildFinished(err)
	}()

	workDir := c.workDir(r)

	err = c.stage(StageReset, func() error {
		return resetWorkspace(workDir, r.RuntimeLibDir())
	})
	if err != nil {
		return err
	}

	if c.restoreFromCache(r) {
		return nil
	}

	var commit string
	err = c.stage(StageClone, func() error {
		commit, err = c.cloneShallow(r.Upstream.Repository, r.Upstream.Ref, workDir)
		return err
	})
	if err != nil {
		return err
	}

	var (
		platform    string
		resolvedURL string
	)
	err = c.stage(StageVendor, func() error {
		platform, err = ResolvePlatform()
		if err != nil {
			return err
		}
		resolvedURL = ResolveVendorURL(r.Vendor.URL, platform)

		if err := WriteVendorDescriptor(filepath.Join(workDir, VendorDescriptorFile), r.Vendor.URL); err != nil {
			return err
		}
		if err := FetchVendor(context.Background(), resolvedURL, r.Vendor.Checksum, c.vendorDir(r)); err != nil {
			return err
		}
		return ValidateVendorLayout(c.vendorDir(r))
	})
	if err != nil {
		return err
	}

	err = c.stage(StageProvision, func() error {
		return c.provisionBuildTools(r)
	})
	if err != nil {
		return err
	}

	var staged []string
	err = c.stage(StageStaging, func() error {
		staged, err = StageSharedObjects(filepath.Join(c.vendorDir(r), "lib"), r.RuntimeLibDir())
		return err
	})
	if err != nil {
		return err
	}
	log.WithField("count", len(staged)).Debug("staged shared objects")

	var buildEnv BuildEnv
	err = c.stage(StageConfigure, func() error {
		if _, err := PatchPrefixes(c.vendorDir(r)); err != nil {
			return err
		}
		buildEnv = NewBuildEnv(c.vendorDir(r), r.Runtime.Rpaths)
		return nil
	})
	if err != nil {
		return err
	}

	err = c.stage(StageCompile, func() error {
		if err := c.uninstallPrior(r); err != nil {
			return err
		}
		return c.compile(r, workDir, buildEnv)
	})
	if err != nil {
		return err
	}

	var moduleVersion string
	err = c.stage(StageVerify, func() error {
		moduleVersion, err = ImportProbe(r.Python.Interpreter, r.Python.Module, r.RuntimeLibDir())
		return err
	})
	if err != nil {
		return err
	}
	log.WithField("version", moduleVersion).Info("import probe succeeded")

	libs, err := libraryRecords(r.RuntimeLibDir())
	if err != nil {
		return err
	}
	manifest := &Manifest{
		BuilderVersion: Version,
		BuildID:        c.buildID,
		BuiltAt:        time.Now().UTC(),
		Source: SourceRecord{
			Repository: r.Upstream.Repository,
			Ref:        r.Upstream.Ref,
			Commit:     commit,
		},
		Vendor: VendorRecord{
			Template: r.Vendor.URL,
			URL:      resolvedURL,
			Platform: platform,
			Checksum: r.Vendor.Checksum,
		},
		Module:    ModuleRecord{Name: r.Python.Module, Version: moduleVersion},
		Libraries: libs,
	}
	if err := WriteManifest(r.ManifestPath(), manifest); err != nil {
		return err
	}
	if err := writeLegacySentinel(r.LegacySentinelPath()); err != nil {
		return err
	}

	c.packArtifact(r, platform)

	return c.stage(StageCleanup, func() error {
		if c.KeepWorkDir {
			log.WithField("workDir", workDir).Info("keeping working directory")
			return nil
		}
		return os.RemoveAll(workDir)
	})
}

// resetWorkspace unconditionally removes the working directory and the runtime
// library directory, then recreates the latter empty. Absent paths are a no-op.
// This is deliberately destructive: it is what guarantees reproducibility.
func resetWorkspace(workDir, libDir string) error {
	for _, dir := range []string{workDir, libDir} {
		if err := os.RemoveAll(dir); err != nil {
			return xerrors.Errorf("cannot remove %s: %w", dir, err)
		}
	}
	return os.MkdirAll(libDir, 0755)
}

// Clean removes every artifact a build leaves behind: the working directory, the
// runtime library directory, the manifest and the legacy sentinel.
func Clean(r *Recipe) error {
	c := &buildContext{buildDir: DefaultBuildDir()}
	for _, p := range []string{c.workDir(r), r.RuntimeLibDir(), r.ManifestPath(), r.LegacySentinelPath()} {
		if err := os.RemoveAll(p); err != nil {
			return xerrors.Errorf("cannot remove %s: %w", p, err)
		}
		log.WithField("path", p).Debug("removed")
	}
	return nil
}

func (c *buildContext) stage(s Stage, fn func() error) error {
	c.Reporter.StageStarted(s)
	err := fn()
	c.Reporter.StageFinished(s, err)
	if err != nil {
		return xerrors.Errorf("%s: %w", s, err)
	}
	return nil
}

func (c *buildContext) run(stage Stage, cwd string, env []string, name string, args ...string) error {
	log.WithField("command", strings.Join(append([]string{name}, args...), " ")).Debug("running")

	cmd := exec.Command(name, args...)
	cmd.Stdout = &reporterStream{R: c.Reporter, S: stage}
	cmd.Stderr = &reporterStream{R: c.Reporter, S: stage, IsErr: true}
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		return &CommandError{
			Command: strings.Join(append([]string{name}, args...), " "),
			Err:     err,
		}
	}
	return nil
}

type reporterStream struct {
	R     Reporter
	S     Stage
	IsErr bool
}

func (s *reporterStream) Write(buf []byte) (n int, err error) {
	if s.R != nil {
		s.R.StageLog(s.S, s.IsErr, buf)
	}
	return len(buf), nil
}

// buildArtifact keys the artifact cache by the inputs of a build
type buildArtifact struct {
	recipe   *Recipe
	platform string
}

// FullName returns the human-readable name of the artifact
func (a buildArtifact) FullName() string {
	return a.recipe.Python.Module + ":" + a.recipe.Runtime.LibDir
}

// Version hashes everything that determines the build result. Two builds with the
// same version produce interchangeable artifacts.
func (a buildArtifact) Version() (string, error) {
	key, err := hex.DecodeString(digestKey)
	if err != nil {
		return "", err
	}
	hash, err := highwayhash.New(key)
	if err != nil {
		return "", err
	}

	r := a.recipe
	lines := []string{
		fmt.Sprintf("process:%d", buildProcessVersion),
		"repo:" + r.Upstream.Repository,
		"ref:" + r.Upstream.Ref,
		"vendor:" + ResolveVendorURL(r.Vendor.URL, a.platform),
		"checksum:" + r.Vendor.Checksum,
		"libdir:" + r.Runtime.LibDir,
		"rpaths:" + strings.Join(r.Runtime.Rpaths, ":"),
		"module:" + r.Python.Module,
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(hash, l); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// restoreFromCache tries to reuse a previously packed artifact instead of running
// clone, fetch and compile. Restoration is best-effort: any failure falls through
// to a full build.
func (c *buildContext) restoreFromCache(r *Recipe) bool {
	if c.LocalCache == nil {
		return false
	}

	platform, err := ResolvePlatform()
	if err != nil {
		return false
	}
	a := buildArtifact{recipe: r, platform: platform}

	loc, exists := c.LocalCache.Location(a)
	if !exists {
		ctx := context.Background()
		present, err := c.RemoteCache.ExistingArtifacts(ctx, []cache.Artifact{a})
		if err != nil {
			log.WithError(err).Debug("cannot check remote cache, building locally")
			return false
		}
		if _, ok := present[a]; !ok {
			return false
		}

		if err := c.RemoteCache.Download(ctx, c.LocalCache, []cache.Artifact{a}); err != nil {
			log.WithError(err).Debug("remote cache download failed, building locally")
			return false
		}
		loc, exists = c.LocalCache.Location(a)
	}
	if !exists {
		return false
	}

	restored := false
	err = c.stage(StageRestore, func() error {
		args, err := BuildUnTarCommand(loc, r.Origin)
		if err != nil {
			return err
		}
		if err := c.run(StageRestore, "", nil, args[0], args[1:]...); err != nil {
			return err
		}

		if !hasSharedObjects(r.RuntimeLibDir()) {
			return xerrors.Errorf("cached artifact contains no shared objects")
		}
		version, err := ImportProbe(r.Python.Interpreter, r.Python.Module, r.RuntimeLibDir())
		if err != nil {
			return err
		}
		if err := writeLegacySentinel(r.LegacySentinelPath()); err != nil {
			return err
		}

		log.WithField("version", version).Info("restored build from artifact cache")
		restored = true
		return nil
	})
	if err != nil {
		// a rejected artifact must not leak into the fresh build that follows:
		// the runtime library directory has to start out empty again
		if rerr := resetWorkspace(c.workDir(r), r.RuntimeLibDir()); rerr != nil {
			log.WithError(rerr).Warn("cannot reset workspace after failed cache restore")
		}
		_ = os.Remove(r.ManifestPath())
		_ = os.Remove(r.LegacySentinelPath())
	}

	return restored
}

// packArtifact packs the runtime library directory and the manifest into the local
// cache and uploads the result. Failures are logged, never fatal - the build
// itself already succeeded.
func (c *buildContext) packArtifact(r *Recipe, platform string) {
	if c.LocalCache == nil {
		return
	}

	a := buildArtifact{recipe: r, platform: platform}
	loc, _ := c.LocalCache.Location(a)
	if loc == "" {
		return
	}

	_ = c.stage(StagePack, func() error {
		args := BuildTarCommand(TarOptions{
			OutputFile:  loc,
			WorkingDir:  r.Origin,
			SourcePaths: []string{r.Runtime.LibDir, ManifestFile},
		})
		if err := c.run(StagePack, "", nil, args[0], args[1:]...); err != nil {
			log.WithError(err).Warn("cannot pack build artifact - continuing")
			return nil
		}

		if err := c.RemoteCache.Upload(context.Background(), c.LocalCache, []cache.Artifact{a}); err != nil {
			log.WithError(err).Warn("cannot upload build artifact to remote cache - continuing")
		}
		return nil
	})
}
