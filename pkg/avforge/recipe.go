package avforge

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

const (
	// RecipeFile is the name of the recipe file we look for when discovering a project
	RecipeFile = "avforge.yaml"

	// PlatformPlaceholder is the literal substring of a vendor URL template which gets
	// replaced with the detected host platform.
	PlatformPlaceholder = "{platform}"
)

const (
	defaultUpstreamRepository = "https://github.com/PyAV-Org/PyAV.git"
	defaultRuntimeLibDir      = "lib_native"
	defaultInterpreter        = "python3"
	defaultModule             = "av"
)

// defaultRpaths are baked into the compiled extension so that it resolves its native
// dependencies both after deployment (fixed serverless mount point) and locally
// (relative to the binary's own location).
var defaultRpaths = []string{"/var/task/lib_native", "$ORIGIN"}

// Recipe describes a single vendored build: which upstream binding to clone, which
// prebuilt native-library archive to fetch, and where the resulting shared objects
// are staged. All paths in the recipe are relative to its origin directory.
type Recipe struct {
	Upstream UpstreamConfig `yaml:"upstream,omitempty"`
	Vendor   VendorConfig   `yaml:"vendor"`
	Runtime  RuntimeConfig  `yaml:"runtime,omitempty"`
	Python   PythonConfig   `yaml:"python,omitempty"`

	// Origin is the absolute path of the directory containing the recipe file
	Origin string `yaml:"-"`
}

// UpstreamConfig names the source repository of the binding we build
type UpstreamConfig struct {
	Repository string `yaml:"repository,omitempty"`
	// Ref is an optional tag or branch for the shallow clone. Empty means the
	// remote's default branch.
	Ref string `yaml:"ref,omitempty"`
}

// VendorConfig describes the prebuilt native-library archive
type VendorConfig struct {
	// URL is a template containing the literal "{platform}" placeholder
	URL string `yaml:"url"`
	// Checksum is an optional "sha256:<hex>" which the fetcher verifies the
	// downloaded archive against.
	Checksum string `yaml:"checksum,omitempty"`
}

// RuntimeConfig describes the deployment target
type RuntimeConfig struct {
	// LibDir is the runtime library directory, relative to the recipe origin.
	// It is the only artifact that survives a build.
	LibDir string   `yaml:"libDir,omitempty"`
	Rpaths []string `yaml:"rpaths,omitempty"`
}

// PythonConfig names the build front-end and the module we produce
type PythonConfig struct {
	Interpreter string `yaml:"interpreter,omitempty"`
	Module      string `yaml:"module,omitempty"`
}

// DiscoverRecipeRoot finds the closest directory at or above the working directory
// which contains a recipe file.
func DiscoverRecipeRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return discoverRecipeRoot(wd)
}

func discoverRecipeRoot(dir string) (string, error) {
	for i := 0; i < 100; i++ {
		if _, err := os.Stat(filepath.Join(dir, RecipeFile)); err == nil {
			return dir, nil
		}

		dir = filepath.Dir(dir)
		if dir == "/" || dir == "" {
			break
		}
	}

	return "", xerrors.Errorf("cannot find recipe root (no %s here or in any parent directory)", RecipeFile)
}

// FindRecipe loads a recipe from the given path. If path is empty the recipe file
// is discovered upwards from the current working directory.
func FindRecipe(path string) (*Recipe, error) {
	if path == "" {
		root, err := DiscoverRecipeRoot()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(root, RecipeFile)
	}

	fc, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot read recipe: %w", err)
	}

	var res Recipe
	if err := yaml.Unmarshal(fc, &res); err != nil {
		return nil, xerrors.Errorf("cannot parse recipe %s: %w", path, err)
	}

	res.Origin, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	res.FillDefaults()
	if err := res.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid recipe %s: %w", path, err)
	}

	return &res, nil
}

// FillDefaults sets all unset fields to their default value
func (r *Recipe) FillDefaults() {
	if r.Upstream.Repository == "" {
		r.Upstream.Repository = defaultUpstreamRepository
	}
	if r.Runtime.LibDir == "" {
		r.Runtime.LibDir = defaultRuntimeLibDir
	}
	if len(r.Runtime.Rpaths) == 0 {
		r.Runtime.Rpaths = append([]string{}, defaultRpaths...)
	}
	if r.Python.Interpreter == "" {
		r.Python.Interpreter = defaultInterpreter
	}
	if r.Python.Module == "" {
		r.Python.Module = defaultModule
	}
}

// Validate ensures the recipe is complete enough to build from
func (r *Recipe) Validate() error {
	if r.Vendor.URL == "" {
		return xerrors.Errorf("vendor.url is required")
	}
	if !strings.Contains(r.Vendor.URL, PlatformPlaceholder) {
		return xerrors.Errorf("vendor.url must contain the %s placeholder", PlatformPlaceholder)
	}
	if r.Vendor.Checksum != "" && !strings.Contains(r.Vendor.Checksum, ":") {
		return xerrors.Errorf("vendor.checksum must have the form <algo>:<hex>, e.g. sha256:abc...")
	}
	if filepath.IsAbs(r.Runtime.LibDir) {
		return xerrors.Errorf("runtime.libDir must be relative to the recipe origin")
	}
	return nil
}

// RuntimeLibDir returns the absolute path of the runtime library directory
func (r *Recipe) RuntimeLibDir() string {
	return filepath.Join(r.Origin, r.Runtime.LibDir)
}

// LegacySentinelPath returns the location of the zero-byte marker file older build
// scripts used to flag a completed build.
func (r *Recipe) LegacySentinelPath() string {
	return filepath.Join(r.Origin, LegacySentinelFile)
}

// ManifestPath returns the location of the build manifest
func (r *Recipe) ManifestPath() string {
	return filepath.Join(r.Origin, ManifestFile)
}
