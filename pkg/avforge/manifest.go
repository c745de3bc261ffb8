package avforge

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/highwayhash"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile is the name of the build manifest we write next to the recipe.
	// The manifest replaces the opaque sentinel file of the original build
	// scripts: it records what was built, from which source revision, against
	// which vendor archive, so that skip decisions are auditable.
	ManifestFile = ".avforge-manifest.yaml"

	// LegacySentinelFile is the zero-byte marker older build scripts created after
	// a successful run. We still write it for tooling that probes for it, but its
	// mere existence never suffices to skip a build.
	LegacySentinelFile = ".pyav_installed"

	// digestKey is the key we use to hash staged libraries and build inputs.
	// Change this key and every recorded manifest digest breaks.
	digestKey = "b2c1d953a0be6a2f7f30ab1e402c6d932b713a13ff03d1c4a8bd0bb52ea44e71"
)

// Manifest records a completed build
type Manifest struct {
	BuilderVersion string    `yaml:"builderVersion" json:"builderVersion"`
	BuildID        string    `yaml:"buildID" json:"buildID"`
	BuiltAt        time.Time `yaml:"builtAt" json:"builtAt"`

	Source    SourceRecord    `yaml:"source" json:"source"`
	Vendor    VendorRecord    `yaml:"vendor" json:"vendor"`
	Module    ModuleRecord    `yaml:"module" json:"module"`
	Libraries []LibraryRecord `yaml:"libraries" json:"libraries"`
}

// SourceRecord names the upstream revision the binding was built from
type SourceRecord struct {
	Repository string `yaml:"repository" json:"repository"`
	Ref        string `yaml:"ref,omitempty" json:"ref,omitempty"`
	Commit     string `yaml:"commit" json:"commit"`
}

// VendorRecord names the native-library archive the binding was linked against
type VendorRecord struct {
	Template string `yaml:"template" json:"template"`
	URL      string `yaml:"url" json:"url"`
	Platform string `yaml:"platform" json:"platform"`
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`
}

// ModuleRecord holds the outcome of the post-build import probe
type ModuleRecord struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// LibraryRecord describes one staged shared object. Symlinks carry their target
// instead of a digest.
type LibraryRecord struct {
	Name   string `yaml:"name" json:"name"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
	Digest string `yaml:"digest,omitempty" json:"digest,omitempty"`
	Size   int64  `yaml:"size,omitempty" json:"size,omitempty"`
}

// WriteManifest serializes the manifest to path
func WriteManifest(path string, m *Manifest) error {
	fc, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, fc, 0644)
}

// LoadManifest reads a previously written manifest. A missing manifest surfaces
// as os.ErrNotExist so callers can treat it as "never built".
func LoadManifest(path string) (*Manifest, error) {
	fc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var res Manifest
	if err := yaml.Unmarshal(fc, &res); err != nil {
		return nil, xerrors.Errorf("cannot parse manifest %s: %w", path, err)
	}
	return &res, nil
}

// libraryRecords produces the manifest entries for every shared object in dir
func libraryRecords(dir string) ([]LibraryRecord, error) {
	libs, err := findSharedObjects(dir)
	if err != nil {
		return nil, err
	}

	res := make([]LibraryRecord, 0, len(libs))
	for _, lib := range libs {
		stat, err := os.Lstat(lib)
		if err != nil {
			return nil, err
		}

		rec := LibraryRecord{Name: filepath.Base(lib)}
		if stat.Mode()&os.ModeSymlink != 0 {
			rec.Target, err = os.Readlink(lib)
			if err != nil {
				return nil, err
			}
		} else {
			rec.Digest, err = fileDigest(lib)
			if err != nil {
				return nil, err
			}
			rec.Size = stat.Size()
		}
		res = append(res, rec)
	}

	return res, nil
}

// fileDigest computes the content hash of a single file
func fileDigest(fn string) (string, error) {
	key, err := hex.DecodeString(digestKey)
	if err != nil {
		return "", err
	}
	hash, err := highwayhash.New(key)
	if err != nil {
		return "", err
	}

	f, err := os.Open(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// writeLegacySentinel creates the zero-byte marker file of the original scripts
func writeLegacySentinel(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}
