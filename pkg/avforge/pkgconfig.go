package avforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const prefixLine = "prefix="

// PatchPrefixes rewrites the prefix line of every pkg-config metadata file below
// vendorDir to point at vendorDir's absolute path. The downloaded archive embeds
// the prefix of the machine it was built on; without this rewrite pkg-config
// lookups resolve headers and libraries against a path that does not exist here.
// No line other than the prefix line is altered.
func PatchPrefixes(vendorDir string) (patched []string, err error) {
	absVendor, err := filepath.Abs(vendorDir)
	if err != nil {
		return nil, err
	}

	var pcFiles []string
	err = godirwalk.Walk(vendorDir, &godirwalk.Options{
		Callback: func(osPathname string, directoryEntry *godirwalk.Dirent) error {
			if !directoryEntry.IsDir() && strings.HasSuffix(directoryEntry.Name(), ".pc") {
				pcFiles = append(pcFiles, osPathname)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("cannot scan %s for pkg-config files: %w", vendorDir, err)
	}

	if len(pcFiles) == 0 {
		return nil, xerrors.Errorf("no pkg-config files found below %s", vendorDir)
	}

	for _, fn := range pcFiles {
		if err := patchPrefixLine(fn, absVendor); err != nil {
			return nil, err
		}
		log.WithField("file", filepath.Base(fn)).Debug("patched pkg-config prefix")
		patched = append(patched, fn)
	}

	return patched, nil
}

func patchPrefixLine(fn, prefix string) error {
	stat, err := os.Stat(fn)
	if err != nil {
		return err
	}
	fc, err := os.ReadFile(fn)
	if err != nil {
		return err
	}

	lines := strings.Split(string(fc), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, prefixLine) {
			lines[i] = prefixLine + prefix
		}
	}

	return os.WriteFile(fn, []byte(strings.Join(lines, "\n")), stat.Mode())
}

// BuildEnv is the explicit compiler/linker configuration handed to the compile
// stage. We deliberately do not export this into the avforge process environment:
// keeping it a value makes the compile invocation composable and testable.
type BuildEnv struct {
	// PkgConfigPath points the pkg-config lookup at the vendor metadata
	PkgConfigPath string
	// CFlags holds the compiler include flags
	CFlags []string
	// LDFlags holds the linker search-path and runtime-search-path flags
	LDFlags []string
}

// NewBuildEnv derives the build environment from the vendor tree and the
// configured runtime search paths.
func NewBuildEnv(vendorDir string, rpaths []string) BuildEnv {
	env := BuildEnv{
		PkgConfigPath: filepath.Join(vendorDir, "lib", "pkgconfig"),
		CFlags: []string{
			"-I" + filepath.Join(vendorDir, "include"),
			// the vendored FFmpeg headers are full of deprecated declarations
			// which the binding knowingly uses
			"-Wno-deprecated-declarations",
		},
		LDFlags: []string{
			"-L" + filepath.Join(vendorDir, "lib"),
		},
	}
	for _, rp := range rpaths {
		env.LDFlags = append(env.LDFlags, "-Wl,-rpath,"+rp)
	}
	return env
}

// Environ appends the build environment to base in the form the compiler
// toolchain consumes.
func (e BuildEnv) Environ(base []string) []string {
	return append(base,
		fmt.Sprintf("PKG_CONFIG_PATH=%s", e.PkgConfigPath),
		fmt.Sprintf("CFLAGS=%s", strings.Join(e.CFlags, " ")),
		fmt.Sprintf("LDFLAGS=%s", strings.Join(e.LDFlags, " ")),
	)
}
