package avforge

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// isSharedObject matches plain shared objects (libavcodec.so), versioned ones
// (libavcodec.so.60.3.100) and macOS dylibs.
func isSharedObject(name string) bool {
	return strings.HasSuffix(name, ".so") ||
		strings.Contains(name, ".so.") ||
		strings.HasSuffix(name, ".dylib")
}

// findSharedObjects returns the paths of all shared objects below dir, symlinks
// included. Symlinks are deliberately not followed - we need to see the link
// entries themselves.
func findSharedObjects(dir string) ([]string, error) {
	var res []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, directoryEntry *godirwalk.Dirent) error {
			if directoryEntry.IsDir() {
				return nil
			}
			if isSharedObject(directoryEntry.Name()) {
				res = append(res, osPathname)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("cannot scan %s for shared objects: %w", dir, err)
	}

	sort.Strings(res)
	return res, nil
}

// StageSharedObjects copies every shared object from the vendor library directory
// into the runtime library directory. Symlink chains (libfoo.so -> libfoo.so.1 ->
// libfoo.so.1.2.3) are recreated as links rather than duplicated as files: the
// dynamic loader resolves versioned names through these links, and flattening them
// would silently break loading at runtime.
func StageSharedObjects(src, dst string) (staged []string, err error) {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, xerrors.Errorf("cannot create runtime library directory: %w", err)
	}

	libs, err := findSharedObjects(src)
	if err != nil {
		return nil, err
	}

	for _, lib := range libs {
		target := filepath.Join(dst, filepath.Base(lib))

		stat, err := os.Lstat(lib)
		if err != nil {
			return nil, err
		}

		if stat.Mode()&os.ModeSymlink != 0 {
			linkDest, err := os.Readlink(lib)
			if err != nil {
				return nil, xerrors.Errorf("cannot read symlink %s: %w", lib, err)
			}
			// vendor archives link by file name within the same directory;
			// absolute link targets would not survive relocation
			linkDest = filepath.Base(linkDest)
			if err := os.Symlink(linkDest, target); err != nil {
				return nil, xerrors.Errorf("cannot recreate symlink %s: %w", target, err)
			}
		} else {
			if err := copyFile(lib, target, 0755); err != nil {
				return nil, err
			}
		}

		log.WithField("lib", filepath.Base(lib)).Debug("staged shared object")
		staged = append(staged, target)
	}

	return staged, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return xerrors.Errorf("cannot copy %s: %w", src, err)
	}
	return nil
}

// hasSharedObjects reports whether dir contains at least one shared object file.
// An absent or empty directory forces a rebuild regardless of any other
// already-built signal.
func hasSharedObjects(dir string) bool {
	libs, err := findSharedObjects(dir)
	if err != nil {
		return false
	}
	return len(libs) > 0
}
