package local

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/avforge/avforge/pkg/avforge/cache"
)

// FilesystemCache implements a flat folder cache
type FilesystemCache struct {
	Origin string
}

// NewFilesystemCache creates a new filesystem cache
func NewFilesystemCache(location string) (*FilesystemCache, error) {
	err := os.MkdirAll(location, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FilesystemCache{location}, nil
}

// Location computes the path of an artifact in this cache.
// Returns exists == true if the artifact is actually present.
func (fsc *FilesystemCache) Location(a cache.Artifact) (path string, exists bool) {
	version, err := a.Version()
	if err != nil {
		log.WithError(err).WithField("artifact", a.FullName()).Warn("cannot compute artifact version")
		return "", false
	}

	gzPath := filepath.Join(fsc.Origin, fmt.Sprintf("%s.tar.gz", version))
	if fileExists(gzPath) {
		return gzPath, true
	}

	tarPath := filepath.Join(fsc.Origin, fmt.Sprintf("%s.tar", version))
	if fileExists(tarPath) {
		return tarPath, true
	}

	return gzPath, false
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
