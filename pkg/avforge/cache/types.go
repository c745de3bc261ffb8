// Package cache provides local and remote caching for staged build artifacts.
//
// A cached artifact is the packed runtime library directory plus the build
// manifest of one completed vendored build, keyed by the hash of the build's
// inputs. The cache is strictly best-effort: when an artifact cannot be
// downloaded the build falls back to a full local build, it never fails
// because of the cache.
package cache

import (
	"context"
)

// Artifact represents a build result that can be cached
type Artifact interface {
	// Version returns a unique identifier derived from the build's inputs
	Version() (string, error)
	// FullName returns the human-readable name of the artifact
	FullName() string
}

// LocalCache provides filesystem locations for build artifacts
type LocalCache interface {
	// Location returns the absolute filesystem path for an artifact
	Location(a Artifact) (path string, exists bool)
}

// RemoteCache can download and upload build artifacts into a local cache
type RemoteCache interface {
	// ExistingArtifacts returns the artifacts present in the remote cache
	ExistingArtifacts(ctx context.Context, artifacts []Artifact) (map[Artifact]struct{}, error)

	// Download makes a best-effort attempt at downloading previously cached
	// artifacts. A cache miss does not constitute an error.
	Download(ctx context.Context, dst LocalCache, artifacts []Artifact) error

	// Upload makes a best effort to upload artifacts to the remote cache
	Upload(ctx context.Context, src LocalCache, artifacts []Artifact) error
}

// ObjectStorage represents a generic object storage backend
type ObjectStorage interface {
	// HasObject checks if an object exists
	HasObject(ctx context.Context, key string) (bool, error)

	// GetObject downloads an object to a local file
	GetObject(ctx context.Context, key string, dest string) (int64, error)

	// UploadObject uploads a local file to remote storage
	UploadObject(ctx context.Context, key string, src string) error
}

// RemoteConfig holds configuration for remote cache implementations
type RemoteConfig struct {
	// BucketName for object storage
	BucketName string

	// Region for services that require it (e.g. S3)
	Region string
}
