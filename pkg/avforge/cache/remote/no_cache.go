package remote

import (
	"context"

	"github.com/avforge/avforge/pkg/avforge/cache"
)

// NoRemoteCache implements the default no-remote cache behavior
type NoRemoteCache struct{}

// ExistingArtifacts returns the artifacts present in the remote cache
func (NoRemoteCache) ExistingArtifacts(ctx context.Context, artifacts []cache.Artifact) (map[cache.Artifact]struct{}, error) {
	return map[cache.Artifact]struct{}{}, nil
}

// Download makes a best-effort attempt at downloading previously cached artifacts
func (NoRemoteCache) Download(ctx context.Context, dst cache.LocalCache, artifacts []cache.Artifact) error {
	return nil
}

// Upload makes a best effort to upload artifacts to the remote cache
func (NoRemoteCache) Upload(ctx context.Context, src cache.LocalCache, artifacts []cache.Artifact) error {
	return nil
}
