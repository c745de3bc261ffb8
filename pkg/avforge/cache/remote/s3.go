package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/avforge/avforge/pkg/avforge/cache"
)

const (
	// defaultS3PartSize is the part size for S3 multipart operations
	defaultS3PartSize = 5 * 1024 * 1024
	// defaultRateLimit is the rate limit for S3 API calls (requests per second)
	defaultRateLimit = 100
	// defaultBurstLimit is the burst limit for S3 API calls
	defaultBurstLimit = 200
	// operationTimeout bounds a single object operation
	operationTimeout = 60 * time.Second
)

// S3Cache implements RemoteCache using AWS S3
type S3Cache struct {
	storage     cache.ObjectStorage
	cfg         *cache.RemoteConfig
	rateLimiter *rate.Limiter
}

// NewS3Cache creates a new S3 cache implementation
func NewS3Cache(cfg *cache.RemoteConfig) (*S3Cache, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS config: %w", err)
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	return &S3Cache{
		storage:     NewS3Storage(cfg.BucketName, &awsCfg),
		cfg:         cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurstLimit),
	}, nil
}

// ExistingArtifacts implements RemoteCache
func (s *S3Cache) ExistingArtifacts(ctx context.Context, artifacts []cache.Artifact) (map[cache.Artifact]struct{}, error) {
	result := make(map[cache.Artifact]struct{})
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		a := a
		eg.Go(func() error {
			version, err := a.Version()
			if err != nil {
				return fmt.Errorf("cannot get version of %s: %w", a.FullName(), err)
			}

			for _, key := range []string{version + ".tar.gz", version + ".tar"} {
				if err := s.rateLimiter.Wait(ctx); err != nil {
					return err
				}

				timeoutCtx, cancel := context.WithTimeout(ctx, operationTimeout)
				exists, err := s.storage.HasObject(timeoutCtx, key)
				cancel()
				if err != nil {
					log.WithError(err).WithFields(log.Fields{
						"artifact": a.FullName(),
						"key":      key,
					}).Debug("cannot check remote cache")
					continue
				}
				if exists {
					mu.Lock()
					result[a] = struct{}{}
					mu.Unlock()
					return nil
				}
			}

			log.WithField("artifact", a.FullName()).Debug("artifact not found in remote cache, will build locally")
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		log.WithError(err).Warn("cannot check existing artifacts in remote cache")
		// return partial results - a cache miss must never fail the build
		return result, nil
	}

	return result, nil
}

// Download implements RemoteCache
func (s *S3Cache) Download(ctx context.Context, dst cache.LocalCache, artifacts []cache.Artifact) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		a := a
		eg.Go(func() error {
			version, err := a.Version()
			if err != nil {
				log.WithError(err).WithField("artifact", a.FullName()).Warn("cannot get artifact version, skipping download")
				return nil
			}

			localPath, exists := dst.Location(a)
			if exists {
				log.WithField("artifact", a.FullName()).Debug("artifact already exists in local cache, skipping download")
				return nil
			}
			if localPath == "" {
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
				log.WithError(err).WithField("artifact", a.FullName()).Warn("cannot create local cache directory, skipping download")
				return nil
			}

			for _, key := range []string{version + ".tar.gz", version + ".tar"} {
				if err := s.rateLimiter.Wait(ctx); err != nil {
					return err
				}

				timeoutCtx, cancel := context.WithTimeout(ctx, operationTimeout)
				_, err := s.storage.GetObject(timeoutCtx, key, localPath)
				cancel()
				if err == nil {
					log.WithFields(log.Fields{
						"artifact": a.FullName(),
						"key":      key,
						"path":     localPath,
					}).Debug("downloaded artifact from remote cache")
					return nil
				}

				if isNotFound(err) {
					continue
				}
				log.WithError(err).WithFields(log.Fields{
					"artifact": a.FullName(),
					"key":      key,
				}).Debug("cannot download artifact from remote cache")
			}

			// not an error - the build falls back to building locally
			return nil
		})
	}

	return eg.Wait()
}

// Upload implements RemoteCache
func (s *S3Cache) Upload(ctx context.Context, src cache.LocalCache, artifacts []cache.Artifact) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		a := a
		eg.Go(func() error {
			localPath, exists := src.Location(a)
			if !exists {
				return fmt.Errorf("artifact %s is not in the local cache", a.FullName())
			}

			if err := s.rateLimiter.Wait(ctx); err != nil {
				return err
			}

			key := filepath.Base(localPath)
			if err := s.storage.UploadObject(ctx, key, localPath); err != nil {
				return fmt.Errorf("cannot upload %s: %w", a.FullName(), err)
			}

			log.WithFields(log.Fields{
				"artifact": a.FullName(),
				"key":      key,
			}).Debug("uploaded artifact to remote cache")
			return nil
		})
	}

	return eg.Wait()
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}

// s3ClientAPI is the subset of the S3 client interface we need
type s3ClientAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
}

// S3Storage implements ObjectStorage using AWS S3
type S3Storage struct {
	client     s3ClientAPI
	bucketName string
}

// NewS3Storage creates a new S3 storage implementation
func NewS3Storage(bucketName string, cfg *aws.Config) *S3Storage {
	return &S3Storage{
		client:     s3.NewFromConfig(*cfg),
		bucketName: bucketName,
	}
}

// HasObject implements ObjectStorage
func (s *S3Storage) HasObject(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// GetObject implements ObjectStorage
func (s *S3Storage) GetObject(ctx context.Context, key string, dest string) (int64, error) {
	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = defaultS3PartSize
	})

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("cannot create destination file: %w", err)
	}
	defer func() { _ = file.Close() }()

	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = os.Remove(dest)
		return 0, err
	}
	if n == 0 {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("downloaded object %s is empty", key)
	}

	return n, nil
}

// UploadObject implements ObjectStorage
func (s *S3Storage) UploadObject(ctx context.Context, key string, src string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open source file: %w", err)
	}
	defer func() { _ = file.Close() }()

	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = defaultS3PartSize
	})

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Forbidden" {
			log.WithError(err).Warnf("permission denied while uploading object %s to S3 - continuing", key)
			return nil
		}
		return fmt.Errorf("cannot upload object: %w", err)
	}

	return nil
}
