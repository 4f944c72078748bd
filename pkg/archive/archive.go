// Package archive keeps a copy of every published file set in an S3-compatible
// bucket, keyed by project and round.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// ObjectStore is the subset of *minio.Client used here.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archive struct {
	store  ObjectStore
	bucket string
	log    zerolog.Logger
}

// NewMinio connects to the configured endpoint.
func NewMinio(cfg Config, logger zerolog.Logger) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Minio client: %w", err)
	}
	return New(client, cfg.Bucket, logger), nil
}

func New(store ObjectStore, bucket string, logger zerolog.Logger) *Archive {
	return &Archive{
		store:  store,
		bucket: bucket,
		log:    logger.With().Str("component", "archive").Str("bucket", bucket).Logger(),
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.log.Info().Msg("created archive bucket")
	return nil
}

// Key returns the object name of a file published in a round.
func Key(project string, round int, fileName string) string {
	return path.Join(project, fmt.Sprintf("round-%d", round), fileName)
}

// Archive uploads every file of the set. It stops at the first failure.
func (a *Archive) Archive(ctx context.Context, project string, round int, files []models.File) error {
	for _, f := range files {
		key := Key(project, round, f.Name)
		_, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(f.Content), int64(len(f.Content)),
			minio.PutObjectOptions{ContentType: contentType(f.Name)})
		if err != nil {
			return fmt.Errorf("failed to upload %s to Minio: %w", key, err)
		}
	}
	a.log.Debug().Str("project", project).Int("round", round).Int("files", len(files)).Msg("archived published files")
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
