// Package backup uploads snapshots of the local store database to S3-compatible storage.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// snapshotTimeout bounds one snapshot and upload
const snapshotTimeout = 30 * time.Minute

// Snapshotter writes a consistent copy of a database to a file
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dest string) error
	Name() string
}

// Uploader uploads an object; *manager.Uploader implements it
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// SnapshotJob snapshots the store database and uploads it as
// <prefix><UTC timestamp>.db to the bucket.
type SnapshotJob struct {
	log      zerolog.Logger
	db       Snapshotter
	uploader Uploader
	bucket   string
	prefix   string
	tmpDir   string
	now      func() time.Time
}

// SnapshotJobConfig holds configuration for the snapshot job
type SnapshotJobConfig struct {
	Log      zerolog.Logger
	DB       Snapshotter
	Uploader Uploader
	Bucket   string
	Prefix   string
	TmpDir   string // defaults to os.TempDir()
}

// NewSnapshotJob creates a new snapshot job
func NewSnapshotJob(cfg SnapshotJobConfig) *SnapshotJob {
	tmpDir := cfg.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &SnapshotJob{
		log:      cfg.Log.With().Str("job", "store_snapshot").Logger(),
		db:       cfg.DB,
		uploader: cfg.Uploader,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		tmpDir:   tmpDir,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "store_snapshot"
}

// Run takes a snapshot and uploads it
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	_, err := j.RunContext(ctx)
	return err
}

// RunContext takes a snapshot and uploads it, returning the object key
func (j *SnapshotJob) RunContext(ctx context.Context) (string, error) {
	start := j.now()
	key := j.prefix + start.UTC().Format("20060102T150405Z") + ".db"

	dir, err := os.MkdirTemp(j.tmpDir, "amats-snapshot-")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, filepath.Base(key))
	if err := j.db.SnapshotTo(ctx, dest); err != nil {
		return "", err
	}

	f, err := os.Open(dest)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}

	_, err = j.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.sqlite3"),
		Metadata: map[string]string{
			"database": j.db.Name(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s to bucket %s: %w", key, j.bucket, err)
	}

	j.log.Info().
		Str("database", j.db.Name()).
		Str("bucket", j.bucket).
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("took", time.Since(start)).
		Msg("Store snapshot uploaded")
	return key, nil
}
