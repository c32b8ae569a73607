package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amats/amats/internal/config"
	"github.com/amats/amats/internal/docstore"
	testutil "github.com/amats/amats/internal/testing"
)

// fakeUploader keeps uploaded objects in memory
type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(input.Key)] = data
	f.inputs = append(f.inputs, input)
	return &manager.UploadOutput{Key: input.Key}, nil
}

type failingSnapshotter struct{}

func (failingSnapshotter) SnapshotTo(context.Context, string) error { return errors.New("disk full") }
func (failingSnapshotter) Name() string                               { return "state" }

func TestSnapshotJob_UploadsSnapshot(t *testing.T) {
	db := testutil.NewTestDB(t, "state", docstore.SQLiteSchema)
	backend, err := docstore.NewSQLiteBackend(db.Conn())
	require.NoError(t, err)

	ctx := context.Background()
	states := docstore.Path{Root: "amats_trading", Namespace: "default", Collection: "strategy_states"}
	require.NoError(t, backend.Set(ctx, states, "momentum", testutil.NewStrategyStateFixture()))

	uploader := &fakeUploader{}
	tmpDir := t.TempDir()
	job := NewSnapshotJob(SnapshotJobConfig{
		Log:      zerolog.Nop(),
		DB:       db,
		Uploader: uploader,
		Bucket:   "amats-backups",
		Prefix:   "amats-state-",
		TmpDir:   tmpDir,
	})
	job.now = func() time.Time { return time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC) }

	assert.Equal(t, "store_snapshot", job.Name())

	key, err := job.RunContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "amats-state-20240601T030000Z.db", key)

	data, ok := uploader.objects[key]
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
	require.Len(t, uploader.inputs, 1)
	assert.Equal(t, "amats-backups", aws.ToString(uploader.inputs[0].Bucket))
	assert.Equal(t, "state", uploader.inputs[0].Metadata["database"])

	// The snapshot restores to a database holding the same documents
	restoredPath := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restoredPath, data, 0644))
	restored, err := docstore.OpenSQLite(restoredPath)
	require.NoError(t, err)
	defer restored.Close()

	doc, found, err := restored.Get(ctx, states, "momentum")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, doc.Equal(testutil.NewStrategyStateFixture()))

	// Temporary files are removed
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSnapshotJob_UploadFailure(t *testing.T) {
	db := testutil.NewTestDB(t, "state", docstore.SQLiteSchema)
	job := NewSnapshotJob(SnapshotJobConfig{
		Log:      zerolog.Nop(),
		DB:       db,
		Uploader: &fakeUploader{err: errors.New("access denied")},
		Bucket:   "amats-backups",
		TmpDir:   t.TempDir(),
	})

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "amats-backups")
}

func TestSnapshotJob_SnapshotFailure(t *testing.T) {
	uploader := &fakeUploader{}
	job := NewSnapshotJob(SnapshotJobConfig{
		Log:      zerolog.Nop(),
		DB:       failingSnapshotter{},
		Uploader: uploader,
		Bucket:   "amats-backups",
		TmpDir:   t.TempDir(),
	})

	_, err := job.RunContext(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, uploader.objects)
}

func TestNewS3Client(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")

	_, err := NewS3Client(context.Background(), config.BackupConfig{})
	assert.Error(t, err)

	client, err := NewS3Client(context.Background(), config.BackupConfig{
		Bucket:          "amats-backups",
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Region:          "auto",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "https://account.r2.cloudflarestorage.com", aws.ToString(opts.BaseEndpoint))
	assert.Equal(t, "auto", opts.Region)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
	assert.True(t, strings.HasPrefix(creds.SecretAccessKey, "sec"))
}
