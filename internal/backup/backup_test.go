package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reasv/panoptikon/internal/gwconfig"
)

func TestSnapshotKey_UsesPrefixBasenameAndTimestamp(t *testing.T) {
	sn := &Snapshotter{cfg: gwconfig.BackupConfig{Prefix: "panoptikon-snapshots/"}}
	ts := time.UnixMilli(1700000000000)
	key := sn.snapshotKey("/data/index.db", ts)
	assert.Equal(t, "panoptikon-snapshots/index.db/1700000000000.db", key)
}

func TestSnapshotKey_TrimsTrailingSlashFromPrefix(t *testing.T) {
	sn := &Snapshotter{cfg: gwconfig.BackupConfig{Prefix: "snaps///"}}
	key := sn.snapshotKey("user_data.db", time.UnixMilli(1))
	assert.Equal(t, "snaps//"+"/user_data.db/1.db", key)
}

// TestSnapshotter_UploadsToS3CompatibleEndpoint exercises the real upload
// path against a MinIO container. Skipped in -short mode since it needs a
// container runtime.
func TestSnapshotter_UploadsToS3CompatibleEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio container test in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		Cmd:          []string{"server", "/data"},
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, mapped.Port())

	cfg := gwconfig.DefaultConfig()
	cfg.Backup.Enabled = true
	cfg.Backup.Bucket = "snapshots"
	cfg.Backup.Prefix = "it"
	cfg.Backup.Region = "us-east-1"
	cfg.Backup.UploadTimeout = 30 * time.Second
	cfg.Backup.EndpointURL = endpoint
	cfg.Backup.AccessKeyID = "minioadmin"
	cfg.Backup.SecretAccessKey = "minioadmin"

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite snapshot payload"), 0o644))
	cfg.Database.IndexDBPath = dbPath
	cfg.Database.UserDataDBPath = dbPath

	client := minioClient(t, ctx, endpoint)
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("snapshots")})
	require.NoError(t, err)

	sn, err := New(ctx, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, sn.UploadFile(ctx, dbPath))

	listed, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String("snapshots"),
		Prefix: aws.String("it/index.db/"),
	})
	require.NoError(t, err)
	require.Len(t, listed.Contents, 1)
	assert.Equal(t, int64(len("sqlite snapshot payload")), aws.ToInt64(listed.Contents[0].Size))
}

func minioClient(t *testing.T, ctx context.Context, endpoint string) *s3.Client {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("minioadmin", "minioadmin", "")),
	)
	require.NoError(t, err)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}
