// Package backup periodically snapshots the gateway's SQLite files (the
// index database and the user-data database) to S3, or any S3-compatible
// endpoint, via aws-sdk-go-v2's feature/s3/manager.Uploader.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
	"github.com/reasv/panoptikon/internal/gwconfig"
)

// Snapshotter uploads the gateway's SQLite files to a configured S3 bucket
// on a timer.
type Snapshotter struct {
	uploader *manager.Uploader
	cfg      gwconfig.BackupConfig
	dbCfg    gwconfig.DatabaseConfig
	logger   *zap.SugaredLogger
}

// New builds a Snapshotter from the gateway config. Credentials come from
// the default AWS chain unless the config carries static keys (the
// S3-compatible-endpoint case: MinIO, Garage, a self-hosted gateway), and a
// configured endpoint switches the client to path-style addressing, which
// such endpoints expect.
func New(ctx context.Context, cfg *gwconfig.Config, logger *zap.SugaredLogger) (*Snapshotter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Backup.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Backup.AccessKeyID, cfg.Backup.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, gatewayerrors.NewConnectionError("load aws config", err)
	}
	if cfg.Backup.Region != "" {
		awsCfg.Region = cfg.Backup.Region
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Backup.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.Backup.EndpointURL)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client)

	return &Snapshotter{
		uploader: uploader,
		cfg:      cfg.Backup,
		dbCfg:    cfg.Database,
		logger:   logger,
	}, nil
}

// snapshotKey builds the S3 object key for one file at snapshot time ts,
// mirroring the flush loop's <prefix>/<schema>/<uuid>.parquet key shape,
// narrowed to <prefix>/<basename>/<timestamp>.db.
func (sn *Snapshotter) snapshotKey(dbPath string, ts time.Time) string {
	base := filepath.Base(dbPath)
	prefix := strings.TrimSuffix(sn.cfg.Prefix, "/")
	return fmt.Sprintf("%s/%s/%d.db", prefix, base, ts.UnixMilli())
}

// UploadFile streams one local file to S3 under the current snapshot key.
func (sn *Snapshotter) UploadFile(ctx context.Context, dbPath string) error {
	f, err := os.Open(dbPath)
	if err != nil {
		return gatewayerrors.NewConnectionError("open database file for backup", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, sn.cfg.UploadTimeout)
	defer cancel()

	key := sn.snapshotKey(dbPath, time.Now())
	_, err = sn.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(sn.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		wrapped := gatewayerrors.NewBatchOperationError("upload snapshot to s3", err)
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			wrapped.WithDetail("s3_error_code", apiErr.ErrorCode())
		}
		return wrapped
	}
	sn.logger.Infow("snapshot uploaded", "path", dbPath, "bucket", sn.cfg.Bucket, "key", key)
	return nil
}

// RunOnce snapshots both the index and user-data databases.
func (sn *Snapshotter) RunOnce(ctx context.Context) error {
	if !sn.cfg.Enabled {
		return nil
	}
	if err := sn.UploadFile(ctx, sn.dbCfg.IndexDBPath); err != nil {
		return err
	}
	return sn.UploadFile(ctx, sn.dbCfg.UserDataDBPath)
}

// RunLoop calls RunOnce on cfg.Backup.Interval until ctx is done, logging
// (not aborting on) per-tick failures the way a long-lived sidecar process
// tolerates transient S3 errors.
func (sn *Snapshotter) RunLoop(ctx context.Context) {
	if !sn.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(sn.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sn.RunOnce(ctx); err != nil {
				sn.logger.Errorw("snapshot failed", "err", err)
			}
		}
	}
}
