// Package archive writes a final JSON record of every finished run to an
// S3-compatible object store. Archival is best-effort: a failed upload is
// logged and the run's lifecycle is unaffected.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/seantiz/helix/internal/model"
)

// Config holds object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// Validate checks the config for the fields the client cannot do without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// Archiver uploads run records to the configured bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New builds the object store client and makes sure the bucket exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("archive config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Archiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// record is the archived document shape.
type record struct {
	Run   *model.Run   `json:"run"`
	Tasks []model.Task `json:"tasks"`
}

// objectKey shards archives by final state so operators can list failures
// without scanning everything.
func objectKey(run *model.Run) string {
	return fmt.Sprintf("runs/%s/%s.json", strings.ToLower(run.State), run.ID)
}

// ArchiveRun uploads the run and its tasks as one JSON object.
func (a *Archiver) ArchiveRun(ctx context.Context, run *model.Run, tasks []model.Task) error {
	body, err := json.Marshal(record{Run: run, Tasks: tasks})
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	key := objectKey(run)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.logger.Info("run archived", "run_id", run.ID, "bucket", a.bucket, "key", key)
	return nil
}
