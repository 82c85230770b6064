package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"relingo/internal/config"
	"relingo/internal/logging"
	"relingo/internal/task"
)

// Publisher mirrors downloadable artifacts to an S3-compatible bucket and
// hands out presigned GET URLs for them.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewPublisher builds a publisher from the object store section. It returns
// (nil, nil) when publishing is disabled.
func NewPublisher(cfg config.ObjectStore, ttl time.Duration, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("object store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ttl:    ttl,
		logger: logging.NewComponentLogger(logger, "publisher"),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", p.bucket, err)
	}
	p.logger.Info("created artifact bucket", logging.String("bucket", p.bucket))
	return nil
}

// ObjectKey returns the bucket key for an artifact.
func (p *Publisher) ObjectKey(a *task.Artifact) string {
	if p.prefix == "" {
		return a.Path
	}
	return path.Join(p.prefix, a.Path)
}

// Publish uploads the artifact's file.
func (p *Publisher) Publish(ctx context.Context, localPath string, a *task.Artifact) error {
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := p.client.FPutObject(ctx, p.bucket, p.ObjectKey(a), localPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"task-id": a.TaskID,
			"kind":    string(a.Kind),
			"sha256":  a.SHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", a.Path, err)
	}
	p.logger.Debug("artifact published",
		logging.String(logging.FieldTaskID, a.TaskID),
		logging.String("key", info.Key),
		logging.Int64("size", info.Size),
	)
	return nil
}

// PresignGet returns a time-limited download URL for a published artifact.
func (p *Publisher) PresignGet(ctx context.Context, a *task.Artifact) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, p.ObjectKey(a), p.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", a.Path, err)
	}
	return u.String(), nil
}

// RemoveTask deletes every published object of a task.
func (p *Publisher) RemoveTask(ctx context.Context, taskID string) error {
	prefix := taskID + "/"
	if p.prefix != "" {
		prefix = p.prefix + "/" + prefix
	}
	var firstErr error
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list task objects: %w", obj.Err)
		}
		if err := p.client.RemoveObject(ctx, p.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return firstErr
}

// Downloadable reports whether artifacts of kind are offered for download.
func Downloadable(kind task.ArtifactKind) bool {
	switch kind {
	case task.KindVocalTrack, task.KindBackgroundTrack, task.KindTranscript,
		task.KindSubtitleFile, task.KindFinalVideo:
		return true
	default:
		return false
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
