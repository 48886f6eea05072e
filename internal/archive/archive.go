// Package archive keeps a copy of every user-supplied history document in
// object storage, so an import can be audited or replayed later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"gacha-ledger/internal/config"
	"gacha-ledger/internal/domain"
)

// Client is the subset of the MinIO API the archive needs.
type Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

// Document identifies an archived upload.
type Document struct {
	JobID      string
	Game       domain.Game
	Format     string
	AccountKey string
	ReceivedAt time.Time
}

// ObjectName lays documents out by game and day so a bucket listing stays
// browsable.
func (d Document) ObjectName() string {
	return fmt.Sprintf("%s/%s/%s-%s.json", d.Game, d.ReceivedAt.UTC().Format("2006/01/02"), d.Format, d.JobID)
}

type Archive struct {
	client Client
	bucket string
	logger zerolog.Logger
}

func New(client Client, bucket string, logger zerolog.Logger) *Archive {
	return &Archive{client: client, bucket: bucket, logger: logger}
}

// NewClient builds a MinIO client from config.
func NewClient(cfg *config.Config) (Client, error) {
	endpoint := strings.TrimPrefix(cfg.ArchiveEndpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, ""),
		Secure:    cfg.ArchiveUseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioClient{Client: mc}, nil
}

type minioClient struct {
	*minio.Client
}

func (c *minioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucketName, objectName, opts)
}

// EnsureBucket creates the bucket on first use.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info().Str("bucket", a.bucket).Msg("archive bucket created")
	return nil
}

func (a *Archive) Store(ctx context.Context, doc Document, data []byte) (string, error) {
	name := doc.ObjectName()
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"job-id":      doc.JobID,
			"account-key": doc.AccountKey,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return name, nil
}

func (a *Archive) Load(ctx context.Context, name string) ([]byte, error) {
	rc, err := a.client.GetObject(ctx, a.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
