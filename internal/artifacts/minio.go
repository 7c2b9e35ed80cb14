package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
)

// manifest is the JSON document stored per run.
type manifest struct {
	StageID    string    `json:"stage_id"`
	Revision   string    `json:"revision"`
	RunID      string    `json:"run_id"`
	Paths      []string  `json:"paths"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MinIOStore keeps one manifest object per run in a MinIO or S3 bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOClient builds a client from the validated configuration.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// NewMinIOStore wraps an existing client.
func NewMinIOStore(client *minio.Client, cfg MinIOConfig) *MinIOStore {
	return &MinIOStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// EnsureBucket creates the manifest bucket when it does not exist yet.
func (s *MinIOStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Record uploads the manifest for ref.
func (s *MinIOStore) Record(ctx context.Context, ref Ref, paths []string) error {
	body, err := json.Marshal(manifest{
		StageID:    ref.StageID,
		Revision:   ref.Revision,
		RunID:      ref.RunID,
		Paths:      paths,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", ref, err)
	}

	key := s.objectKey(ref)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put manifest %s: %w", key, err)
	}
	ctxlog.FromContext(ctx).Debug("Artifact manifest stored.", "bucket", s.bucket, "key", key, "paths", len(paths))
	return nil
}

// List downloads the manifest for ref. A missing object maps to ErrNotRecorded.
func (s *MinIOStore) List(ctx context.Context, ref Ref) ([]string, error) {
	key := s.objectKey(ref)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(ref, key, err)
	}
	defer obj.Close()

	var m manifest
	if err := json.NewDecoder(obj).Decode(&m); err != nil {
		return nil, s.mapError(ref, key, err)
	}
	return m.Paths, nil
}

func (s *MinIOStore) mapError(ref Ref, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", ref, ErrNotRecorded)
	}
	return fmt.Errorf("get manifest %s: %w", key, err)
}

func (s *MinIOStore) objectKey(ref Ref) string {
	return path.Join(s.prefix,
		url.PathEscape(ref.StageID),
		url.PathEscape(ref.Revision),
		url.PathEscape(ref.RunID)+".json")
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
