package service

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"PromptToMovie-server/config"
)

// readOnlyPolicy lets anyone GET objects of the bucket, so stored URLs never expire.
const readOnlyPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`

// MinIOStorage is the object storage capability backed by a MinIO bucket.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	domain string
	http   *http.Client
	log    zerolog.Logger

	mu          sync.Mutex
	bucketReady bool
}

func NewMinIOStorage(cfg *config.Config, log zerolog.Logger) (*MinIOStorage, error) {
	m := cfg.MinIO
	client, err := minio.New(m.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinIOStorage{
		client: client,
		bucket: m.Bucket,
		domain: strings.TrimRight(m.Domain, "/"),
		http:   &http.Client{Timeout: 10 * time.Minute},
		log:    log.With().Str("component", "storage").Logger(),
	}, nil
}

// Mirror downloads sourceURL and stores it under key.
func (s *MinIOStorage) Mirror(ctx context.Context, sourceURL, key string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("asset mirrored")
	return publicURL(s.domain, s.bucket, key), nil
}

// PutFile uploads a local file under key.
func (s *MinIOStorage) PutFile(ctx context.Context, localPath, key string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("file uploaded")
	return publicURL(s.domain, s.bucket, key), nil
}

func (s *MinIOStorage) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		if err := s.client.SetBucketPolicy(ctx, s.bucket, fmt.Sprintf(readOnlyPolicy, s.bucket)); err != nil {
			return fmt.Errorf("set policy on bucket %s: %w", s.bucket, err)
		}
		s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}
	s.bucketReady = true
	return nil
}

// publicURL is the permanent address of an object behind the configured domain.
func publicURL(domain, bucket, key string) string {
	return domain + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
