// Package reportstore holds the raw text of exam reports. It defines the
// Store interface, an in-memory implementation for tests and development,
// and a MinIO (S3-compatible) implementation.
package reportstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrReportNotFound = errors.New("report text not found")
	ErrReportTooLarge = errors.New("report text exceeds maximum allowed size")
)

// MaxReportSize bounds a single report's text (4 MB).
const MaxReportSize = 4 * 1024 * 1024

// Store reads and writes report text keyed by patient and report id.
type Store interface {
	Get(ctx context.Context, patientID, reportID string) (string, error)
	Put(ctx context.Context, patientID, reportID, text string) error
}

// ObjectKey is the object name of a report, mirroring the viewer data layout.
func ObjectKey(patientID, reportID string) string {
	return "patients/" + patientID + "/exams/" + reportID + "/report.txt"
}

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu      sync.RWMutex
	reports map[string]string
}

func NewMemory() *Memory {
	return &Memory{reports: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, patientID, reportID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.reports[ObjectKey(patientID, reportID)]
	if !ok {
		return "", ErrReportNotFound
	}
	return text, nil
}

func (m *Memory) Put(_ context.Context, patientID, reportID, text string) error {
	if len(text) > MaxReportSize {
		return ErrReportTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[ObjectKey(patientID, reportID)] = text
	return nil
}

// MinioConfig configures the MinIO store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Minio stores report text as objects in a bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to MinIO and creates the bucket when it does not exist.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Minio{client: cli, bucket: cfg.Bucket}, nil
}

func (s *Minio) Get(ctx context.Context, patientID, reportID string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectKey(patientID, reportID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get report %s: %w", reportID, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrReportNotFound
		}
		return "", fmt.Errorf("stat report %s: %w", reportID, err)
	}
	data, err := io.ReadAll(io.LimitReader(obj, MaxReportSize+1))
	if err != nil {
		return "", fmt.Errorf("read report %s: %w", reportID, err)
	}
	if len(data) > MaxReportSize {
		return "", ErrReportTooLarge
	}
	return string(data), nil
}

func (s *Minio) Put(ctx context.Context, patientID, reportID, text string) error {
	if len(text) > MaxReportSize {
		return ErrReportTooLarge
	}
	_, err := s.client.PutObject(ctx, s.bucket, ObjectKey(patientID, reportID),
		bytes.NewReader([]byte(text)), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put report %s: %w", reportID, err)
	}
	return nil
}
