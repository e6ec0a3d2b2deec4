// Package storage archives uploaded scans and rendered reports in an S3
// compatible object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIOClient struct {
	client *minio.Client
	bucket string
}

// NewMinIOClient connects to the object store and creates the bucket when
// it does not exist yet.
func NewMinIOClient(ctx context.Context, cfg Config) (*MinIOClient, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:9000"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "mri-scans"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOClient{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// UploadFromReader uploads size bytes from reader under objectName.
func (m *MinIOClient) UploadFromReader(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return objectName, nil
}

// GetPresignedURL generates a download URL valid for one hour.
func (m *MinIOClient) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// ArchiveScan stores the raw upload for an analysis and returns its key.
func (m *MinIOClient) ArchiveScan(ctx context.Context, analysisID, filename, contentType string, raw []byte) (string, error) {
	return m.UploadFromReader(ctx, ScanObjectName(analysisID, filename, contentType), bytes.NewReader(raw), int64(len(raw)), contentType)
}

// ArchiveReport stores a rendered report for an analysis and returns its key.
func (m *MinIOClient) ArchiveReport(ctx context.Context, analysisID string, pdf []byte) (string, error) {
	return m.UploadFromReader(ctx, ReportObjectName(analysisID), bytes.NewReader(pdf), int64(len(pdf)), "application/pdf")
}

// ScanObjectName builds scans/<analysis>/original<ext>. The extension comes
// from the sniffed content type; the client filename is only a fallback.
func ScanObjectName(analysisID, filename, contentType string) string {
	ext := path.Ext(filename)
	switch contentType {
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	}
	return fmt.Sprintf("scans/%s/original%s", analysisID, ext)
}

func ReportObjectName(analysisID string) string {
	return fmt.Sprintf("reports/%s/Alzheimer_Report.pdf", analysisID)
}
