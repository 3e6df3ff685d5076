package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"resume-match-go/internal/config"
)

// ArtifactStore 保存流水线中间产物：原始文档、抽取文本、聚合文本
type ArtifactStore interface {
	UploadDocument(ctx context.Context, data []byte, contentType string) (digest string, objectName string, err error)
	UploadExtractedText(ctx context.Context, digest string, text string) (string, error)
	GetExtractedText(ctx context.Context, digest string) (string, error)
	UploadAggregate(ctx context.Context, collection, pointID, content string) (string, error)
}

var _ ArtifactStore = (*MinIO)(nil)

// MinIO 对象存储
type MinIO struct {
	client           *minio.Client
	cfg              *config.MinIOConfig
	documentsBucket  string
	aggregatesBucket string
	logger           *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:           client,
		cfg:              cfg,
		documentsBucket:  cfg.DocumentsBucket,
		aggregatesBucket: cfg.AggregatesBucket,
		logger:           logger,
	}
	if m.documentsBucket == "" {
		m.documentsBucket = "resume-documents"
	}
	if m.aggregatesBucket == "" {
		m.aggregatesBucket = "resume-aggregates"
	}

	ctx := context.Background()
	for _, bucket := range []string{m.documentsBucket, m.aggregatesBucket} {
		if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
		if cfg.ExpireDays > 0 {
			if err := m.setupBucketLifecycle(ctx, bucket, cfg.ExpireDays); err != nil {
				// 生命周期规则失败不影响使用
				logger.Printf("[MinIO] Warning: 设置存储桶 %s 生命周期失败: %v", bucket, err)
			}
		}
	}

	logger.Printf("[MinIO] Client initialized for endpoint: %s (documents=%s, aggregates=%s)",
		cfg.Endpoint, m.documentsBucket, m.aggregatesBucket)
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Printf("[MinIO] Bucket %s created.", bucketName)
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName string, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     "expire-artifacts",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, cfg)
}

// ContentDigest 文档内容的 sha256，作为对象路径的一部分
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func documentObject(digest, name string) string {
	return fmt.Sprintf("documents/%s/%s", digest, name)
}

func (m *MinIO) put(ctx context.Context, bucket, objectName string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	return nil
}

// UploadDocument 上传原始文档，路径 documents/{sha}/original.{ext}
func (m *MinIO) UploadDocument(ctx context.Context, data []byte, contentType string) (string, string, error) {
	digest := ContentDigest(data)
	ext := "pdf"
	if contentType != "" && !strings.Contains(contentType, "pdf") {
		ext = "bin"
	}
	objectName := documentObject(digest, "original."+ext)
	if err := m.put(ctx, m.documentsBucket, objectName, data, contentType); err != nil {
		return digest, "", err
	}
	return digest, objectName, nil
}

// UploadExtractedText 上传抽取出的纯文本，路径 documents/{sha}/text.txt
func (m *MinIO) UploadExtractedText(ctx context.Context, digest string, text string) (string, error) {
	objectName := documentObject(digest, "text.txt")
	if err := m.put(ctx, m.documentsBucket, objectName, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return objectName, nil
}

// GetExtractedText 读取已保存的抽取文本
func (m *MinIO) GetExtractedText(ctx context.Context, digest string) (string, error) {
	obj, err := m.client.GetObject(ctx, m.documentsBucket, documentObject(digest, "text.txt"), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("获取抽取文本失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("读取抽取文本失败: %w", err)
	}
	return string(data), nil
}

// UploadAggregate 保存聚合文本，路径 aggregates/{collection}/{id}.txt
func (m *MinIO) UploadAggregate(ctx context.Context, collection, pointID, content string) (string, error) {
	objectName := fmt.Sprintf("aggregates/%s/%s.txt", collection, pointID)
	if err := m.put(ctx, m.aggregatesBucket, objectName, []byte(content), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return objectName, nil
}
