package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/types"
)

// Archiver 归档原始文件与抽取出的文本
type Archiver interface {
	// Archive 返回原始文件的对象位置，形如 s3://bucket/key
	Archive(ctx context.Context, kind types.DocumentKind, contentID, ext string, data []byte, text string) (string, error)
}

var _ Archiver = (*MinIO)(nil)

// MinIO 对象存储
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger zerolog.Logger
}

// NewMinIO 创建客户端，确保存储桶存在并按配置设置过期规则
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger.Component("minio"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	if cfg.ExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.ExpireDays); err != nil {
			// 过期规则失败不影响归档
			m.logger.Warn().Err(err).Str("bucket", m.bucket).Msg("设置存储桶生命周期失败")
		}
	}
	m.logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", m.bucket).Msg("MinIO客户端初始化完成")
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.logger.Info().Str("bucket", m.bucket).Msg("已创建存储桶")
	return nil
}

func (m *MinIO) setupLifecycle(ctx context.Context, days int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:         "expire-archive",
			Status:     "Enabled",
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

// ObjectPrefix 文档在存储桶内的目录
func ObjectPrefix(kind types.DocumentKind, contentID string) string {
	return fmt.Sprintf("%s/%s", kind, contentID)
}

// Archive 上传原始文件和抽取文本
func (m *MinIO) Archive(ctx context.Context, kind types.DocumentKind, contentID, ext string, data []byte, text string) (string, error) {
	prefix := ObjectPrefix(kind, contentID)
	original := prefix + "/original" + strings.ToLower(ext)
	if err := m.put(ctx, original, bytes.NewReader(data), int64(len(data)), getContentType(ext)); err != nil {
		return "", err
	}
	if text != "" {
		if err := m.put(ctx, prefix+"/text.txt", strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, original), nil
}

func (m *MinIO) put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	info, err := m.client.PutObject(ctx, m.bucket, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	m.logger.Debug().Str("object", objectName).Int64("size", info.Size).Msg("对象已上传")
	return nil
}

// GetPresignedURL 原始文件的临时下载地址
func (m *MinIO) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return u.String(), nil
}

func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
