package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/types"
)

// EmbeddingMode 向量化粒度
type EmbeddingMode string

const (
	EmbedDocument EmbeddingMode = "document"
	EmbedSections EmbeddingMode = "sections"
	EmbedBoth     EmbeddingMode = "both"
	EmbedNone     EmbeddingMode = "none"
)

// ParseEmbeddingMode 空串视为 sections
func ParseEmbeddingMode(s string) (EmbeddingMode, error) {
	switch m := EmbeddingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return EmbedSections, nil
	case EmbedDocument, EmbedSections, EmbedBoth, EmbedNone:
		return m, nil
	}
	return "", fmt.Errorf("未知的向量化模式: %q", s)
}

// Document 是否为整篇文档生成向量
func (m EmbeddingMode) Document() bool { return m == EmbedDocument || m == EmbedBoth }

// Sections 是否为每个片段生成向量
func (m EmbeddingMode) Sections() bool { return m == EmbedSections || m == EmbedBoth }

// EmbeddingClient 每个文本单元一次调用，带超时、限流与维度校验
type EmbeddingClient struct {
	embedder embedding.Embedder
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu        sync.Mutex
	dimension int
}

// EmbeddingOption 配置选项
type EmbeddingOption func(*EmbeddingClient)

// WithEmbedTimeout 单次调用超时
func WithEmbedTimeout(d time.Duration) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEmbedQPM 每分钟请求上限
func WithEmbedQPM(qpm int) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if qpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(qpm)), 1)
		}
	}
}

// WithDimension 期望的向量维度，0 表示以第一次返回的维度为准
func WithDimension(n int) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if n > 0 {
			c.dimension = n
		}
	}
}

// WithEmbeddingLogger 设置日志
func WithEmbeddingLogger(l zerolog.Logger) EmbeddingOption {
	return func(c *EmbeddingClient) {
		c.logger = l
	}
}

// NewEmbeddingClient 包装任意 eino Embedder
func NewEmbeddingClient(embedder embedding.Embedder, opts ...EmbeddingOption) (*EmbeddingClient, error) {
	if embedder == nil {
		return nil, errors.New("embedder 不能为空")
	}
	c := &EmbeddingClient{
		embedder: embedder,
		timeout:  30 * time.Second,
		logger:   logger.Component("embedding"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed 对一段文本生成向量，失败返回 ErrEmbeddingFailed
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: 文本为空", ErrEmbeddingFailed)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: 等待限流失败: %v", ErrEmbeddingFailed, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	vectors, err := c.embedder.EmbedStrings(callCtx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: 返回空向量", ErrEmbeddingFailed)
	}
	vec := vectors[0]
	if err := c.checkDimension(len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

// checkDimension 未配置维度时记下第一次返回的维度，之后的向量必须一致
func (c *EmbeddingClient) checkDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = n
		return nil
	}
	if n != c.dimension {
		return fmt.Errorf("%w: %w: 期望 %d，实际 %d", ErrEmbeddingFailed, errDimensionMismatch, c.dimension, n)
	}
	return nil
}

// EmbedSections 为每个片段生成向量。单个片段失败时该片段不带向量，
// 返回失败的片段数和第一个错误，调用方据此记录告警。
func (c *EmbeddingClient) EmbedSections(ctx context.Context, sections []types.Section) (int, error) {
	failed := 0
	var firstErr error
	for i := range sections {
		if ctx.Err() != nil {
			failed += len(sections) - i
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, ctx.Err())
			}
			break
		}
		vec, err := c.Embed(ctx, sections[i].Text)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn().Err(err).Int("section", sections[i].Index).Str("label", sections[i].Label).Msg("片段向量化失败，保存为无向量片段")
			sections[i].Embedding = nil
			continue
		}
		sections[i].Embedding = vec
	}
	return failed, firstErr
}
