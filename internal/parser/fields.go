package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/tracing"
	"cv-extractor/internal/types"
)

var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// FieldResult 字段抽取结果
type FieldResult struct {
	Fields types.Fields
	// Raw 模型的原始输出
	Raw string
	// Markdown 是否由 markdown 兜底解析得到
	Markdown bool
	Dropped  []string
}

// FieldExtractionClient 调用一次 LLM，把文档文本抽取为固定模式的字段
type FieldExtractionClient struct {
	chat        model.BaseChatModel
	maxRetries  int
	retryWait   time.Duration
	callTimeout time.Duration
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// FieldsOption 配置选项
type FieldsOption func(*FieldExtractionClient)

// WithFieldRetries 可重试错误的最大重试次数与首次等待时间(之后翻倍)
func WithFieldRetries(n int, wait time.Duration) FieldsOption {
	return func(c *FieldExtractionClient) {
		if n >= 0 {
			c.maxRetries = n
		}
		if wait > 0 {
			c.retryWait = wait
		}
	}
}

// WithCallTimeout 单次调用超时
func WithCallTimeout(d time.Duration) FieldsOption {
	return func(c *FieldExtractionClient) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithQPM 每分钟请求上限，<=0 不限流
func WithQPM(qpm int) FieldsOption {
	return func(c *FieldExtractionClient) {
		if qpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(qpm)), 1)
		}
	}
}

// WithFieldsLogger 设置日志
func WithFieldsLogger(l zerolog.Logger) FieldsOption {
	return func(c *FieldExtractionClient) {
		c.logger = l
	}
}

// NewFieldExtractionClient 创建字段抽取客户端
func NewFieldExtractionClient(chat model.BaseChatModel, opts ...FieldsOption) (*FieldExtractionClient, error) {
	if chat == nil {
		return nil, errors.New("LLM 模型不能为空")
	}
	c := &FieldExtractionClient{
		chat:        chat,
		maxRetries:  2,
		retryWait:   2 * time.Second,
		callTimeout: 60 * time.Second,
		logger:      logger.Component("fields"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExtractFields 抽取字段。返回的字段总是包含模式中的每个键。
// 上游错误、超时或无法解析的输出返回 ErrExtractionFailed。
func (c *FieldExtractionClient) ExtractFields(ctx context.Context, kind types.DocumentKind, text, filename string) (*FieldResult, error) {
	ctx, span := llmTracer.Start(ctx, "Fields.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.kind", string(kind)),
		attribute.String("document.filename", filename),
		attribute.Int("document.text_length", len(text)),
	)

	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("%w: 文本为空", ErrExtractionFailed)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt(kind)),
		schema.UserMessage(text),
	}
	raw, err := c.callLLM(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	result, err := c.parseResponse(kind, raw, filename)
	if err != nil {
		c.logger.Warn().Str("file", filename).Str("raw", tracing.SafeDocumentContent(raw)).Msg("无法解析LLM输出")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if len(result.Dropped) > 0 {
		c.logger.Debug().Str("file", filename).Strs("dropped", result.Dropped).Msg("丢弃未知字段")
	}
	span.SetAttributes(attribute.Bool("fields.markdown", result.Markdown))
	return result, nil
}

func (c *FieldExtractionClient) callLLM(ctx context.Context, messages []*schema.Message) (string, error) {
	var (
		response *schema.Message
		err      error
	)
	retryDelay := c.retryWait

	for retry := 0; retry <= c.maxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				retryDelay *= 2
				c.logger.Info().Int("retry", retry).Msg("重试LLM调用")
			}
		}

		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return "", fmt.Errorf("等待限流失败: %w", werr)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		response, err = c.chat.Generate(callCtx, messages)
		cancel()

		if err == nil {
			break
		}
		// 上游批次已取消，不再重试
		if ctx.Err() != nil {
			return "", fmt.Errorf("LLM 调用中止: %w", ctx.Err())
		}
		if !isRetryableError(err) || retry >= c.maxRetries {
			c.logger.Error().Err(err).Int("attempts", retry+1).Msg("LLM调用最终失败")
			return "", fmt.Errorf("LLM 调用失败: %w", err)
		}
	}

	if response == nil {
		return "", errors.New("LLM 返回空响应")
	}
	return response.Content, nil
}

func (c *FieldExtractionClient) parseResponse(kind types.DocumentKind, raw, filename string) (*FieldResult, error) {
	fieldSchema := types.SchemaFor(kind)
	result := &FieldResult{Raw: raw}

	var values map[string]any
	if jsonStr := extractJSON(raw); jsonStr != "" {
		if err := decodeObject(jsonStr, &values); err != nil {
			return nil, fmt.Errorf("%w: LLM返回的JSON无法解析: %v", ErrExtractionFailed, err)
		}
	} else if strings.Contains(raw, "{") {
		// 有 { 但不配平，多半是被截断的 JSON
		return nil, fmt.Errorf("%w: LLM返回的JSON不完整", ErrExtractionFailed)
	}
	if values == nil {
		values = parseMarkdownFields(raw, fieldSchema)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: 无法从LLM响应中提取有效的JSON", ErrExtractionFailed)
		}
		result.Markdown = true
	}

	fields, dropped := normalizeFields(values, fieldSchema)
	if kind == types.KindRole {
		if title, _ := fields["role_title"].(string); title == "" && filename != "" {
			fields["role_title"] = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		}
	}
	if err := ValidateFields(kind, fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	result.Fields = fields
	result.Dropped = dropped
	return result, nil
}

// isRetryableError 网络类错误与限流/服务端错误可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host")
}

// decodeObject 解析 JSON 对象，失败时去掉多余的尾逗号再试一次
func decodeObject(jsonStr string, values *map[string]any) error {
	err := json.Unmarshal([]byte(jsonStr), values)
	if err == nil {
		return nil
	}
	if fixed := stripTrailingCommas(jsonStr); fixed != jsonStr {
		*values = nil
		if json.Unmarshal([]byte(fixed), values) == nil {
			return nil
		}
	}
	*values = nil
	return err
}

// stripTrailingCommas 删除 } 或 ] 之前的逗号，字符串内的内容不动
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			b.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = true
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// extractJSON 取 ```json 代码块或第一个配平的 {...}
func extractJSON(text string) string {
	if m := jsonBlockPattern.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
