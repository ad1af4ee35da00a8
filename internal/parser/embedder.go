package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/tracing"
)

// OpenAIEmbedder 实现 embedding.Embedder 接口，走 OpenAI 兼容的 /embeddings 接口
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

// EmbedderOption 配置选项
type EmbedderOption func(*OpenAIEmbedder)

// WithEmbedderHTTPClient 自定义 HTTP 客户端
func WithEmbedderHTTPClient(c *http.Client) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithEmbedderLogger 设置日志
func WithEmbedderLogger(l zerolog.Logger) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.logger = l
	}
}

// NewOpenAIEmbedder 创建新的 Embedder
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/embeddings"
	}
	if !strings.HasSuffix(baseURL, "/embeddings") {
		baseURL += "/embeddings"
	}

	e := &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger.Component("embedder"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dimensions 配置的向量维度
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Input          any    `json:"input"` // string 或 []string
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions,omitempty"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// EmbedStrings 将文本转换为向量，结果顺序与输入一致
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	modelName := e.model
	options := embedding.GetCommonOptions(&embedding.Options{Model: &modelName}, opts...)
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	ctx, span := llmTracer.Start(ctx, "Embedding.EmbedStrings",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embedding.model", modelName),
			attribute.Int("embedding.texts", len(texts)),
		))
	defer span.End()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(embeddingRequest{
		Input:          input,
		Model:          modelName,
		Dimensions:     e.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		tracing.RecordHTTPError(span, apiErr, resp.StatusCode)
		return nil, apiErr
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		err := fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", parsed.Error.Type, parsed.Error.Message, parsed.Error.Code)
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("返回的向量数量 %d 与输入 %d 不一致", len(parsed.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for i, entry := range parsed.Data {
		idx := entry.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = entry.Embedding
	}
	span.SetAttributes(attribute.Int("embedding.prompt_tokens", parsed.Usage.PromptTokens))
	e.logger.Debug().Int("texts", len(texts)).Int("dim", firstEmbeddingDim(out)).Int("tokens", parsed.Usage.TotalTokens).Msg("向量化完成")
	return out, nil
}

func firstEmbeddingDim(embeddings [][]float64) int {
	if len(embeddings) > 0 {
		return len(embeddings[0])
	}
	return 0
}
