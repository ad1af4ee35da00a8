package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cv-extractor/internal/tracing"
)

var llmTracer = otel.Tracer("cv-extractor/parser/llm")

// APIError 上游接口返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %d: %s", e.StatusCode, tracing.TruncateString(e.Body, 500))
}

// Retryable 限流和服务端错误可以重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAIChatModel 基于 OpenAI 兼容 chat/completions 接口的 eino ChatModel
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float32
	maxTokens   int
	jsonMode    bool
	httpClient  *http.Client
}

var _ model.BaseChatModel = (*OpenAIChatModel)(nil)

// ChatModelOption 配置选项
type ChatModelOption func(*OpenAIChatModel)

// WithChatHTTPClient 自定义 HTTP 客户端
func WithChatHTTPClient(c *http.Client) ChatModelOption {
	return func(m *OpenAIChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithTemperature 默认温度
func WithTemperature(t float64) ChatModelOption {
	return func(m *OpenAIChatModel) {
		m.temperature = float32(t)
	}
}

// WithMaxTokens 默认最大输出 token
func WithMaxTokens(n int) ChatModelOption {
	return func(m *OpenAIChatModel) {
		m.maxTokens = n
	}
}

// WithJSONMode 请求 response_format=json_object
func WithJSONMode(on bool) ChatModelOption {
	return func(m *OpenAIChatModel) {
		m.jsonMode = on
	}
}

// NewOpenAIChatModel 创建客户端。baseURL 可以是 .../v1 或完整的 .../chat/completions
func NewOpenAIChatModel(apiKey, modelName, baseURL string, opts ...ChatModelOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = "gpt-4o-mini"
	}
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	if !strings.HasSuffix(url, "/chat/completions") {
		url += "/chat/completions"
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     url,
		jsonMode:   true,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    *float32          `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Stop           []string          `json:"stop,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate 发送一次 chat/completions 请求
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	temperature := m.temperature
	maxTokens := m.maxTokens
	modelName := m.modelName
	options := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Model:       &modelName,
	}, opts...)

	req := chatCompletionRequest{
		Model:       *options.Model,
		Temperature: options.Temperature,
		Stop:        options.Stop,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if m.jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	ctx, span := llmTracer.Start(ctx, "LLM.ChatCompletion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.messages", len(req.Messages)),
		))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
		tracing.RecordHTTPError(span, apiErr, httpResp.StatusCode)
		return nil, apiErr
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("从 API 收到空选项")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", parsed.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", parsed.Usage.CompletionTokens),
		attribute.String("llm.finish_reason", parsed.Choices[0].FinishReason),
	)

	choice := parsed.Choices[0].Message
	out := &schema.Message{Role: schema.Assistant}
	if choice.Role != "" {
		out.Role = schema.RoleType(choice.Role)
	}
	if choice.Content != nil {
		out.Content = *choice.Content
	}
	return out, nil
}

// Stream 字段抽取只需要完整响应，这里用一次 Generate 包装成单元素流
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
