package tracing

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上的错误分类
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeVectorDB   ErrorType = "vector_db"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external_system"
)

// reasoner 自带失败原因的错误，例如单个文件的处理错误
type reasoner interface {
	Reason() string
}

// RecordError 记录错误并把 span 标为失败
func RecordError(span trace.Span, err error, errorType ErrorType) {
	RecordErrorWithInfo(span, err, errorType)
}

// RecordErrorWithInfo 同 RecordError，附加属性。错误实现 Reason() 时写入 error.reason。
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)

	kv := make([]attribute.KeyValue, 0, len(attrs)+2)
	kv = append(kv, attribute.String("error.type", string(errorType)))
	var r reasoner
	if errors.As(err, &r) {
		kv = append(kv, attribute.String("error.reason", SafeDocumentContent(r.Reason())))
	}
	span.SetAttributes(append(kv, attrs...)...)
	span.SetStatus(codes.Error, TruncateString(err.Error(), maxStatusLength))
}

// RecordHTTPError 上游接口(LLM、向量化、Qdrant)返回非 2xx
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	category := "server_error"
	if statusCode >= 400 && statusCode < 500 {
		category = "client_error"
	}
	RecordErrorWithInfo(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
		attribute.Bool("http.retryable", statusCode == 429 || statusCode >= 500),
	)
}
