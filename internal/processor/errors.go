package processor

import (
	"errors"
	"fmt"
	"strings"

	"cv-extractor/internal/parser"
	"cv-extractor/internal/storage"
)

var (
	// ErrRunNotFound 批处理任务不存在
	ErrRunNotFound = errors.New("批处理任务不存在")
	// ErrRunActive 同类型已有任务在运行
	ErrRunActive = errors.New("已有批处理任务在运行")

	ErrExtractorNotInit = errors.New("文本提取器未初始化")
	ErrFieldsNotInit    = errors.New("字段抽取客户端未初始化")
	ErrSlicerNotInit    = errors.New("分段器未初始化")
)

// 失败原因的四种类型，对应失败行与汇总中的前缀
var failureKinds = []error{
	parser.ErrUnreadableDocument,
	parser.ErrExtractionFailed,
	parser.ErrEmbeddingFailed,
	storage.ErrStoreUnavailable,
}

// DocumentError 单个文件处理失败的详细信息
type DocumentError struct {
	File      string
	ContentID string
	Op        string
	BaseErr   error
	Detail    string
	cause     error
}

func (e *DocumentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 文件:%s): %s", e.BaseErr, e.Op, e.File, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 文件:%s)", e.BaseErr, e.Op, e.File)
}

func (e *DocumentError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口，同时匹配分类错误和底层原因
func (e *DocumentError) Is(target error) bool {
	if errors.Is(e.BaseErr, target) {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// Reason 汇总中使用的原因字符串，格式为 "<Kind>: <detail>"
func (e *DocumentError) Reason() string {
	if e.Detail == "" {
		return e.BaseErr.Error()
	}
	return e.BaseErr.Error() + ": " + e.Detail
}

// newDocumentError 按 cause 归类，不属于四种类型之一时使用 fallback
func newDocumentError(file, contentID, op string, fallback, cause error) *DocumentError {
	base := fallback
	for _, kind := range failureKinds {
		if errors.Is(cause, kind) {
			base = kind
			break
		}
	}
	detail := ""
	if cause != nil {
		detail = strings.TrimPrefix(cause.Error(), base.Error()+": ")
	}
	return &DocumentError{
		File:      file,
		ContentID: contentID,
		Op:        op,
		BaseErr:   base,
		Detail:    detail,
		cause:     cause,
	}
}

// 错误构造函数
func NewUnreadableError(file, contentID string, cause error) *DocumentError {
	return newDocumentError(file, contentID, "extract", parser.ErrUnreadableDocument, cause)
}

func NewExtractionError(file, contentID string, cause error) *DocumentError {
	return newDocumentError(file, contentID, "fields", parser.ErrExtractionFailed, cause)
}

func NewEmbeddingError(file, contentID string, cause error) *DocumentError {
	return newDocumentError(file, contentID, "embed", parser.ErrEmbeddingFailed, cause)
}

func NewStoreError(file, contentID string, cause error) *DocumentError {
	return newDocumentError(file, contentID, "store", storage.ErrStoreUnavailable, cause)
}

// ReasonOf 任意错误的原因字符串
func ReasonOf(err error) string {
	var de *DocumentError
	if errors.As(err, &de) {
		return de.Reason()
	}
	return err.Error()
}
