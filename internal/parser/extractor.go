package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"cv-extractor/internal/logger"
)

// Format 文档格式，封闭集合
type Format int

const (
	FormatUnknown Format = iota
	FormatPDF
	FormatDOCX
	FormatTXT
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "PDF"
	case FormatDOCX:
		return "DOCX"
	case FormatTXT:
		return "TXT"
	}
	return "UNKNOWN"
}

// DetectFormat 按扩展名判断格式
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDOCX, nil
	case ".txt":
		return FormatTXT, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// SupportedFile 是否是可处理的文件
func SupportedFile(path string) bool {
	_, err := DetectFormat(path)
	return err == nil
}

// TextExtractor 把 PDF/DOCX/TXT 转成纯文本。段落/页之间以空行分隔，供分段使用。
type TextExtractor struct {
	pdfParser  *pdf.PDFParser
	maxBytes   int64
	pdfTimeout time.Duration
	logger     zerolog.Logger
}

// ExtractorOption 提取器的配置选项
type ExtractorOption func(*TextExtractor)

// WithMaxBytes 文件大小上限，<=0 表示不限制
func WithMaxBytes(n int64) ExtractorOption {
	return func(e *TextExtractor) {
		e.maxBytes = n
	}
}

// WithPDFTimeout PDF解析超时
func WithPDFTimeout(d time.Duration) ExtractorOption {
	return func(e *TextExtractor) {
		if d > 0 {
			e.pdfTimeout = d
		}
	}
}

// WithExtractorLogger 配置自定义日志记录器
func WithExtractorLogger(l zerolog.Logger) ExtractorOption {
	return func(e *TextExtractor) {
		e.logger = l
	}
}

// NewTextExtractor 初始化文本提取器
func NewTextExtractor(ctx context.Context, options ...ExtractorOption) (*TextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: true, // 按页返回，拼接时用空行分隔
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}

	e := &TextExtractor{
		pdfParser:  p,
		pdfTimeout: 30 * time.Second,
		logger:     logger.Component("extractor"),
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// ReadFile 读取文件内容，超过大小上限时不读取
func (e *TextExtractor) ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	if e.maxBytes <= 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
		}
		return data, nil
	}
	if info.Size() > e.maxBytes {
		return nil, fmt.Errorf("%w: %w (%d > %d bytes)", ErrUnreadableDocument, ErrFileTooLarge, info.Size(), e.maxBytes)
	}
	// 读取期间文件变大时同样拒绝
	data, err := io.ReadAll(io.LimitReader(f, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: %w (> %d bytes)", ErrUnreadableDocument, ErrFileTooLarge, e.maxBytes)
	}
	return data, nil
}

// Extract 读取文件并按格式提取文本
func (e *TextExtractor) Extract(ctx context.Context, path string, format Format) (string, error) {
	data, err := e.ReadFile(path)
	if err != nil {
		return "", err
	}
	return e.ExtractBytes(ctx, data, path, format)
}

// ExtractBytes 从内存中的文件内容提取文本，name 仅用于日志和元数据
func (e *TextExtractor) ExtractBytes(ctx context.Context, data []byte, name string, format Format) (string, error) {
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %w (%d > %d bytes)", ErrUnreadableDocument, ErrFileTooLarge, len(data), e.maxBytes)
	}

	start := time.Now()
	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = e.extractPDF(ctx, data, name)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatTXT:
		text = extractTXT(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("file", name).Str("format", format.String()).Msg("文本提取失败")
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: 没有可提取的文本 (%s)", ErrUnreadableDocument, filepath.Base(name))
	}

	e.logger.Debug().
		Str("file", name).
		Str("format", format.String()).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("文本提取完成")
	return text, nil
}

func (e *TextExtractor) extractPDF(ctx context.Context, data []byte, uri string) (text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.pdfTimeout)
	defer cancel()

	// 底层解析库遇到畸形文件可能 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	docs, err := e.pdfParser.Parse(ctx, bytes.NewReader(data),
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{"source_file_path": uri}),
	)
	if err != nil {
		return "", fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF parser returned no documents for URI %s", uri)
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		if p := strings.TrimSpace(doc.Content); p != "" {
			pages = append(pages, p)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractDOCX(data []byte) (string, error) {
	body, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("docx parse failed: %w", err)
	}
	// 每个段落之间留空行
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		if l := strings.TrimSpace(line); l != "" {
			paragraphs = append(paragraphs, l)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func extractTXT(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}
