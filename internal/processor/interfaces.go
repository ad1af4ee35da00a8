package processor

import (
	"context"

	"cv-extractor/internal/parser"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// TextExtractor 读取文件并提取纯文本，ReadFile 负责大小上限
type TextExtractor interface {
	ReadFile(path string) ([]byte, error)
	ExtractBytes(ctx context.Context, data []byte, name string, format parser.Format) (string, error)
}

// FieldExtractor 把文本抽取为固定模式的字段
type FieldExtractor interface {
	ExtractFields(ctx context.Context, kind types.DocumentKind, text, filename string) (*parser.FieldResult, error)
}

// Slicer 把文本切分为带标题的片段
type Slicer interface {
	Slice(text string) []types.Section
}

// Embedder 生成向量
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedSections 原地写入每个片段的向量，返回失败数和第一个错误
	EmbedSections(ctx context.Context, sections []types.Section) (int, error)
}

// VectorIndex 片段向量索引
type VectorIndex interface {
	UpsertSections(ctx context.Context, kind types.DocumentKind, contentID, filename string, sections []types.Section) ([]string, error)
}

// ProcessedCache 已处理 content_id 的缓存，只作参考
type ProcessedCache interface {
	IsProcessed(ctx context.Context, kind types.DocumentKind, contentID string) (bool, error)
	MarkProcessed(ctx context.Context, kind types.DocumentKind, contentID string) error
}

var (
	_ TextExtractor  = (*parser.TextExtractor)(nil)
	_ FieldExtractor = (*parser.FieldExtractionClient)(nil)
	_ Slicer         = (*parser.SectionSlicer)(nil)
	_ Embedder       = (*parser.EmbeddingClient)(nil)
	_ VectorIndex    = (*storage.Qdrant)(nil)
	_ ProcessedCache = (*storage.Redis)(nil)
)
