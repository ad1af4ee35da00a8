package storage

import (
	"context"
	"time"

	"cv-extractor/internal/types"
)

// RecordStore 文档记录的持久化接口，以 (kind, content_id) 为身份
type RecordStore interface {
	// Exists 是否已有该 content_id 的记录
	Exists(ctx context.Context, kind types.DocumentKind, contentID string) (bool, error)
	// Upsert 不存在则创建，存在则更新元数据与字段并整体替换片段
	Upsert(ctx context.Context, rec *types.Record) error
	// Get 读取记录及其片段，不存在时 found 为 false 且 err 为 nil
	Get(ctx context.Context, kind types.DocumentKind, contentID string) (rec *types.Record, found bool, err error)
	// List 按处理时间升序列出记录，不包含片段
	List(ctx context.Context, kind types.DocumentKind) ([]*types.Record, error)
	// Touch 重复内容再次出现时只更新文件名、位置和时间戳
	Touch(ctx context.Context, kind types.DocumentKind, contentID, filename, location string, ts time.Time) error
}

// DocumentProcessedEvent 文档入库后发布的事件
type DocumentProcessedEvent struct {
	Kind         types.DocumentKind `json:"kind"`
	ContentID    string             `json:"content_id"`
	Filename     string             `json:"filename"`
	FileLocation string             `json:"file_location"`
	Sections     int                `json:"sections"`
	Embedded     int                `json:"embedded"`
	ProcessedAt  time.Time          `json:"processed_at"`
}

// NewDocumentProcessedEvent 由记录生成事件
func NewDocumentProcessedEvent(rec *types.Record) DocumentProcessedEvent {
	embedded := 0
	for _, s := range rec.Sections {
		if s.HasEmbedding() {
			embedded++
		}
	}
	return DocumentProcessedEvent{
		Kind:         rec.Kind,
		ContentID:    rec.ContentID,
		Filename:     rec.SourceFilename,
		FileLocation: rec.FileLocation,
		Sections:     len(rec.Sections),
		Embedded:     embedded,
		ProcessedAt:  rec.Timestamp,
	}
}

func cloneRecord(rec *types.Record, withSections bool) *types.Record {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Fields = make(types.Fields, len(rec.Fields))
	for k, v := range rec.Fields {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out.Fields[k] = v
	}
	if rec.DocumentVector != nil {
		out.DocumentVector = append([]float64(nil), rec.DocumentVector...)
	}
	out.Sections = nil
	if withSections && rec.Sections != nil {
		out.Sections = make([]types.Section, len(rec.Sections))
		for i, s := range rec.Sections {
			s.ParentID = rec.ContentID
			if s.Embedding != nil {
				s.Embedding = append([]float64(nil), s.Embedding...)
			}
			out.Sections[i] = s
		}
	}
	return &out
}
