package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cv-extractor/internal/types"
)

// MemoryStore 进程内的 RecordStore，未配置 MySQL 时使用，也用于测试
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.Record
}

var _ RecordStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.Record)}
}

func memoryKey(kind types.DocumentKind, contentID string) string {
	return string(kind) + ":" + contentID
}

// Exists 检查记录是否存在
func (m *MemoryStore) Exists(ctx context.Context, kind types.DocumentKind, contentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[memoryKey(kind, contentID)]
	return ok, nil
}

// Upsert 创建或替换记录，同一 content_id 的写入在锁内串行
func (m *MemoryStore) Upsert(ctx context.Context, rec *types.Record) error {
	if rec == nil || rec.ContentID == "" {
		return fmt.Errorf("记录缺少 content_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := cloneRecord(rec, true)
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memoryKey(rec.Kind, rec.ContentID)] = stored
	return nil
}

// Get 读取记录
func (m *MemoryStore) Get(ctx context.Context, kind types.DocumentKind, contentID string) (*types.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[memoryKey(kind, contentID)]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(rec, true), true, nil
}

// List 按时间升序列出
func (m *MemoryStore) List(ctx context.Context, kind types.DocumentKind) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*types.Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Kind == kind {
			out = append(out, cloneRecord(rec, false))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ContentID < out[j].ContentID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Touch 更新文件名与时间戳
func (m *MemoryStore) Touch(ctx context.Context, kind types.DocumentKind, contentID, filename, location string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memoryKey(kind, contentID)]
	if !ok {
		return ErrRecordNotFound
	}
	rec.SourceFilename = filename
	if location != "" {
		rec.FileLocation = location
	}
	rec.Timestamp = ts
	return nil
}

// Len 记录总数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
