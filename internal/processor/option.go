package processor

import (
	"time"

	"github.com/rs/zerolog"

	"cv-extractor/internal/parser"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// Components 聚合所有功能组件依赖，便于集中管理和测试替换
type Components struct {
	// 核心组件
	Extractor TextExtractor
	Fields    FieldExtractor
	Slicer    Slicer
	Embedder  Embedder // 为空时不做向量化

	// 存储，除 Records 外均可为空
	Records storage.RecordStore
	Rows    map[types.DocumentKind]storage.RowSink
	Vectors VectorIndex
	Archive storage.Archiver
	Cache   ProcessedCache
	Locker  storage.KeyedLocker
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	Concurrency       int
	ExtractionTimeout time.Duration
	EmbeddingTimeout  time.Duration
	StoreTimeout      time.Duration
	EmbeddingMode     parser.EmbeddingMode
	Logger            *zerolog.Logger
	// Now 时间来源，测试中可替换
	Now func() time.Time
}

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

// ----- 组件选项 -----

// WithExtractor 设置文本提取器
func WithExtractor(e TextExtractor) ComponentOpt {
	return func(c *Components) {
		c.Extractor = e
	}
}

// WithFields 设置字段抽取客户端
func WithFields(f FieldExtractor) ComponentOpt {
	return func(c *Components) {
		c.Fields = f
	}
}

// WithSlicer 设置分段器
func WithSlicer(s Slicer) ComponentOpt {
	return func(c *Components) {
		c.Slicer = s
	}
}

// WithEmbedder 设置向量化客户端
func WithEmbedder(e Embedder) ComponentOpt {
	return func(c *Components) {
		c.Embedder = e
	}
}

// WithRecords 设置记录存储
func WithRecords(r storage.RecordStore) ComponentOpt {
	return func(c *Components) {
		c.Records = r
	}
}

// WithRowSink 设置某种文档类型的行输出
func WithRowSink(kind types.DocumentKind, sink storage.RowSink) ComponentOpt {
	return func(c *Components) {
		if c.Rows == nil {
			c.Rows = make(map[types.DocumentKind]storage.RowSink)
		}
		c.Rows[kind] = sink
	}
}

// WithVectors 设置向量索引
func WithVectors(v VectorIndex) ComponentOpt {
	return func(c *Components) {
		c.Vectors = v
	}
}

// WithArchive 设置原件归档
func WithArchive(a storage.Archiver) ComponentOpt {
	return func(c *Components) {
		c.Archive = a
	}
}

// WithCache 设置已处理缓存
func WithCache(p ProcessedCache) ComponentOpt {
	return func(c *Components) {
		c.Cache = p
	}
}

// WithLocker 设置 content_id 锁
func WithLocker(l storage.KeyedLocker) ComponentOpt {
	return func(c *Components) {
		c.Locker = l
	}
}

// ----- 设置选项 -----

// WithConcurrency 同时处理的文件数
func WithConcurrency(n int) SettingOpt {
	return func(s *Settings) {
		if n > 0 {
			s.Concurrency = n
		}
	}
}

// WithTimeouts 设置各外部调用的超时，0 表示沿用当前值
func WithTimeouts(extraction, embedding, store time.Duration) SettingOpt {
	return func(s *Settings) {
		if extraction > 0 {
			s.ExtractionTimeout = extraction
		}
		if embedding > 0 {
			s.EmbeddingTimeout = embedding
		}
		if store > 0 {
			s.StoreTimeout = store
		}
	}
}

// WithEmbeddingMode 设置向量化粒度
func WithEmbeddingMode(m parser.EmbeddingMode) SettingOpt {
	return func(s *Settings) {
		s.EmbeddingMode = m
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) SettingOpt {
	return func(s *Settings) {
		s.Logger = &l
	}
}

// WithClock 设置时间来源
func WithClock(now func() time.Time) SettingOpt {
	return func(s *Settings) {
		if now != nil {
			s.Now = now
		}
	}
}
