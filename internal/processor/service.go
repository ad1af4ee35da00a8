package processor

import (
	"context"
	"fmt"
	"time"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/parser"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// NewComponents 按配置创建解析组件，并接入已初始化的存储
func NewComponents(ctx context.Context, cfg *config.Config, store *storage.Storage) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	log := logger.Component("processor")

	extractor, err := parser.NewTextExtractor(ctx,
		parser.WithMaxBytes(cfg.MaxFileBytes()),
		parser.WithPDFTimeout(cfg.ExtractionTimeout()),
		parser.WithExtractorLogger(logger.Component("extractor")),
	)
	if err != nil {
		return nil, fmt.Errorf("创建文本提取器失败: %w", err)
	}

	chat, err := parser.NewOpenAIChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.APIURL,
		parser.WithTemperature(cfg.LLM.Temperature),
		parser.WithMaxTokens(cfg.LLM.MaxTokens),
		parser.WithJSONMode(true),
	)
	if err != nil {
		return nil, fmt.Errorf("创建LLM客户端失败: %w", err)
	}
	fields, err := parser.NewFieldExtractionClient(chat,
		parser.WithFieldRetries(cfg.Pipeline.MaxRetries, time.Duration(cfg.Pipeline.RetryWaitSeconds)*time.Second),
		parser.WithCallTimeout(cfg.ExtractionTimeout()),
		parser.WithQPM(cfg.LLM.QPM),
	)
	if err != nil {
		return nil, fmt.Errorf("创建字段抽取客户端失败: %w", err)
	}

	comp := &Components{
		Extractor: extractor,
		Fields:    fields,
		Slicer:    parser.NewSectionSlicer(cfg.Pipeline.MaxSectionChars, cfg.Pipeline.MinSectionChars),
	}

	mode, err := parser.ParseEmbeddingMode(cfg.Embedding.Mode)
	if err != nil {
		return nil, err
	}
	if mode != parser.EmbedNone {
		embedder, err := parser.NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("创建向量化客户端失败: %w", err)
		}
		client, err := parser.NewEmbeddingClient(embedder,
			parser.WithEmbedTimeout(cfg.EmbeddingTimeout()),
			parser.WithEmbedQPM(cfg.Embedding.QPM),
			parser.WithDimension(cfg.Embedding.Dimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("创建向量化客户端失败: %w", err)
		}
		comp.Embedder = client
	}

	if store != nil {
		attachStorage(comp, store)
	}
	log.Info().
		Str("model", cfg.LLM.Model).
		Str("embedding_mode", string(mode)).
		Bool("vectors", comp.Vectors != nil).
		Bool("archive", comp.Archive != nil).
		Bool("cache", comp.Cache != nil).
		Msg("处理组件初始化完成")
	return comp, nil
}

// attachStorage 只接入可用的后端，避免把 nil 指针装进接口
func attachStorage(comp *Components, store *storage.Storage) {
	comp.Records = store.Records
	comp.Locker = store.Locker
	for kind, sink := range store.Rows {
		if comp.Rows == nil {
			comp.Rows = make(map[types.DocumentKind]storage.RowSink)
		}
		comp.Rows[kind] = sink
	}
	if store.Qdrant != nil {
		comp.Vectors = store.Qdrant
	}
	if store.MinIO != nil {
		comp.Archive = store.MinIO
	}
	if store.Redis != nil {
		comp.Cache = store.Redis
	}
}

// SettingsFromConfig 由配置生成编排设置
func SettingsFromConfig(cfg *config.Config) *Settings {
	mode, err := parser.ParseEmbeddingMode(cfg.Embedding.Mode)
	if err != nil {
		mode = parser.EmbedSections
	}
	return &Settings{
		Concurrency:       cfg.Pipeline.Concurrency,
		ExtractionTimeout: cfg.ExtractionTimeout(),
		EmbeddingTimeout:  cfg.EmbeddingTimeout(),
		StoreTimeout:      cfg.StoreTimeout(),
		EmbeddingMode:     mode,
	}
}
