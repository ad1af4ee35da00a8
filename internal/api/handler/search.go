package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

// QueryEmbedder 把检索语句向量化
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// SectionSearcher 片段向量检索
type SectionSearcher interface {
	Search(ctx context.Context, vector []float64, limit int, kind types.DocumentKind) ([]storage.SectionHit, error)
}

var _ SectionSearcher = (*storage.Qdrant)(nil)

// SearchHandler 按语义检索片段
type SearchHandler struct {
	embedder     QueryEmbedder
	index        SectionSearcher
	defaultLimit int
	logger       zerolog.Logger
}

// NewSearchHandler embedder 或 index 为 nil 时检索接口返回 503
func NewSearchHandler(embedder QueryEmbedder, index SectionSearcher, defaultLimit int) *SearchHandler {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &SearchHandler{
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultLimit,
		logger:       logger.Component("api.search"),
	}
}

// HandleSearch GET /search?q=...&kind=cv&limit=10，kind 省略时检索全部类型
func (h *SearchHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		abortWithError(c, consts.StatusBadRequest, "检索内容 q 不能为空")
		return
	}
	if h.embedder == nil || h.index == nil {
		abortWithError(c, consts.StatusServiceUnavailable, "未配置向量化或向量库")
		return
	}
	var kind types.DocumentKind
	if c.Query("kind") != "" {
		var ok bool
		if kind, ok = kindFromQuery(c); !ok {
			return
		}
	}
	limit := intQuery(c, "limit", h.defaultLimit, maxListLimit)

	vector, err := h.embedder.Embed(ctx, query)
	if err != nil {
		h.logger.Error().Err(err).Msg("检索语句向量化失败")
		abortWithError(c, consts.StatusBadGateway, "检索语句向量化失败")
		return
	}
	hits, err := h.index.Search(ctx, vector, limit, kind)
	if err != nil {
		h.logger.Error().Err(err).Msg("向量检索失败")
		abortWithError(c, consts.StatusServiceUnavailable, "向量检索失败")
		return
	}
	if hits == nil {
		hits = []storage.SectionHit{}
	}
	h.logger.Debug().Str("kind", string(kind)).Int("hits", len(hits)).Msg("检索完成")
	c.JSON(consts.StatusOK, utils.H{
		"query": query,
		"count": len(hits),
		"hits":  hits,
	})
}
