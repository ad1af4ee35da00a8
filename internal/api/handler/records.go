package handler

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/types"
)

const (
	sourceCSV   = "csv"
	sourceStore = "store"

	presignExpiry = 15 * time.Minute

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ObjectSigner 生成归档对象的下载地址
type ObjectSigner interface {
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// RecordHandler 记录列表、详情、导出与原文件下载
type RecordHandler struct {
	cfg     *config.Config
	records storage.RecordStore
	rows    map[types.DocumentKind]storage.RowSink
	signer  ObjectSigner
	logger  zerolog.Logger
}

// NewRecordHandler 从存储聚合中取出需要的部分
func NewRecordHandler(cfg *config.Config, store *storage.Storage) *RecordHandler {
	h := &RecordHandler{
		cfg:     cfg,
		records: store.Records,
		rows:    make(map[types.DocumentKind]storage.RowSink, len(store.Rows)),
		logger:  logger.Component("api.records"),
	}
	for kind, sink := range store.Rows {
		h.rows[kind] = sink
	}
	if store.MinIO != nil {
		h.signer = store.MinIO
	}
	return h
}

// loadRows 默认读 CSV 输出(含失败行)，没有 CSV 或指定 source=store 时读记录存储
func (h *RecordHandler) loadRows(ctx context.Context, c *app.RequestContext, kind types.DocumentKind) ([]types.Row, string, error) {
	sink, hasSink := h.rows[kind]
	if hasSink && c.Query("source") != sourceStore {
		return sink.Rows(), sourceCSV, nil
	}
	recs, err := h.records.List(ctx, kind)
	if err != nil {
		if hasSink {
			h.logger.Warn().Err(err).Msg("记录存储不可用，改用CSV")
			return sink.Rows(), sourceCSV, nil
		}
		return nil, sourceStore, err
	}
	rows := make([]types.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, types.RowFromRecord(rec))
	}
	return rows, sourceStore, nil
}

// HandleList 某类文档的全部行
func (h *RecordHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	kind, ok := kindFromQuery(c)
	if !ok {
		return
	}
	rows, source, err := h.loadRows(ctx, c, kind)
	if err != nil {
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("读取记录失败")
		abortWithError(c, consts.StatusServiceUnavailable, "记录存储不可用")
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"kind":    kind,
		"source":  source,
		"count":   len(rows),
		"columns": types.RowHeader(types.SchemaFor(kind), h.cfg.Output.PrefixedHeaders),
		"rows":    rows,
	})
}

// HandleGet 单条记录，包含片段
func (h *RecordHandler) HandleGet(ctx context.Context, c *app.RequestContext) {
	kind, ok := kindFromQuery(c)
	if !ok {
		return
	}
	rec, ok := h.getRecord(ctx, c, kind)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, rec)
}

func (h *RecordHandler) getRecord(ctx context.Context, c *app.RequestContext, kind types.DocumentKind) (*types.Record, bool) {
	id := c.Param("id")
	rec, found, err := h.records.Get(ctx, kind, id)
	if err != nil {
		h.logger.Error().Err(err).Str("content_id", id).Msg("读取记录失败")
		abortWithError(c, consts.StatusServiceUnavailable, "记录存储不可用")
		return nil, false
	}
	if !found {
		abortWithError(c, consts.StatusNotFound, fmt.Sprintf("记录 %s 不存在", id))
		return nil, false
	}
	return rec, true
}

// HandleOriginal 归档原文件的临时下载地址
func (h *RecordHandler) HandleOriginal(ctx context.Context, c *app.RequestContext) {
	if h.signer == nil {
		abortWithError(c, consts.StatusServiceUnavailable, "未配置对象存储")
		return
	}
	kind, ok := kindFromQuery(c)
	if !ok {
		return
	}
	rec, ok := h.getRecord(ctx, c, kind)
	if !ok {
		return
	}
	object := storage.ObjectPrefix(kind, rec.ContentID) + "/original" + strings.ToLower(filepath.Ext(rec.SourceFilename))
	url, err := h.signer.GetPresignedURL(ctx, object, presignExpiry)
	if err != nil {
		h.logger.Error().Err(err).Str("object", object).Msg("生成下载地址失败")
		abortWithError(c, consts.StatusBadGateway, "生成下载地址失败")
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"url":        url,
		"expires_in": int(presignExpiry.Seconds()),
	})
}

// HandleExport 导出 CSV 或 XLSX
func (h *RecordHandler) HandleExport(ctx context.Context, c *app.RequestContext) {
	kind, ok := kindFromQuery(c)
	if !ok {
		return
	}
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "xlsx" {
		abortWithError(c, consts.StatusBadRequest, fmt.Sprintf("不支持的导出格式: %s", format))
		return
	}
	rows, _, err := h.loadRows(ctx, c, kind)
	if err != nil {
		abortWithError(c, consts.StatusServiceUnavailable, "记录存储不可用")
		return
	}

	prefixed := h.cfg.Output.PrefixedHeaders
	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = storage.ExportRowsXLSX(kind, rows, prefixed)
		contentType = xlsxContentType
	default:
		var buf bytes.Buffer
		err = storage.WriteRowsCSV(&buf, kind, rows, prefixed)
		data = buf.Bytes()
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		h.logger.Error().Err(err).Str("format", format).Msg("导出失败")
		abortWithError(c, consts.StatusInternalServerError, "导出失败")
		return
	}

	h.logger.Info().Str("kind", string(kind)).Str("format", format).Int("rows", len(rows)).Msg("导出完成")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, exportName(h.cfg, kind, "."+format)))
	c.Data(consts.StatusOK, contentType, data)
}
