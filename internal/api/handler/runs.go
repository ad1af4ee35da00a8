package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/processor"
	"cv-extractor/internal/types"
)

// StartRunRequest 启动批处理的请求体
type StartRunRequest struct {
	Kind string `json:"kind"`
	// Files 只处理目录中的这些文件名，为空时处理整个目录
	Files []string `json:"files,omitempty"`
}

// RunHandler 批处理任务的启动、查询与取消
type RunHandler struct {
	cfg    *config.Config
	runs   *processor.RunManager
	logger zerolog.Logger
}

// NewRunHandler 创建任务处理器
func NewRunHandler(cfg *config.Config, runs *processor.RunManager) *RunHandler {
	return &RunHandler{
		cfg:    cfg,
		runs:   runs,
		logger: logger.Component("api.runs"),
	}
}

// HandleStart 对配置的输入目录启动一次批处理
func (h *RunHandler) HandleStart(ctx context.Context, c *app.RequestContext) {
	var req StartRunRequest
	if body := c.Request.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			abortWithError(c, consts.StatusBadRequest, "请求体不是合法的JSON")
			return
		}
	}
	kind, err := types.ParseKind(req.Kind)
	if err != nil {
		abortWithError(c, consts.StatusBadRequest, err.Error())
		return
	}

	folder := folderFor(h.cfg, kind)
	files, err := processor.ListFiles(folder)
	if err != nil {
		h.logger.Warn().Err(err).Str("folder", folder).Msg("读取输入目录失败")
		abortWithError(c, consts.StatusBadRequest, fmt.Sprintf("无法读取输入目录 %s", folder))
		return
	}
	if len(req.Files) > 0 {
		if files, err = selectFiles(files, req.Files); err != nil {
			abortWithError(c, consts.StatusBadRequest, err.Error())
			return
		}
	}

	info, err := h.runs.Start(ctx, kind, folder, files)
	if errors.Is(err, processor.ErrRunActive) {
		c.JSON(consts.StatusConflict, utils.H{
			"error":  "该类型已有任务在运行",
			"run_id": processor.ActiveRunID(err),
		})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("启动任务失败")
		abortWithError(c, consts.StatusInternalServerError, "启动任务失败")
		return
	}
	c.JSON(consts.StatusAccepted, info)
}

// selectFiles 按文件名从目录列表中挑选，未知文件名返回错误
func selectFiles(all []string, names []string) ([]string, error) {
	byName := make(map[string]string, len(all))
	for _, p := range all {
		byName[filepath.Base(p)] = p
	}
	out := make([]string, 0, len(names))
	var unknown []string
	for _, n := range names {
		p, ok := byName[filepath.Base(n)]
		if !ok || filepath.Base(n) != n {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, p)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("目录中没有这些文件: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// HandleList 全部任务
func (h *RunHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"runs": h.runs.List()})
}

// HandleGet 任务进度与结果
func (h *RunHandler) HandleGet(ctx context.Context, c *app.RequestContext) {
	info, err := h.runs.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, consts.StatusNotFound, err.Error())
		return
	}
	c.JSON(consts.StatusOK, info)
}

// HandleCancel 取消任务，已开始的文件会继续完成
func (h *RunHandler) HandleCancel(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.runs.Cancel(id); err != nil {
		abortWithError(c, consts.StatusNotFound, err.Error())
		return
	}
	info, err := h.runs.Get(id)
	if err != nil {
		abortWithError(c, consts.StatusNotFound, err.Error())
		return
	}
	c.JSON(consts.StatusAccepted, info)
}
