package handler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/parser"
	"cv-extractor/internal/types"
)

// FolderFile 输入目录中的一个可处理文件
type FolderFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// FolderView 一个输入目录
type FolderView struct {
	Kind  types.DocumentKind `json:"kind"`
	Path  string             `json:"path"`
	Files []FolderFile       `json:"files"`
	Error string             `json:"error,omitempty"`
}

// SystemHandler 健康检查与输入目录浏览
type SystemHandler struct {
	cfg       *config.Config
	status    func() map[string]string
	startedAt time.Time
	logger    zerolog.Logger
}

// NewSystemHandler status 返回各存储后端状态，可以为 nil
func NewSystemHandler(cfg *config.Config, status func() map[string]string) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		status:    status,
		startedAt: time.Now(),
		logger:    logger.Component("api.system"),
	}
}

// HandleHealth 服务状态
func (h *SystemHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	backends := map[string]string{}
	if h.status != nil {
		backends = h.status()
	}
	c.JSON(consts.StatusOK, utils.H{
		"status":   "ok",
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
		"backends": backends,
	})
}

// HandleFolders 列出简历与岗位目录中可处理的文件
func (h *SystemHandler) HandleFolders(ctx context.Context, c *app.RequestContext) {
	views := make([]FolderView, 0, 2)
	for _, kind := range []types.DocumentKind{types.KindCV, types.KindRole} {
		views = append(views, h.folderView(kind))
	}
	c.JSON(consts.StatusOK, utils.H{"folders": views})
}

func (h *SystemHandler) folderView(kind types.DocumentKind) FolderView {
	view := FolderView{Kind: kind, Path: folderFor(h.cfg, kind), Files: []FolderFile{}}
	entries, err := os.ReadDir(view.Path)
	if err != nil {
		h.logger.Warn().Err(err).Str("folder", view.Path).Msg("读取输入目录失败")
		view.Error = err.Error()
		return view
	}
	for _, e := range entries {
		if e.IsDir() || !parser.SupportedFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		view.Files = append(view.Files, FolderFile{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	if abs, err := filepath.Abs(view.Path); err == nil {
		view.Path = abs
	}
	return view
}
