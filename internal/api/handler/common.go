package handler

import (
	"path/filepath"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"cv-extractor/internal/config"
	"cv-extractor/internal/types"
)

const maxListLimit = 100

func abortWithError(c *app.RequestContext, status int, msg string) {
	c.JSON(status, utils.H{"error": msg})
}

// kindFromQuery 读取 kind 参数，非法时直接返回 400
func kindFromQuery(c *app.RequestContext) (types.DocumentKind, bool) {
	kind, err := types.ParseKind(c.Query("kind"))
	if err != nil {
		abortWithError(c, consts.StatusBadRequest, err.Error())
		return "", false
	}
	return kind, true
}

// intQuery 解析正整数参数，超出范围时取边界
func intQuery(c *app.RequestContext, key string, def, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// folderFor 文档类型对应的输入目录
func folderFor(cfg *config.Config, kind types.DocumentKind) string {
	if kind == types.KindRole {
		return cfg.Folders.Roles
	}
	return cfg.Folders.Applicants
}

// exportName 导出文件名，与 CSV 输出文件同名
func exportName(cfg *config.Config, kind types.DocumentKind, ext string) string {
	path := cfg.Output.ApplicantsCSV
	if kind == types.KindRole {
		path = cfg.Output.RolesCSV
	}
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))] + ext
}
