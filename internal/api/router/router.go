package router

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"cv-extractor/internal/api/handler"
)

const (
	apiPrefix  = "/api/v1"
	healthPath = apiPrefix + "/health"
)

var errInvalidAPIKey = errors.New("API Key 无效")

// Handlers 路由用到的全部处理器
type Handlers struct {
	System  *handler.SystemHandler
	Runs    *handler.RunHandler
	Records *handler.RecordHandler
	Search  *handler.SearchHandler
}

// RegisterRoutes 注册 API 路由。apiKey 非空时除健康检查外都需要 Bearer 鉴权。
func RegisterRoutes(h *server.Hertz, handlers Handlers, apiKey string) {
	api := h.Group(apiPrefix)
	if apiKey != "" {
		api.Use(apiKeyAuth(apiKey))
	}

	api.GET("/health", handlers.System.HandleHealth)
	api.GET("/folders", handlers.System.HandleFolders)

	api.POST("/runs", handlers.Runs.HandleStart)
	api.GET("/runs", handlers.Runs.HandleList)
	api.GET("/runs/:id", handlers.Runs.HandleGet)
	api.DELETE("/runs/:id", handlers.Runs.HandleCancel)

	api.GET("/records", handlers.Records.HandleList)
	api.GET("/records/:id", handlers.Records.HandleGet)
	api.GET("/records/:id/original", handlers.Records.HandleOriginal)
	api.GET("/export", handlers.Records.HandleExport)

	api.GET("/search", handlers.Search.HandleSearch)
}

func apiKeyAuth(apiKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithFilter(func(c context.Context, ctx *app.RequestContext) bool {
			return string(ctx.Path()) == healthPath
		}),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
				return true, nil
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			msg := "缺少 API Key"
			if errors.Is(err, errInvalidAPIKey) {
				msg = err.Error()
			}
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": msg})
		}),
	)
}
