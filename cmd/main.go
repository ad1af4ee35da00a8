package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"cv-extractor/internal/api/handler"
	"cv-extractor/internal/api/router"
	"cv-extractor/internal/config"
	appCoreLogger "cv-extractor/internal/logger"
	"cv-extractor/internal/outbox"
	"cv-extractor/internal/processor"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/tracing"
)

var (
	version     = "1.0.0"        //nolint:gochecknoglobals
	serviceName = "cv-extractor" //nolint:gochecknoglobals
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath  string
		writeSample string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时查找默认位置")
	pflag.StringVar(&writeSample, "write-sample-config", "", "写出示例配置到该路径后退出")
	pflag.Parse()

	if writeSample != "" {
		if err := config.CreateSampleConfig(writeSample); err != nil {
			glog.Fatalf("写出示例配置失败: %v", err)
		}
		glog.Infof("示例配置已写入 %s", writeSample)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg)
	glog.Infof("配置加载成功, version=%s", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = serviceName
	}
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	var messageRelay *outbox.MessageRelay
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ,
			outbox.WithInterval(config.GetDuration(cfg.RabbitMQ.RelayInterval, 0)))
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	comp, err := processor.NewComponents(ctx, cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化处理组件失败: %v", err)
	}
	orch, err := processor.NewBatchOrchestrator(comp, processor.SettingsFromConfig(cfg))
	if err != nil {
		glog.Fatalf("初始化批处理编排器失败: %v", err)
	}
	runs := processor.NewRunManager(orch)
	glog.Info("批处理编排器初始化成功")

	// 避免把 nil 指针装进接口
	var (
		queryEmbedder handler.QueryEmbedder
		searcher      handler.SectionSearcher
	)
	if comp.Embedder != nil {
		queryEmbedder = comp.Embedder
	}
	if storageManager.Qdrant != nil {
		searcher = storageManager.Qdrant
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s -> %d (%s)", string(ctx.Method()), string(ctx.Path()),
			ctx.Response.StatusCode(), time.Since(start).Round(time.Millisecond))
	})

	router.RegisterRoutes(h, router.Handlers{
		System:  handler.NewSystemHandler(cfg, storageManager.Status),
		Runs:    handler.NewRunHandler(cfg, runs),
		Records: handler.NewRecordHandler(cfg, storageManager),
		Search:  handler.NewSearchHandler(queryEmbedder, searcher, cfg.Qdrant.DefaultSearchLimit),
	}, cfg.Server.APIKey)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	// 已开始的文件会处理完
	runs.CancelAll(shutdownCtx)
	glog.Info("批处理任务已停止")

	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Warnf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg *config.Config) {
	appCoreLogger.Init(appCoreLogger.FromAppConfig(cfg.Logger))

	// hertz 的日志也走 zerolog
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
