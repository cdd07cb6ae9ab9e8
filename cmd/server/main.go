// Package main 是共享服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/handler"
	"github.com/suryanavv/BridgeSpace/internal/middleware"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"github.com/suryanavv/BridgeSpace/internal/notify"
	"github.com/suryanavv/BridgeSpace/internal/repository"
	"github.com/suryanavv/BridgeSpace/internal/service"
	"github.com/suryanavv/BridgeSpace/pkg/database"
	"github.com/suryanavv/BridgeSpace/pkg/iplookup"
	"github.com/suryanavv/BridgeSpace/pkg/kafka"
	"github.com/suryanavv/BridgeSpace/pkg/log"
	"github.com/suryanavv/BridgeSpace/pkg/storage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.SharedFile{}, &model.SharedText{}, &model.NetworkConnection{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	blobStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		log.Fatal("初始化对象存储失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Repository
	fileRepo := repository.NewFileRepository(database.DB, database.RDB)
	textRepo := repository.NewTextRepository(database.DB)
	connRepo := repository.NewConnectionRepository(database.DB, database.RDB)

	// 5. 初始化 Service (依赖注入)
	ipClient := iplookup.NewClient(cfg.IPLookup)
	scopeService := service.NewScopeService(ipClient, connRepo, cfg.IPLookup.PrefixSegments)
	shareService := service.NewShareService(fileRepo, textRepo, blobStore, producer, cfg.MinIO, cfg.Limits)
	uploadService := service.NewUploadService(shareService, producer, cfg.Limits)
	textService := service.NewTextService(shareService, cfg.Limits.MaxTextLength, 0)

	// 6. 初始化变更通知：Kafka 消费 → 突发合并 → WebSocket 订阅者
	hub := notify.NewHub()
	notifier := notify.NewNotifier(hub, textService, 0)
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, notifier)

	// 空间切换时先清理旧空间的文本会话，避免旧空间内容闪现
	scopeService.OnSwitch(func(oldScope, newScope string) {
		if oldScope != "" && oldScope != newScope {
			textService.Drop(oldScope)
		}
	})

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	spaceHandler := handler.NewSpaceHandler(scopeService, cfg.Limits)
	fileHandler := handler.NewFileHandler(shareService, uploadService)
	textHandler := handler.NewTextHandler(textService, shareService)
	eventsHandler := handler.NewEventsHandler(hub)

	apiV1 := r.Group("/api/v1")
	{
		space := apiV1.Group("/space")
		{
			space.POST("/resolve", spaceHandler.ResolveScope)
			space.POST("/switch", spaceHandler.SwitchScope)
		}
		apiV1.GET("/limits", spaceHandler.GetLimits)

		files := apiV1.Group("/files")
		{
			files.GET("", fileHandler.ListFiles)
			files.POST("", fileHandler.UploadFiles)
			files.DELETE("", fileHandler.DeleteAllFiles)
			files.DELETE("/:id", fileHandler.DeleteFile)
			files.GET("/:id/download", fileHandler.GenerateDownloadURL)
		}

		text := apiV1.Group("/text")
		{
			text.GET("", textHandler.GetText)
			text.PUT("", textHandler.PutText)
		}
	}
	r.GET("/ws/events", eventsHandler.Handle)

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	cancelConsumer()
	notifier.Close()
	if err := producer.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
