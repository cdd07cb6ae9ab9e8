// Package main 是过期清理任务的入口点。
// 它被外部调度器（cron）按固定周期调用：执行一次清理后退出，
// 不需要任何参数或会话上下文。
package main

import (
	"context"

	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/repository"
	"github.com/suryanavv/BridgeSpace/internal/service"
	"github.com/suryanavv/BridgeSpace/pkg/database"
	"github.com/suryanavv/BridgeSpace/pkg/kafka"
	"github.com/suryanavv/BridgeSpace/pkg/log"
	"github.com/suryanavv/BridgeSpace/pkg/storage"
)

func main() {
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	blobStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		log.Fatal("初始化对象存储失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	fileRepo := repository.NewFileRepository(database.DB, database.RDB)
	textRepo := repository.NewTextRepository(database.DB)

	sweeper, err := service.NewSweepService(fileRepo, textRepo, blobStore, producer,
		cfg.MinIO, cfg.Limits, cfg.Sweeper.Timezone)
	if err != nil {
		log.Fatal("初始化清理任务失败", err)
	}

	// 清理过程中的任何单条失败都已在内部记录，这里不向调度器传播错误
	sweeper.Sweep(context.Background())
}
