package main

import (
	"os"

	"github.com/LJTian/FFNewsAlerts/internal/config"
	"github.com/LJTian/FFNewsAlerts/internal/feed"
	"github.com/LJTian/FFNewsAlerts/internal/logger"
	"github.com/LJTian/FFNewsAlerts/internal/scheduler"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

// 只执行一轮采集后退出：供外部定时器按固定间隔作为独立进程调用
func main() {
	config.LoadDotEnvs()
	log := logger.New("ingest")

	cfg, err := config.Load(log)
	if err != nil {
		log.WithError(err).Fatal("load config failed")
	}
	if !cfg.IngestionEnabled() {
		log.Info("SLEEPER_AUTH not set, ingestion disabled")
		return
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, cfg.SeenTTL, log)
	if err != nil {
		log.WithError(err).Fatal("init store failed")
	}

	source, err := feed.NewClient(cfg.FeedURL, cfg.SleeperAuth, feed.TopicsQuery, cfg.FeedTimeout, log)
	if err != nil {
		log.WithError(err).Fatal("init feed client failed")
	}

	ingest := scheduler.NewIngestor(source, store, cfg.IngestConcurrency, log)
	s, err := scheduler.New(cfg.IngestSpec, cfg.PublishSpec, ingest, nil, log)
	if err != nil {
		log.WithError(err).Fatal("init scheduler failed")
	}

	// 本轮失败以非零退出码返回，下一次调用整体重试
	if err := s.RunOnce(); err != nil {
		os.Exit(1)
	}
}
