package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/FFNewsAlerts/internal/api"
	"github.com/LJTian/FFNewsAlerts/internal/config"
	"github.com/LJTian/FFNewsAlerts/internal/feed"
	"github.com/LJTian/FFNewsAlerts/internal/logger"
	"github.com/LJTian/FFNewsAlerts/internal/notifier"
	"github.com/LJTian/FFNewsAlerts/internal/scheduler"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	config.LoadDotEnvs()
	log := logger.New("server")

	cfg, err := config.Load(log)
	if err != nil {
		log.WithError(err).Fatal("load config failed")
	}
	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, cfg.SeenTTL, log)
	if err != nil {
		log.WithError(err).Fatal("init store failed")
	}

	// 确保配置中的推送目标存在
	for _, url := range cfg.SlackWebhookURLs {
		code := storage.DestinationCode(url)
		if _, err := store.EnsureDestination(context.Background(), code, code, url); err != nil {
			log.WithError(err).WithField("destination", code).Fatal("ensure destination failed")
		}
	}

	source, err := feed.NewClient(cfg.FeedURL, cfg.SleeperAuth, feed.TopicsQuery, cfg.FeedTimeout, log)
	if err != nil {
		log.WithError(err).Fatal("init feed client failed")
	}

	ingest := scheduler.NewIngestor(source, store, cfg.IngestConcurrency, log)
	publish := scheduler.NewPublisher(store, notifier.NewSlackSink(store, log), log)

	s, err := scheduler.New(cfg.IngestSpec, cfg.PublishSpec, ingest, publish, log)
	if err != nil {
		log.WithError(err).Fatal("init scheduler failed")
	}
	s.Start()

	r := api.NewEngine(store, api.Options{
		FlyRegion:     cfg.FlyRegion,
		PrimaryRegion: cfg.PrimaryRegion,
		BasicAuthUser: cfg.BasicAuthUser,
		BasicAuthPass: cfg.BasicAuthPass,
	}, log)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		log.Infof("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server exit")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("api shutdown")
	}
	select {
	case <-s.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("scheduled jobs still running at shutdown")
	}
}
