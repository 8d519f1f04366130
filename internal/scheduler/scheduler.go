package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/FFNewsAlerts/internal/feed"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

const (
	ingestTimeout  = 50 * time.Second
	publishTimeout = 25 * time.Second
)

// Scheduler 把采集与发布两个互不协调的周期任务挂在同一个 cron 上，
// 同一种任务上一轮未结束时跳过本轮
type Scheduler struct {
	cron    *cron.Cron
	ingest  *Ingestor
	publish *Publisher
	log     logrus.FieldLogger

	// 定时触发与启动后的首轮共用同一个包装，彼此也会跳过
	ingestJob    cron.Job
	startupDelay time.Duration

	mu        sync.Mutex
	startup   *time.Timer
	startupWG sync.WaitGroup
}

func New(ingestSpec, publishSpec string, ingest *Ingestor, publish *Publisher, log logrus.FieldLogger) (*Scheduler, error) {
	cronLog := cron.PrintfLogger(log)
	c := cron.New(cron.WithLogger(cronLog))
	chain := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))

	s := &Scheduler{
		cron:    c,
		ingest:  ingest,
		publish: publish,
		log:     log,
		// 延迟执行首轮采集，避开启动时的数据库迁移与连接预热
		startupDelay: 5 * time.Second,
	}
	s.ingestJob = chain.Then(cron.FuncJob(s.runIngest))

	if _, err := c.AddJob(ingestSpec, s.ingestJob); err != nil {
		return nil, errors.Wrapf(err, "ingest spec %q", ingestSpec)
	}
	if publish != nil {
		if _, err := c.AddJob(publishSpec, chain.Then(cron.FuncJob(s.runPublish))); err != nil {
			return nil, errors.Wrapf(err, "publish spec %q", publishSpec)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startupWG.Add(1)
	s.startup = time.AfterFunc(s.startupDelay, func() {
		defer s.startupWG.Done()
		s.ingestJob.Run()
	})
}

// Stop 停止调度并取消尚未触发的首轮采集；
// 返回的 context 在所有正在执行的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	if s.startup != nil && s.startup.Stop() {
		s.startupWG.Done()
	}
	s.startup = nil
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.startupWG.Wait()
		cancel()
	}()
	return ctx
}

// RunOnce 对外暴露的单次采集入口，返回本轮错误
func (s *Scheduler) RunOnce() error {
	return s.ingestOnce()
}

func (s *Scheduler) runIngest() {
	_ = s.ingestOnce()
}

func (s *Scheduler) ingestOnce() error {
	log := s.log.WithFields(logrus.Fields{"job": "ingest", "run_id": uuid.NewString()})
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	start := time.Now()
	stats, err := s.ingest.Run(ctx)
	log = log.WithFields(logrus.Fields{
		"fetched":  stats.Fetched,
		"skipped":  stats.Skipped,
		"upserted": stats.Upserted,
		"inserted": stats.Inserted,
		"took":     time.Since(start).String(),
	})
	logRunError(log, err)
	if err == nil {
		log.Info("ingest run done")
	}
	return err
}

func (s *Scheduler) runPublish() {
	log := s.log.WithFields(logrus.Fields{"job": "publish", "run_id": uuid.NewString()})
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	stats, err := s.publish.Run(ctx)
	logRunError(log, err)
	if err == nil && stats.Records > 0 {
		log.WithFields(logrus.Fields{
			"records":      stats.Records,
			"destinations": stats.Destinations,
			"failed":       stats.Failed,
			"marked":       stats.Marked,
		}).Info("publish run done")
	}
}

// logRunError 按错误种类选择日志级别；错误不会越过本轮
func logRunError(log logrus.FieldLogger, err error) {
	if err == nil {
		return
	}
	var verr *feed.ValidationError
	switch {
	case errors.As(err, &verr):
		log.WithField("paths", verr.Paths).Error("feed payload rejected, run aborted")
	case errors.Is(err, feed.ErrFetch):
		log.WithError(err).Warn("feed fetch failed, run aborted")
	case errors.Is(err, storage.ErrStore):
		log.WithError(err).Error("store failure, run aborted")
	default:
		log.WithError(err).Error("run failed")
	}
}
