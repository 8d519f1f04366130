package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LJTian/FFNewsAlerts/internal/feed"
	"github.com/LJTian/FFNewsAlerts/internal/processor"
)

type TopicSource interface {
	FetchTopics(ctx context.Context) ([]feed.RawTopic, error)
}

type NewsUpserter interface {
	UpsertNews(ctx context.Context, rec processor.NewsRecord) (bool, error)
}

type IngestStats struct {
	Fetched  int
	Skipped  int
	Upserted int
	Inserted int
}

// Ingestor 执行一轮：拉取 -> 校验 -> 归一化 -> 并发写入，写入全部完成后才返回
type Ingestor struct {
	source      TopicSource
	store       NewsUpserter
	processor   *processor.Processor
	concurrency int
	log         logrus.FieldLogger
}

func NewIngestor(source TopicSource, store NewsUpserter, concurrency int, log logrus.FieldLogger) *Ingestor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Ingestor{
		source:      source,
		store:       store,
		processor:   processor.New(),
		concurrency: concurrency,
		log:         log,
	}
}

// Run 未配置凭据时直接返回 nil；拉取或校验失败时整轮放弃，不做任何写入
func (j *Ingestor) Run(ctx context.Context) (IngestStats, error) {
	var stats IngestStats

	topics, err := j.source.FetchTopics(ctx)
	if errors.Is(err, feed.ErrFeedDisabled) {
		j.log.Info("ingestion disabled, no feed credential configured")
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(topics)

	records, skipped := j.processor.Process(topics)
	stats.Skipped = skipped
	if len(records) == 0 {
		return stats, nil
	}

	var inserted, upserted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			created, err := j.store.UpsertNews(gctx, rec)
			if err != nil {
				return err
			}
			atomic.AddInt64(&upserted, 1)
			if created {
				atomic.AddInt64(&inserted, 1)
			}
			return nil
		})
	}
	err = g.Wait()
	stats.Upserted = int(upserted)
	stats.Inserted = int(inserted)
	return stats, err
}
