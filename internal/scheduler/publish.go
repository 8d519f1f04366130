package scheduler

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LJTian/FFNewsAlerts/internal/notifier"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

type PublishStore interface {
	FindUnpublished(ctx context.Context) ([]storage.News, error)
	MarkPublished(ctx context.Context, ids []string) (int64, error)
}

type Sink interface {
	ListDestinations(ctx context.Context) ([]notifier.Destination, error)
	Dispatch(ctx context.Context, d notifier.Destination, batch []notifier.Notification) error
}

type PublishStats struct {
	Records      int
	Destinations int
	Failed       int
	Marked       int64
}

// Publisher 每轮把所有未发布记录打成一批，每个目标只发一次
type Publisher struct {
	store PublishStore
	sink  Sink
	log   logrus.FieldLogger
}

func NewPublisher(store PublishStore, sink Sink, log logrus.FieldLogger) *Publisher {
	return &Publisher{store: store, sink: sink, log: log}
}

// Run 在所有目标都尝试发送之后无条件标记已发布：单个目标失败只记日志，
// 其余目标不会在下一轮重复收到（at-least-once 仅针对进程在标记前崩溃的情况）。
func (p *Publisher) Run(ctx context.Context) (PublishStats, error) {
	var stats PublishStats

	pending, err := p.store.FindUnpublished(ctx)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}
	stats.Records = len(pending)

	batch := make([]notifier.Notification, 0, len(pending))
	ids := make([]string, 0, len(pending))
	for _, n := range pending {
		batch = append(batch, notifier.Notification{Title: n.Author, URL: n.URL, Body: n.Description})
		ids = append(ids, n.NewsIdentifier)
	}

	// 目标列表拿不到时什么都没发出，保持未发布，下一轮重试
	dests, err := p.sink.ListDestinations(ctx)
	if err != nil {
		return stats, err
	}
	stats.Destinations = len(dests)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, d := range dests {
		dest := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.sink.Dispatch(ctx, dest, batch); err != nil {
				p.log.WithError(err).WithField("destination", dest.Code).Warn("dispatch failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	stats.Failed = failed

	marked, err := p.store.MarkPublished(ctx, ids)
	stats.Marked = marked
	return stats, err
}
