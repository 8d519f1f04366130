package scheduler

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/FFNewsAlerts/internal/notifier"
	"github.com/LJTian/FFNewsAlerts/internal/processor"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

func seededStore(t *testing.T, ids ...string) *memStore {
	t.Helper()
	store := &memStore{}
	for _, id := range ids {
		_, err := store.UpsertNews(context.Background(), processor.NewsRecord{
			NewsIdentifier: id,
			Description:    "desc " + id,
			Author:         "@" + id,
			URL:            "https://x.example/" + id,
		})
		require.NoError(t, err)
	}
	store.writes = 0
	return store
}

func newPublisher(store PublishStore, sink Sink) *Publisher {
	log, _ := logtest.NewNullLogger()
	return NewPublisher(store, sink, log)
}

func dests(codes ...string) []notifier.Destination {
	out := make([]notifier.Destination, 0, len(codes))
	for _, c := range codes {
		out = append(out, notifier.Destination{Code: c, WebhookURL: "https://hooks.example/" + c})
	}
	return out
}

func TestPublishOneDispatchPerDestination(t *testing.T) {
	store := seededStore(t, "a", "b", "c", "d")
	sink := &stubSink{dests: dests("x", "y", "z")}

	stats, err := newPublisher(store, sink).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PublishStats{Records: 4, Destinations: 3, Marked: 4}, stats)

	require.Len(t, sink.dispatch, 3)
	for _, call := range sink.dispatch {
		require.Len(t, call.batch, 4)
	}
	require.Equal(t, 1, store.writes)

	pending, _ := store.FindUnpublished(context.Background())
	require.Empty(t, pending)
}

func TestPublishNotificationShape(t *testing.T) {
	store := seededStore(t, "a")
	sink := &stubSink{dests: dests("x")}

	_, err := newPublisher(store, sink).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []notifier.Notification{{Title: "@a", URL: "https://x.example/a", Body: "desc a"}}, sink.dispatch[0].batch)
}

func TestPublishNothingPendingMakesNoCalls(t *testing.T) {
	store := &memStore{}
	sink := &stubSink{dests: dests("x", "y")}

	stats, err := newPublisher(store, sink).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PublishStats{}, stats)
	require.Empty(t, sink.dispatch)
	require.Zero(t, store.writes)
}

func TestPublishMarksEvenWhenOneDestinationFails(t *testing.T) {
	store := seededStore(t, "a", "b")
	sink := &stubSink{
		dests:   dests("x", "y"),
		failFor: map[string]error{"y": errors.Wrap(notifier.ErrDispatch, "403")},
	}

	stats, err := newPublisher(store, sink).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, int64(2), stats.Marked)
	require.Len(t, sink.dispatch, 2)
}

func TestPublishDestinationListFailureLeavesRecordsPending(t *testing.T) {
	store := seededStore(t, "a")
	sink := &stubSink{listErr: errors.Wrap(storage.ErrStore, "db down")}

	_, err := newPublisher(store, sink).Run(context.Background())
	require.True(t, errors.Is(err, storage.ErrStore))
	require.Zero(t, store.writes)

	pending, _ := store.FindUnpublished(context.Background())
	require.Len(t, pending, 1)
}

func TestPublishedRecordsAreNotRedispatched(t *testing.T) {
	store := seededStore(t, "a")
	sink := &stubSink{dests: dests("x")}
	p := newPublisher(store, sink)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// 新记录只会出现在下一批里，已发布的不会再出现
	_, err = store.UpsertNews(context.Background(), processor.NewsRecord{NewsIdentifier: "b"})
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.dispatch, 2)
	require.Len(t, sink.dispatch[1].batch, 1)

	rec, _ := store.byID("a")
	require.True(t, rec.IsPublished)
}

func TestPublishStoreReadFailure(t *testing.T) {
	store := &memStore{findErr: errors.Wrap(storage.ErrStore, "db down")}
	sink := &stubSink{dests: dests("x")}

	_, err := newPublisher(store, sink).Run(context.Background())
	require.True(t, errors.Is(err, storage.ErrStore))
	require.Empty(t, sink.dispatch)
}
