package scheduler

import (
	"context"
	"sync"

	"github.com/LJTian/FFNewsAlerts/internal/feed"
	"github.com/LJTian/FFNewsAlerts/internal/notifier"
	"github.com/LJTian/FFNewsAlerts/internal/processor"
	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

type stubSource struct {
	payload []byte
	err     error
	calls   int
}

func (s *stubSource) FetchTopics(context.Context) ([]feed.RawTopic, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return feed.DecodeTopics(s.payload)
}

// memStore 模拟唯一索引 + 空更新的 upsert 语义
type memStore struct {
	mu        sync.Mutex
	rows      []storage.News
	upserts   int
	writes    int
	upsertErr error
	findErr   error
}

func (m *memStore) UpsertNews(_ context.Context, rec processor.NewsRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	for _, r := range m.rows {
		if r.NewsIdentifier == rec.NewsIdentifier {
			return false, nil
		}
	}
	m.writes++
	m.rows = append(m.rows, storage.News{
		ID:             uint(len(m.rows) + 1),
		NewsIdentifier: rec.NewsIdentifier,
		Title:          rec.Title,
		Description:    rec.Description,
		URL:            rec.URL,
		Author:         rec.Author,
	})
	return true, nil
}

func (m *memStore) FindUnpublished(context.Context) ([]storage.News, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []storage.News
	for _, r := range m.rows {
		if !r.IsPublished {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkPublished(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range m.rows {
		if want[m.rows[i].NewsIdentifier] && !m.rows[i].IsPublished {
			m.rows[i].IsPublished = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) byID(id string) (storage.News, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.NewsIdentifier == id {
			return r, true
		}
	}
	return storage.News{}, false
}

type dispatchCall struct {
	dest  string
	batch []notifier.Notification
}

type stubSink struct {
	mu       sync.Mutex
	dests    []notifier.Destination
	listErr  error
	failFor  map[string]error
	dispatch []dispatchCall
}

func (s *stubSink) ListDestinations(context.Context) ([]notifier.Destination, error) {
	return s.dests, s.listErr
}

func (s *stubSink) Dispatch(_ context.Context, d notifier.Destination, batch []notifier.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = append(s.dispatch, dispatchCall{dest: d.Code, batch: batch})
	return s.failFor[d.Code]
}
