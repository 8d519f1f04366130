package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint, token string) *Client {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	c, err := NewClient(endpoint, token, TopicsQuery, time.Second, log)
	require.NoError(t, err)
	return c
}

func TestFetchTopicsSendsCredentialAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "secret-token", r.Header.Get("Authorization"))

		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "get_news_topics", req.OperationName)
		require.Equal(t, TopicsQuery, req.Query)

		_, _ = w.Write([]byte(`{"data":{"topics":[{"topic_id":"9","channel_tags":["trade"],"title":"t","title_map":{}}]}}`))
	}))
	defer srv.Close()

	topics, err := newTestClient(t, srv.URL, "secret-token").FetchTopics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "9", topics[0].TopicID)
}

func TestFetchTopicsWithoutCredentialIsDisabled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	require.False(t, c.Enabled())

	_, err := c.FetchTopics(context.Background())
	require.True(t, errors.Is(err, ErrFeedDisabled))
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchTopicsNon200IsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "token").FetchTopics(context.Background())
	require.True(t, errors.Is(err, ErrFetch))
}

func TestFetchTopicsUnreachableIsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, "token").FetchTopics(context.Background())
	require.True(t, errors.Is(err, ErrFetch))
}

func TestFetchTopicsMalformedPayloadIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"topics":[{"topic_id":1}]}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "token").FetchTopics(context.Background())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestFetchTopicsOversizedBodyIsFetchFailure(t *testing.T) {
	payload := []byte(`{"data":{"topics":[]}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "token")
	c.maxBody = int64(len(payload)) - 1
	_, err := c.FetchTopics(context.Background())
	require.True(t, errors.Is(err, ErrFetch))
	require.Contains(t, err.Error(), "response too large")
	var verr *ValidationError
	require.False(t, errors.As(err, &verr))

	// 恰好等于上限时正常解析
	c.maxBody = int64(len(payload))
	topics, err := c.FetchTopics(context.Background())
	require.NoError(t, err)
	require.Empty(t, topics)
}

func TestNewClientRejectsBrokenQuery(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	_, err := NewClient("http://localhost", "token", "query { topics {", time.Second, log)
	require.Error(t, err)
}
