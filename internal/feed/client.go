package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	maxResponseBytes     = 4 << 20
	defaultClientTimeout = 15 * time.Second
)

var (
	// ErrFeedDisabled 表示未配置凭据，采集被关闭，不是故障
	ErrFeedDisabled = errors.New("feed: credential not configured")
	// ErrFetch 表示网络或上游错误，本轮放弃，下一轮整体重试
	ErrFetch = errors.New("feed: fetch failed")
)

// TopicsQuery 拉取新闻 topic 的 GraphQL 查询
const TopicsQuery = `query get_news_topics {
  topics(channel_id: "170000000000000000", order_by: "created_desc") {
    topic_id
    channel_tags
    title
    title_map
  }
}`

type graphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

// Client 带着凭据向 Sleeper GraphQL 端点发起一次查询
type Client struct {
	endpoint  string
	token     string
	query     string
	operation string
	http      *http.Client
	maxBody   int64
	log       logrus.FieldLogger
}

// NewClient 在构造时解析查询文档，语法错误在启动阶段暴露
func NewClient(endpoint, token, query string, timeout time.Duration, log logrus.FieldLogger) (*Client, error) {
	doc, perr := parser.ParseQuery(&ast.Source{Name: "topics", Input: query})
	if perr != nil {
		return nil, errors.Wrap(perr, "feed: parse query")
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("feed: query must contain exactly one operation, got %d", len(doc.Operations))
	}
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		endpoint:  endpoint,
		token:     token,
		query:     query,
		operation: doc.Operations[0].Name,
		http:      &http.Client{Timeout: timeout},
		maxBody:   maxResponseBytes,
		log:       log,
	}, nil
}

func (c *Client) Enabled() bool {
	return c.token != ""
}

// FetchTopics 执行一次查询并完成 schema 校验
func (c *Client) FetchTopics(ctx context.Context) ([]RawTopic, error) {
	if !c.Enabled() {
		return nil, ErrFeedDisabled
	}

	body, err := json.Marshal(graphQLRequest{
		OperationName: c.operation,
		Query:         c.query,
		Variables:     map[string]any{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "feed: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "feed: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrFetch, "post %s: %v", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrFetch, "unexpected status %d", resp.StatusCode)
	}

	// 多读一个字节用来判断是否超限，超限按传输错误处理而不是当作坏数据
	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.Wrapf(ErrFetch, "read body: %v", err)
	}
	if int64(len(payload)) > c.maxBody {
		return nil, errors.Wrapf(ErrFetch, "response too large (over %d bytes)", c.maxBody)
	}

	topics, err := DecodeTopics(payload)
	if err != nil {
		return nil, err
	}
	c.log.WithField("topics", len(topics)).Debug("feed fetched")
	return topics, nil
}
