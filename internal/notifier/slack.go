package notifier

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

const (
	attachmentColor = "#1da1f2"
	// Slack 单条消息最多接受 100 个 attachment
	maxAttachments = 100
)

// ErrDispatch 表示某个目标拒绝或未能接收本批消息
var ErrDispatch = errors.New("notifier: dispatch failed")

// Notification 对应一条新闻：标题是署名，正文是描述
type Notification struct {
	Title string
	URL   string
	Body  string
}

type Destination struct {
	Code       string
	Name       string
	WebhookURL string
}

type DestinationSource interface {
	ListDestinations(ctx context.Context, activeOnly bool) ([]storage.Destination, error)
}

// SlackSink 把整批通知作为 incoming webhook 消息发出，超过上限时按顺序拆成多条
type SlackSink struct {
	source DestinationSource
	log    logrus.FieldLogger
}

func NewSlackSink(source DestinationSource, log logrus.FieldLogger) *SlackSink {
	return &SlackSink{source: source, log: log}
}

// ListDestinations 返回当前所有启用的目标
func (s *SlackSink) ListDestinations(ctx context.Context) ([]Destination, error) {
	rows, err := s.source.ListDestinations(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]Destination, 0, len(rows))
	for _, r := range rows {
		if r.WebhookURL == "" {
			continue
		}
		out = append(out, Destination{Code: r.Code, Name: r.Name, WebhookURL: r.WebhookURL})
	}
	return out, nil
}

func (s *SlackSink) Dispatch(ctx context.Context, d Destination, batch []Notification) error {
	if len(batch) == 0 {
		return nil
	}
	for start := 0; start < len(batch); start += maxAttachments {
		end := min(start+maxAttachments, len(batch))
		if err := slack.PostWebhookContext(ctx, d.WebhookURL, BuildMessage(batch[start:end])); err != nil {
			return errors.Wrapf(ErrDispatch, "%s: notifications %d-%d: %v", d.Code, start, end-1, err)
		}
	}
	s.log.WithFields(logrus.Fields{"destination": d.Code, "notifications": len(batch)}).Debug("batch dispatched")
	return nil
}

// BuildMessage 每条通知对应一个 attachment
func BuildMessage(batch []Notification) *slack.WebhookMessage {
	attachments := make([]slack.Attachment, 0, len(batch))
	for _, n := range batch {
		attachments = append(attachments, slack.Attachment{
			Color:     attachmentColor,
			Title:     n.Title,
			TitleLink: n.URL,
			Text:      n.Body,
			Fallback:  n.Body,
		})
	}
	return &slack.WebhookMessage{Attachments: attachments}
}
