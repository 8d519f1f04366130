package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LJTian/FFNewsAlerts/internal/processor"
)

// dryRunDB 只生成 SQL 不执行，也不会建立连接。
// 默认事务会在 DryRun 下仍然 Begin() 去连库，所以必须关掉。
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=test password=test dbname=test port=5432 sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db
}

func TestUpsertNewsIsInsertOrNothing(t *testing.T) {
	db := dryRunDB(t)
	n := newsFromRecord(processor.NewsRecord{NewsIdentifier: "topic-1", Title: "T", Description: "D"})

	tx := upsertNews(db, n)
	require.NoError(t, tx.Error)
	sql := tx.Statement.SQL.String()

	require.True(t, strings.HasPrefix(sql, `INSERT INTO "news"`), sql)
	require.Contains(t, sql, "ON CONFLICT")
	require.Contains(t, sql, `"news_identifier"`)
	require.Contains(t, sql, "DO NOTHING")
	require.NotContains(t, sql, "DO UPDATE")
}

func TestMarkPublishedOnlyLatchesForward(t *testing.T) {
	db := dryRunDB(t)

	tx := markPublished(db, []string{"a", "b"})
	require.NoError(t, tx.Error)
	stmt := tx.Statement
	sql := stmt.SQL.String()

	require.True(t, strings.HasPrefix(sql, `UPDATE "news" SET "is_published"=`), sql)
	require.Contains(t, sql, "news_identifier IN")
	require.Equal(t, true, stmt.Vars[0])
}

func TestMarkPublishedWithNoIdsIsNoop(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	s := New(dryRunDB(t), nil, time.Hour, log)

	n, err := s.MarkPublished(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewsFromRecordSanitizes(t *testing.T) {
	n := newsFromRecord(processor.NewsRecord{
		NewsIdentifier: "id",
		Title:          "  Waivers - Fantasy Football Alerts  ",
		Description:    "bad \xff byte",
		Author:         strings.Repeat("a", 300),
		ChannelTags:    []string{"waivers"},
		VariantKind:    "raw",
	})

	require.Equal(t, "Waivers - Fantasy Football Alerts", n.Title)
	require.Equal(t, "bad \uFFFD byte", n.Description)
	require.Len(t, []rune(n.Author), 256)
	require.Equal(t, "", n.URL)
	require.False(t, n.IsPublished)
	require.Equal(t, "raw", n.ExtraData["variant"])
	require.Equal(t, []string{"waivers"}, n.ExtraData["channel_tags"])
}

func TestTruncateRunesDB(t *testing.T) {
	require.Equal(t, "", truncateRunesDB("abc", 0))
	require.Equal(t, "ab", truncateRunesDB("abc", 2))
	require.Equal(t, "你好", truncateRunesDB("你好世界", 2))
	require.Equal(t, "abc", truncateRunesDB(" abc ", 10))
}

func TestDestinationCodeIsStable(t *testing.T) {
	a := DestinationCode("https://hooks.slack.com/services/A")
	require.Equal(t, a, DestinationCode("https://hooks.slack.com/services/A"))
	require.NotEqual(t, a, DestinationCode("https://hooks.slack.com/services/B"))
	require.True(t, strings.HasPrefix(a, "slack-"))
	require.Len(t, a, len("slack-")+10)
}

func TestSetDestinationStatusRejectsUnknownStatus(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	s := New(dryRunDB(t), nil, time.Hour, log)

	_, err := s.SetDestinationStatus(context.Background(), "slack-x", "paused")
	require.Error(t, err)
}
