package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LJTian/FFNewsAlerts/internal/processor"
)

// ErrStore 表示持久层不可用，本轮放弃，已提交的写入保留
var ErrStore = errors.New("storage: store failure")

type News struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	NewsIdentifier string `gorm:"size:128;uniqueIndex;not null" json:"newsIdentifier"`
	Title          string `gorm:"size:256" json:"title"`
	Description    string `gorm:"type:text" json:"description"`
	URL            string `gorm:"size:1024" json:"url"`
	Author         string `gorm:"size:256" json:"author"`
	// 只会从 false 变为 true
	IsPublished bool              `gorm:"not null;default:false;index" json:"isPublished"`
	ExtraData   datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (News) TableName() string {
	return "news"
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	seenTTL time.Duration
	log     logrus.FieldLogger
}

func NewStore(dsn, redisAddr string, seenTTL time.Duration, log logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Destination{}, &News{}); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis ping failed, caches degrade to database reads")
		}
	}

	return New(db, rdb, seenTTL, log), nil
}

// New 复用已有连接构造 Store；rdb 可以为 nil
func New(db *gorm.DB, rdb *redis.Client, seenTTL time.Duration, log logrus.FieldLogger) *Store {
	if seenTTL <= 0 {
		seenTTL = 24 * time.Hour
	}
	return &Store{DB: db, Redis: rdb, seenTTL: seenTTL, log: log}
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func newsFromRecord(rec processor.NewsRecord) *News {
	extra := datatypes.JSONMap{"channel_tags": rec.ChannelTags}
	if rec.VariantKind != "" {
		extra["variant"] = rec.VariantKind
	}
	return &News{
		NewsIdentifier: rec.NewsIdentifier,
		Title:          truncateRunesDB(toValidUTF8(rec.Title), 256),
		Description:    toValidUTF8(rec.Description),
		URL:            truncateRunesDB(toValidUTF8(rec.URL), 1024),
		Author:         truncateRunesDB(toValidUTF8(rec.Author), 256),
		ExtraData:      extra,
	}
}

// upsertNews 冲突时不做任何更新，保留已有记录（包括发布状态）
func upsertNews(db *gorm.DB, n *News) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "news_identifier"}},
		DoNothing: true,
	}).Create(n)
}

func markPublished(db *gorm.DB, ids []string) *gorm.DB {
	return db.Model(&News{}).
		Where("news_identifier IN ?", ids).
		Where("is_published = ?", false).
		Update("is_published", true)
}

// UpsertNews 以 news_identifier 为幂等键插入；返回是否真正新增了一行。
// 唯一索引是唯一的正确性保证，这里不加锁。
func (s *Store) UpsertNews(ctx context.Context, rec processor.NewsRecord) (bool, error) {
	if s.isSeen(ctx, rec.NewsIdentifier) {
		return false, nil
	}

	res := upsertNews(s.DB.WithContext(ctx), newsFromRecord(rec))
	if res.Error != nil {
		return false, errors.Wrapf(ErrStore, "upsert %s: %v", rec.NewsIdentifier, res.Error)
	}
	s.markSeen(ctx, rec.NewsIdentifier)
	inserted := res.RowsAffected > 0
	if inserted {
		s.invalidateListCache(ctx)
	}
	return inserted, nil
}

// FindUnpublished 返回所有未发布的记录，按入库顺序
func (s *Store) FindUnpublished(ctx context.Context) ([]News, error) {
	var list []News
	if err := s.DB.WithContext(ctx).Where("is_published = ?", false).Order("id ASC").Find(&list).Error; err != nil {
		return nil, errors.Wrapf(ErrStore, "find unpublished: %v", err)
	}
	return list, nil
}

// MarkPublished 一次批量更新把这些记录置为已发布
func (s *Store) MarkPublished(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := markPublished(s.DB.WithContext(ctx), ids)
	if res.Error != nil {
		return 0, errors.Wrapf(ErrStore, "mark published: %v", res.Error)
	}
	if res.RowsAffected > 0 {
		s.invalidateListCache(ctx)
	}
	return res.RowsAffected, nil
}

const (
	listCachePrefix = "news:list:"
	listCacheTTL    = 30 * time.Second
)

// invalidateListCache 写入或发布状态变化后清掉列表缓存；失败时最多陈旧 listCacheTTL
func (s *Store) invalidateListCache(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	iter := s.Redis.Scan(ctx, 0, listCachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.log.WithError(err).Debug("list cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.Redis.Del(ctx, keys...).Err(); err != nil {
		s.log.WithError(err).Debug("list cache invalidation failed")
	}
}

// ListNews 按发布状态返回最近的记录，使用 Redis 做短 TTL 缓存
// published: "true" / "false" / 空字符串表示不过滤
func (s *Store) ListNews(ctx context.Context, published string, limit int) ([]News, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	cacheKey := fmt.Sprintf("%s%s:%d", listCachePrefix, published, limit)
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []News
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	db := s.DB.WithContext(ctx).Model(&News{})
	switch published {
	case "true":
		db = db.Where("is_published = ?", true)
	case "false":
		db = db.Where("is_published = ?", false)
	}

	var list []News
	if err := db.Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, errors.Wrapf(ErrStore, "list news: %v", err)
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err()
		}
	}
	return list, nil
}
