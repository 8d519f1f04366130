package storage

import "context"

// 已确认入库的 id 在 Redis 中记一段时间，重复出现时直接跳过数据库写入。
// 缓存只可能漏判（返回未见过），不影响唯一索引的正确性。

func seenKey(id string) string {
	return "news:seen:" + id
}

func (s *Store) isSeen(ctx context.Context, id string) bool {
	if s.Redis == nil {
		return false
	}
	n, err := s.Redis.Exists(ctx, seenKey(id)).Result()
	if err != nil {
		s.log.WithError(err).Debug("seen cache lookup failed")
		return false
	}
	return n > 0
}

func (s *Store) markSeen(ctx context.Context, id string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Set(ctx, seenKey(id), 1, s.seenTTL).Err(); err != nil {
		s.log.WithError(err).Debug("seen cache write failed")
	}
}
