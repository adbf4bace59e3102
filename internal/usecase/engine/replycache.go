package engine

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	replyPrefix = "msg:"
	replyTTL    = 24 * time.Hour
)

// RedisReplyCache stores replies keyed by transport message id. Cache
// failures degrade to best effort: command-level idempotency still protects
// money state, dedup only protects the conversation from double replies.
type RedisReplyCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisReplyCache(rdb *redis.Client, logger *zap.Logger) *RedisReplyCache {
	return &RedisReplyCache{rdb: rdb, logger: logger}
}

func (c *RedisReplyCache) Get(ctx context.Context, messageID string) (string, bool) {
	reply, err := c.rdb.Get(ctx, replyPrefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("reply cache lookup failed", zap.Error(err))
		return "", false
	}
	return reply, true
}

func (c *RedisReplyCache) Set(ctx context.Context, messageID, reply string) {
	if err := c.rdb.Set(ctx, replyPrefix+messageID, reply, replyTTL).Err(); err != nil {
		c.logger.Warn("failed to cache reply", zap.Error(err))
	}
}
