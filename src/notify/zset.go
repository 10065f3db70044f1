package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ZSet is a thin wrapper over a redis sorted set keyed by unix-milli scores
type ZSet struct {
	client *redis.Client
	key    string
}

func NewZSet(cache *redis.Client, key string) ZSet {
	return ZSet{
		key:    key,
		client: cache,
	}
}

func (zz *ZSet) AddWithScore(ctx context.Context, score float64, members ...string) error {
	zArgs := make([]*redis.Z, 0, len(members))
	for _, m := range members {
		zArgs = append(zArgs, &redis.Z{Member: m, Score: score})
	}
	return zz.client.ZAddNX(ctx, zz.key, zArgs...).Err()
}

// Newest returns up to limit members, highest score first
func (zz *ZSet) Newest(ctx context.Context, limit int64) ([]string, error) {
	data := zz.client.ZRevRangeByScore(ctx, zz.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: limit,
	})
	if data.Err() != nil {
		return nil, data.Err()
	}
	return data.Val(), nil
}

func (zz *ZSet) Count(ctx context.Context) (int64, error) {
	cmd := zz.client.ZCount(ctx, zz.key, "-inf", "+inf")
	return cmd.Val(), cmd.Err()
}

func (zz *ZSet) RemoveBelow(ctx context.Context, max int64) (int64, error) {
	cmd := zz.client.ZRemRangeByScore(ctx, zz.key, "-inf", fmt.Sprintf("(%d", max))
	return cmd.Val(), cmd.Err()
}

func (zz *ZSet) Clear(ctx context.Context) error {
	return zz.client.Del(ctx, zz.key).Err()
}
