package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGateway wraps go-redis v9 to implement Gateway.
type RedisGateway struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisGateway connects to Redis using the provided options. Returns the
// gateway and any connection error; the caller decides whether to fall back
// to the in-memory gateway.
func NewRedisGateway(addr, password string, db int, prefix string) (*RedisGateway, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("fabric: redis connected", "addr", addr, "db", db)
	return &RedisGateway{rdb: rdb, prefix: prefix}, nil
}

func (g *RedisGateway) key(k string) string {
	if g.prefix == "" {
		return k
	}
	return g.prefix + ":" + k
}

func (g *RedisGateway) Close() error { return g.rdb.Close() }

func (g *RedisGateway) Ping(ctx context.Context) error { return g.rdb.Ping(ctx).Err() }

func (g *RedisGateway) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := g.rdb.Get(ctx, g.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (g *RedisGateway) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.rdb.Set(ctx, g.key(key), value, ttl).Err()
}

func (g *RedisGateway) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = g.key(k)
	}
	return g.rdb.Del(ctx, prefixed...).Err()
}

func (g *RedisGateway) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return g.rdb.SAdd(ctx, g.key(key), ifaces...).Err()
}

func (g *RedisGateway) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return g.rdb.SRem(ctx, g.key(key), ifaces...).Err()
}

func (g *RedisGateway) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.rdb.SMembers(ctx, g.key(key)).Result()
}

func (g *RedisGateway) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return g.rdb.ZAdd(ctx, g.key(key), redis.Z{Score: score, Member: member}).Err()
}

func (g *RedisGateway) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return g.rdb.ZRemRangeByScore(ctx, g.key(key), fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
}

func (g *RedisGateway) ZCard(ctx context.Context, key string) (int64, error) {
	return g.rdb.ZCard(ctx, g.key(key)).Result()
}

func (g *RedisGateway) ZOldestScore(ctx context.Context, key string) (float64, bool, error) {
	members, err := g.rdb.ZRangeWithScores(ctx, g.key(key), 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	return members[0].Score, true, nil
}

func (g *RedisGateway) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.rdb.Expire(ctx, g.key(key), ttl).Err()
}

func (g *RedisGateway) LPush(ctx context.Context, key string, value []byte) error {
	return g.rdb.LPush(ctx, g.key(key), value).Err()
}

func (g *RedisGateway) BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	result, err := g.rdb.BRPop(ctx, timeout, g.key(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value]
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}

func (g *RedisGateway) LRem(ctx context.Context, key string, value []byte) error {
	return g.rdb.LRem(ctx, g.key(key), 0, value).Err()
}

func (g *RedisGateway) Publish(ctx context.Context, channel string, message []byte) error {
	return g.rdb.Publish(ctx, g.key(channel), message).Err()
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (g *RedisGateway) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := g.rdb.Subscribe(ctx, g.key(channel))

	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
