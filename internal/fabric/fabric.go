// Package fabric is the Cache/Broker Gateway: the single seam every other
// component uses to reach Redis (sorted sets for the Rate Limiter, lists for
// the Job Queue, Pub/Sub for the Event Bus, plain keys for token and payload
// caching). Nothing outside this package imports go-redis directly.
package fabric

import (
	"context"
	"time"
)

// Gateway is the full surface the control plane needs from the fabric.
// A backend that cannot support one of these operations (the in-memory
// fake's Pub/Sub, for example) still implements it, just without
// cross-process delivery.
type Gateway interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// ZAdd adds a member scored by a Unix-nanosecond timestamp, used by the
	// Rate Limiter's sliding window.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members whose score lies in [min, max], both
	// bounds inclusive, evicting entries that have aged out of the window.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZOldestScore returns the lowest score in the set (the oldest admission
	// timestamp), used by the Rate Limiter to compute how long until the
	// window has room again. ok is false for an empty or missing set.
	ZOldestScore(ctx context.Context, key string) (score float64, ok bool, err error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// LPush/BRPop/LRem back the Job Queue.
	LPush(ctx context.Context, key string, value []byte) error
	BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)
	LRem(ctx context.Context, key string, value []byte) error

	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)

	Ping(ctx context.Context) error
	Close() error
}

// NotFoundError describes a missing key. Get does not return it: a missing
// key is reported through Get's ok bool (false) with a nil error.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return "fabric: key not found: " + e.Key }
