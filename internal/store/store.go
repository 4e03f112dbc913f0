package store

import (
	"context"
	"fmt"
	"time"
)

// Store is the keyspace the pipeline persists through: TTL'd values for
// sessions and markers, lists for queues and logs, hashes for pending
// approvals and stat buckets. Backed by Redis in production and by an
// in-memory implementation for tests and --dev runs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores the value only when the key is absent. Returns true when
	// the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	LPush(ctx context.Context, key string, value []byte) error
	// BRPop blocks up to timeout for an element from the tail of any of the
	// given lists. ok is false when the timeout elapsed with nothing to pop.
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) (key string, value []byte, ok bool, err error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// HDel removes the field, reporting whether it existed.
	HDel(ctx context.Context, key, field string) (bool, error)
	HIncrBy(ctx context.Context, key, field string, n int64) error

	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key layout. Every persisted record lives under one of these namespaces.

func SessionKey(channel, userID string) string {
	return fmt.Sprintf("session:%s:%s", channel, userID)
}

func QueueKey(region string) string {
	return "queue:" + region
}

func DedupKey(messageID string) string {
	return "dedup:" + messageID
}

func RateLimitKey(channel, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", channel, userID)
}

func PendingKey(region string) string {
	return "pending:" + region
}

func SettingsKey(region string) string {
	return "settings:" + region
}

func HistoryKey(region string) string {
	return "history:" + region
}

func RecentLogsKey(region string) string {
	return "recentlogs:" + region
}

func StatsKey(region string, day time.Time) string {
	return fmt.Sprintf("stats:%s:%s", region, day.UTC().Format("2006-01-02"))
}

func StatsKeyPrefix(region string) string {
	return "stats:" + region + ":"
}
