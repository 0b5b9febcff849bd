package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrAnonQuotaExceeded = errors.New("anonymous quota exceeded")

const anonQuotaPrefix = "anonq:"

// AnonQuotaRepo tracks per-IP daily usage for callers without an account.
// Keys are scoped by day key so a counter never leaks into the next window;
// the TTL is set to the window boundary as a safety net on top of that.
type AnonQuotaRepo struct {
	client *goredis.Client
}

func NewAnonQuotaRepo(client *goredis.Client) *AnonQuotaRepo {
	return &AnonQuotaRepo{client: client}
}

func (r *AnonQuotaRepo) Usage(ctx context.Context, dayKey, ip string) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(dayKey) == "" || strings.TrimSpace(ip) == "" {
		return 0, fmt.Errorf("invalid anon quota lookup payload")
	}

	count, err := r.client.Get(ctx, anonQuotaKey(dayKey, ip)).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get anon quota counter: %w", err)
	}

	return count, nil
}

// Consume increments the counter and rolls the increment back when the
// limit would be exceeded. INCR is atomic, so concurrent consumers never
// lose updates; a transient overshoot is corrected before anyone is
// admitted past the limit.
func (r *AnonQuotaRepo) Consume(ctx context.Context, dayKey, ip string, limit int, expireAt time.Time) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(dayKey) == "" || strings.TrimSpace(ip) == "" || limit <= 0 {
		return 0, fmt.Errorf("invalid anon quota consume payload")
	}

	key := anonQuotaKey(dayKey, ip)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment anon quota counter: %w", err)
	}
	if count == 1 {
		if err := r.client.ExpireAt(ctx, key, expireAt.UTC()).Err(); err != nil {
			return 0, fmt.Errorf("set anon quota ttl: %w", err)
		}
	}

	if count > int64(limit) {
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			return 0, fmt.Errorf("roll back anon quota counter: %w", err)
		}
		return limit, ErrAnonQuotaExceeded
	}

	return int(count), nil
}

func anonQuotaKey(dayKey, ip string) string {
	return anonQuotaPrefix + dayKey + ":" + ip
}
