package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL increments the window counter, arms its expiry on the first
// hit and returns {count, remaining ttl in ms}.
var incrWithTTL = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// Redis shares windows across every replica of the API.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "bsd:ratelimit"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, span time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	ms := span.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	raw, err := incrWithTTL.Run(ctx, r.client, []string{r.prefix + ":" + key}, ms).Result()
	if err != nil {
		return Decision{}, err
	}
	return decodeReply(raw, limit, r.now())
}

func decodeReply(raw any, limit int, now time.Time) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("unexpected rate limit reply")
	}
	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("rate limit counter is not an integer")
	}
	resetAt := now
	if ttl, _ := values[1].(int64); ttl > 0 {
		resetAt = now.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= int64(limit), Limit: limit, Remaining: remaining, ResetAt: resetAt}, nil
}
