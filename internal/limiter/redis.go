package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// failScript performs the whole failure transition server-side so that
// concurrent failures against the same key cannot bypass the threshold.
// KEYS[1] = counter hash; ARGV = now, threshold, block seconds, retention
// seconds. Returns {count, lock_until}.
const failScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local block = tonumber(ARGV[3])
local retention = tonumber(ARGV[4])

local lock_until = tonumber(redis.call('HGET', key, 'lock_until')) or 0
local count

if lock_until > 0 and lock_until <= now then
    count = 1
    redis.call('HSET', key, 'count', 1)
    redis.call('HDEL', key, 'lock_until')
    lock_until = 0
else
    count = redis.call('HINCRBY', key, 'count', 1)
    if count >= threshold and lock_until <= now then
        lock_until = now + block
        redis.call('HSET', key, 'lock_until', lock_until)
    end
end

redis.call('EXPIRE', key, retention)
return {count, lock_until}
`

// RedisStore is the shared backend: counters live in Redis hashes and the
// failure transition runs as a Lua script.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "limiter:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) Fail(ctx context.Context, key string, p Policy) (Status, error) {
	now := r.now()
	retention := int64(p.retention() / time.Second)
	if retention < 1 {
		retention = 1
	}

	result, err := r.client.Eval(ctx, failScript, []string{r.key(key)},
		now.Unix(), p.Threshold, int64(p.Block/time.Second), retention).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return Status{}, fmt.Errorf("%w: unexpected script result", ErrStoreUnavailable)
	}

	status := Status{Count: int(values[0].(int64))}
	if lockUntil := values[1].(int64); lockUntil > 0 {
		status.BlockedUntil = time.Unix(lockUntil, 0)
	}
	return status, nil
}

func (r *RedisStore) Status(ctx context.Context, key string) (Status, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var status Status
	if v, ok := fields["count"]; ok {
		if count, err := strconv.Atoi(v); err == nil {
			status.Count = count
		}
	}
	if v, ok := fields["lock_until"]; ok {
		if lockUntil, err := strconv.ParseInt(v, 10, 64); err == nil && lockUntil > 0 {
			status.BlockedUntil = time.Unix(lockUntil, 0)
		}
	}
	return status, nil
}

func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
