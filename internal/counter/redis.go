package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "counter:"

// Runs server side so the read, the window check and the write are one atomic step.
// ARGV[1] = now (unix ms), ARGV[2] = window (ms). Returns {count, window start ms}.
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = redis.call('HGET', KEYS[1], 'start')

if (not start) or (now - tonumber(start) >= window) then
	redis.call('HSET', KEYS[1], 'start', ARGV[1], 'count', 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return {1, now}
end

local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {count, tonumber(start)}
`)

// RedisStore keeps counters in Redis hashes so every gateway instance shares them.
type RedisStore struct {
	redis  *storage.RedisClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *storage.RedisClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	if window <= 0 {
		return Record{}, admission.ErrInvalidPolicy
	}

	res, err := s.redis.RunScript(ctx, fixedWindowScript,
		[]string{s.prefix + key},
		s.now().UnixMilli(),
		window.Milliseconds(),
	)
	if err != nil {
		return Record{}, admission.StoreUnavailable("counter", err)
	}

	count, startMs, err := parseScriptReply(res)
	if err != nil {
		return Record{}, admission.ParseFailure("counter script reply", err)
	}

	return Record{
		Key:         key,
		Count:       count,
		WindowStart: time.UnixMilli(startMs),
	}, nil
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	if _, err := s.redis.DeleteByPattern(ctx, s.prefix+"*"); err != nil {
		return admission.StoreUnavailable("counter", err)
	}
	return nil
}

func parseScriptReply(res interface{}) (int64, int64, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("unexpected reply %v", res)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected count %v", arr[0])
	}
	start, ok := arr[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected window start %v", arr[1])
	}
	return count, start, nil
}
