package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Records outlive their day so late readers near midnight still see them
const recordLifetime = 48 * time.Hour

// ARGV[1] = limit, ARGV[2] = expiry (unix seconds). Returns {count, incremented}.
// A record that is not an integer yields {-1, 0}.
var incrementIfBelowScript = redis.NewScript(`
local count = 0
local current = redis.call('GET', KEYS[1])
if current then
	count = tonumber(current)
	if not count then
		return {-1, 0}
	end
end

if count >= tonumber(ARGV[1]) then
	return {count, 0}
end

count = redis.call('INCR', KEYS[1])
redis.call('EXPIREAT', KEYS[1], ARGV[2])
return {count, 1}
`)

// RedisStore keeps quota counters as plain integers under quota:<user>:<date>.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(client *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: client}
}

func redisKey(userID, date string) string {
	return fmt.Sprintf("quota:%s:%s", userID, date)
}

func (s *RedisStore) Get(ctx context.Context, userID, date string) (int64, error) {
	val, err := s.redis.Get(ctx, redisKey(userID, date))
	if storage.IsNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, admission.ParseFailure("quota record", err)
	}
	return count, nil
}

func (s *RedisStore) Increment(ctx context.Context, userID, date string) (int64, error) {
	day, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return 0, admission.ParseFailure("quota date", err)
	}

	key := redisKey(userID, date)
	var incr *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, day.Add(recordLifetime))
		return nil
	})
	if err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	return incr.Val(), nil
}

func (s *RedisStore) IncrementIfBelow(ctx context.Context, userID, date string, limit int64) (int64, bool, error) {
	day, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return 0, false, admission.ParseFailure("quota date", err)
	}

	res, err := s.redis.RunScript(ctx, incrementIfBelowScript,
		[]string{redisKey(userID, date)},
		limit,
		day.Add(recordLifetime).Unix(),
	)
	if err != nil {
		return 0, false, admission.StoreUnavailable("quota", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, false, admission.ParseFailure("quota script reply", fmt.Errorf("unexpected reply %v", res))
	}
	count, okCount := arr[0].(int64)
	incremented, okFlag := arr[1].(int64)
	if !okCount || !okFlag {
		return 0, false, admission.ParseFailure("quota script reply", fmt.Errorf("unexpected reply %v", res))
	}
	if count < 0 {
		return 0, false, admission.ParseFailure("quota record", fmt.Errorf("record %s is not an integer", redisKey(userID, date)))
	}

	return count, incremented == 1, nil
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	if _, err := s.redis.DeleteByPattern(ctx, "quota:*"); err != nil {
		return admission.StoreUnavailable("quota", err)
	}
	return nil
}
