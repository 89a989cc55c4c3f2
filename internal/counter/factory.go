package counter

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Creates a counter store for the configured backend
func New(backend string, redis *storage.RedisClient, now func() time.Time) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(now), nil
	case BackendRedis:
		if redis == nil {
			return nil, fmt.Errorf("counter backend %q needs a redis client", backend)
		}
		return NewRedisStore(redis, "", now), nil
	default:
		return nil, fmt.Errorf("unknown counter backend: %s", backend)
	}
}
