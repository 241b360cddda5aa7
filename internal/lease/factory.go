package lease

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// New builds the Store named by backend. The redis and sql backends need
// their client; the other argument may be nil.
func New(backend string, ttl time.Duration, rdb *redis.Client, db *sql.DB) (Store, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	switch backend {
	case BackendMemory:
		return NewMemory(WithTTL(ttl)), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("lease: redis backend needs a redis client")
		}
		return NewRedis(rdb, WithTTL(ttl)), nil
	case BackendSQL:
		if db == nil {
			return nil, fmt.Errorf("lease: sql backend needs a database")
		}
		return NewSQL(db, WithTTL(ttl)), nil
	default:
		return nil, fmt.Errorf("lease: unknown backend %q", backend)
	}
}
