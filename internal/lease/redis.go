package lease

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lease:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis stores leases as keys set with NX and a PX expiry, so Redis itself
// evicts abandoned leases. Release only deletes the key if it still holds the
// token this store wrote.
type Redis struct {
	client *redis.Client
	opts   options

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis returns a lease store backed by client.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{client: client, opts: buildOptions(opts), tokens: make(map[string]string)}
}

// Acquire implements Store.
func (r *Redis) Acquire(ctx context.Context, resourceID string) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+resourceID, token, r.opts.ttl).Result()
	observe(ok, err)
	if err != nil {
		return false, err
	}
	if ok {
		r.mu.Lock()
		r.tokens[resourceID] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// Release implements Store.
func (r *Redis) Release(ctx context.Context, resourceID string) error {
	r.mu.Lock()
	token, ok := r.tokens[resourceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := releaseScript.Run(ctx, r.client, []string{redisKeyPrefix + resourceID}, token).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.tokens[resourceID] == token {
		delete(r.tokens, resourceID)
	}
	r.mu.Unlock()
	return nil
}
