package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettlementLock is the per-booking guard claimed before any chain action is
// broadcast. The TTL doubles as a cool-off after an unconfirmed broadcast:
// until it expires or the reconciler resolves the transaction, no second
// settlement can start for the same booking.
type SettlementLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSettlementLock(rdb *redis.Client, ttl time.Duration) *SettlementLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SettlementLock{rdb: rdb, ttl: ttl}
}

func lockKey(bookingID int) string {
	return fmt.Sprintf("settlement:lock:%d", bookingID)
}

// Acquire claims the settlement slot for a booking. The returned token must
// be passed back to Release. ok is false when another settlement holds the
// slot.
func (l *SettlementLock) Acquire(ctx context.Context, bookingID int, token string) (bool, error) {
	return l.rdb.SetNX(ctx, lockKey(bookingID), token, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the slot only when it is still held by the given token, so a
// slow caller cannot drop a lock re-acquired by someone else after expiry.
func (l *SettlementLock) Release(ctx context.Context, bookingID int, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{lockKey(bookingID)}, token).Err()
}
