package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/droplink/internal/common"
	"github.com/dmitrijs2005/droplink/internal/server/kv"
)

// rateLimitWindow is the rolling window of the per-address join counter.
// The TTL is set once, on the first increment in the window.
const rateLimitWindow = 60 * time.Second

// RateLimiter guards code consumption (join attempts) with a per-client-address
// sliding-window counter.
type RateLimiter struct {
	store   kv.Store
	ceiling int
}

func NewRateLimiter(store kv.Store, ceiling int) *RateLimiter {
	return &RateLimiter{store: store, ceiling: ceiling}
}

// CheckAndConsume counts one attempt for addr and returns a RATE_LIMITED
// error once the window's ceiling is exceeded. An empty address bypasses the
// check entirely: environments without reliable client-address extraction
// must not be locked out.
func (l *RateLimiter) CheckAndConsume(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	key := kv.AttemptsKey(addr)

	current, err := l.store.Increment(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit counter: %w", err)
	}
	if current == 1 {
		if err := l.store.Expire(ctx, key, rateLimitWindow); err != nil {
			return fmt.Errorf("rate limit expiry: %w", err)
		}
	}

	if current > int64(l.ceiling) {
		return common.NewAppError(common.CodeRateLimited, "too many attempts, please slow down", 429)
	}
	return nil
}
