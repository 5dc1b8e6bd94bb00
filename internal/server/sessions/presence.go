package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/droplink/internal/server/kv"
)

// Presence tracks the receiver identities of live sessions, one opaque token
// per successful join. Set cardinality is the only authoritative receiver
// count.
type Presence struct {
	store kv.Store
}

func NewPresence(store kv.Store) *Presence {
	return &Presence{store: store}
}

// Add registers receiverID for code and refreshes the set's TTL to the
// session lifetime.
func (p *Presence) Add(ctx context.Context, code string, receiverID string, ttl time.Duration) error {
	key := kv.ReceiversKey(code)
	if err := p.store.SetAdd(ctx, key, receiverID); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	if err := p.store.Expire(ctx, key, ttl); err != nil {
		return fmt.Errorf("presence expiry: %w", err)
	}
	return nil
}

// Count returns the current receiver count for code (0 when absent).
func (p *Presence) Count(ctx context.Context, code string) (int64, error) {
	return p.store.SetCard(ctx, kv.ReceiversKey(code))
}

// Clear drops the whole presence set for code. Called on transfer completion;
// the receiver tally is finalized into the durable record first.
func (p *Presence) Clear(ctx context.Context, code string) error {
	return p.store.Delete(ctx, kv.ReceiversKey(code))
}
