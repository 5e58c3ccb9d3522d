// internal/presence/presence.go
package presence

import (
	"context"
	"time"

	"github.com/jason-s-yu/dyad/internal/models"
)

// DefaultTTL is how long an idle entry stays visible after admission.
const DefaultTTL = 15 * time.Minute

// Entry is one idle connection waiting in the lobby.
type Entry struct {
	ConnID      string             `json:"conn_id"`
	Participant models.Participant `json:"participant"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// Live reports whether the entry has not expired at now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is the shared key-value backing for the registry. Implementations must be
// safe for concurrent use by many connection goroutines.
type Store interface {
	// Put inserts or replaces the entry for e.ConnID and removes any other entry held
	// by the same participant, in one step.
	Put(ctx context.Context, e Entry) error
	// List returns every stored entry, expired or not, in insertion order.
	List(ctx context.Context) ([]Entry, error)
	// Delete removes the entry for connID. Deleting a missing entry is not an error.
	Delete(ctx context.Context, connID string) error
	// Take removes both entries only if both exist and are live at now.
	Take(ctx context.Context, a, b string, now time.Time) (bool, error)
}

// Registry tracks idle connections with lazy expiry.
type Registry struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock injects the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit puts connID in the lobby, evicting any other entry for the same participant.
func (r *Registry) Admit(ctx context.Context, connID string, p models.Participant) (Entry, error) {
	e := Entry{
		ConnID:      connID,
		Participant: p,
		ExpiresAt:   r.now().Add(r.ttl),
	}
	if err := r.store.Put(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// All returns the live entries in insertion order.
func (r *Registry) All(ctx context.Context) ([]Entry, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	live := entries[:0]
	for _, e := range entries {
		if e.Live(now) {
			live = append(live, e)
		}
	}
	return live, nil
}

// Remove deletes connID from the lobby. It is idempotent.
func (r *Registry) Remove(ctx context.Context, connID string) error {
	return r.store.Delete(ctx, connID)
}

// Claim removes a and b together. It returns false, and changes nothing, when either
// one has already left, expired or been claimed by a concurrent pairing attempt.
func (r *Registry) Claim(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	return r.store.Take(ctx, a, b, r.now())
}
