package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/pkg/config"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

// payloadSchemaVersion guards stored cart payloads across deploys. A mismatch
// is treated as an absent cart.
const payloadSchemaVersion = 1

// TTL extension requests are clamped to this window, in seconds.
const (
	minTTLSeconds = 3600
	maxTTLSeconds = 604800
)

// ValidateTTL clamps a requested cart lifetime in seconds to the allowed
// window.
func ValidateTTL(seconds int) int {
	if seconds < minTTLSeconds {
		return minTTLSeconds
	}
	if seconds > maxTTLSeconds {
		return maxTTLSeconds
	}
	return seconds
}

// Item is one cart line with the price captured when it was added.
type Item struct {
	ProductID  uuid.UUID `json:"product_id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	AddedAt    time.Time `json:"added_at"`
}

// Cart is the stored shopping cart.
type Cart struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Item returns a pointer to the line for the product, or nil.
func (c *Cart) Item(productID uuid.UUID) *Item {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

type payload struct {
	SchemaVersion int  `json:"schema_version"`
	Cart          Cart `json:"cart"`
}

// Store persists carts in Redis under sliding TTLs.
type Store struct {
	client  *redis.Client
	logg    *logger.Logger
	authTTL time.Duration
	anonTTL time.Duration
}

// NewStore wires the Redis-backed cart store.
func NewStore(client *redis.Client, logg *logger.Logger, cfg config.CartConfig) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	authTTL := cfg.AuthenticatedTTL
	if authTTL <= 0 {
		authTTL = 24 * time.Hour
	}
	anonTTL := cfg.AnonymousTTL
	if anonTTL <= 0 {
		anonTTL = 2 * time.Hour
	}
	return &Store{client: client, logg: logg, authTTL: authTTL, anonTTL: anonTTL}, nil
}

// TTLFor returns the sliding lifetime applied to the identity's cart.
func (s *Store) TTLFor(identity Identity) time.Duration {
	if identity.Kind == IdentityAuthenticated {
		return s.authTTL
	}
	return s.anonTTL
}

// Load returns the stored cart, or nil when absent. A successful read slides
// the cart's expiry forward.
func (s *Store) Load(ctx context.Context, identity Identity) (*Cart, error) {
	key := s.client.CartKey(identity.Key())
	raw, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading cart")
	}

	var stored payload
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.SchemaVersion != payloadSchemaVersion {
		s.logg.Warn(s.logg.WithCartID(ctx, identity.Key()), "discarding cart payload with unknown schema")
		if err := s.client.Del(ctx, key); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "discarding cart")
		}
		return nil, nil
	}

	if _, err := s.client.Expire(ctx, key, s.TTLFor(identity)); err != nil {
		s.logg.Warn(s.logg.WithCartID(ctx, identity.Key()), "sliding cart expiry failed")
	}
	return &stored.Cart, nil
}

// Save writes the cart and resets its sliding expiry.
func (s *Store) Save(ctx context.Context, identity Identity, cart *Cart) error {
	cart.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(payload{SchemaVersion: payloadSchemaVersion, Cart: *cart})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding cart")
	}
	key := s.client.CartKey(identity.Key())
	if err := s.client.Set(ctx, key, string(raw), s.TTLFor(identity)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving cart")
	}
	return nil
}

// Delete removes the cart.
func (s *Store) Delete(ctx context.Context, identity Identity) error {
	if err := s.client.Del(ctx, s.client.CartKey(identity.Key())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting cart")
	}
	return nil
}

// TTL returns the remaining cart lifetime. Negative when absent or unbound.
func (s *Store) TTL(ctx context.Context, identity Identity) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.client.CartKey(identity.Key()))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading cart ttl")
	}
	return ttl, nil
}

// Extend sets the cart's remaining lifetime. Returns false when the cart is
// absent.
func (s *Store) Extend(ctx context.Context, identity Identity, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, s.client.CartKey(identity.Key()), ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extending cart ttl")
	}
	return ok, nil
}
