package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

// sessionSchemaVersion guards stored sessions across deploys. A mismatch is
// treated as an absent session.
const sessionSchemaVersion = 1

// SessionLine snapshots one priced cart line at initiation time.
type SessionLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int       `json:"unit_price_cents"`
}

// Session is the in-flight checkout: the hold, the intent, and the totals the
// customer was quoted. It lives in Redis for the reservation window.
type Session struct {
	CustomerID      string        `json:"customer_id"`
	CartID          string        `json:"cart_id"`
	ReservationID   string        `json:"reservation_id"`
	PaymentIntentID uuid.UUID     `json:"payment_intent_id"`
	Totals          Totals        `json:"totals"`
	Lines           []SessionLine `json:"lines"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

type sessionPayload struct {
	SchemaVersion int     `json:"schema_version"`
	Session       Session `json:"session"`
}

// SessionStore persists checkout sessions in Redis, one per customer.
type SessionStore struct {
	client *redis.Client
	logg   *logger.Logger
	ttl    time.Duration
}

// NewSessionStore wires the Redis-backed session store.
func NewSessionStore(client *redis.Client, logg *logger.Logger, ttl time.Duration) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{client: client, logg: logg, ttl: ttl}, nil
}

// TTL returns the session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Load returns the customer's active session, or nil when absent.
func (s *SessionStore) Load(ctx context.Context, customerID string) (*Session, error) {
	key := s.client.CheckoutSessionKey(customerID)
	raw, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	var stored sessionPayload
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.SchemaVersion != sessionSchemaVersion {
		logCtx := s.logg.WithField(ctx, "customer_id", customerID)
		s.logg.Warn(logCtx, "discarding unreadable checkout session")
		if delErr := s.client.Del(ctx, key); delErr != nil {
			s.logg.Warn(logCtx, "deleting unreadable checkout session")
		}
		return nil, nil
	}
	return &stored.Session, nil
}

// Save stores the session under the customer's key for the session TTL.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(sessionPayload{SchemaVersion: sessionSchemaVersion, Session: *session})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding checkout session")
	}
	key := s.client.CheckoutSessionKey(session.CustomerID)
	if err := s.client.Set(ctx, key, raw, s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving checkout session")
	}
	return nil
}

// ListExpired scans for sessions past their quoted expiry. Unreadable
// payloads are skipped; Load deletes those on the next customer touch.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	var (
		expired []Session
		cursor  uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.client.CheckoutSessionPattern(), 100)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scanning checkout sessions")
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key)
			if errors.Is(err, redis.ErrNil) {
				continue
			}
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
			}
			var stored sessionPayload
			if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.SchemaVersion != sessionSchemaVersion {
				continue
			}
			if !stored.Session.ExpiresAt.After(now) {
				expired = append(expired, stored.Session)
			}
		}
		cursor = next
		if cursor == 0 {
			return expired, nil
		}
	}
}

// Delete removes the customer's session.
func (s *SessionStore) Delete(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, s.client.CheckoutSessionKey(customerID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting checkout session")
	}
	return nil
}
