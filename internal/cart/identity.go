package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
)

const anonymousPrefix = "cart_anonymous_"

// IdentityKind distinguishes how a cart is keyed.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityAnonymous     IdentityKind = "anonymous"
)

// Identity resolves a cart request to a storage key. Authenticated carts are
// keyed by customer id, anonymous carts by a generated cart id.
type Identity struct {
	Kind       IdentityKind
	CustomerID string
	CartID     string
}

// Key returns the storage identifier for the cart.
func (i Identity) Key() string {
	if i.Kind == IdentityAuthenticated {
		return i.CustomerID
	}
	return i.CartID
}

// NewAnonymousIdentity mints a fresh anonymous cart identity.
func NewAnonymousIdentity() Identity {
	return Identity{
		Kind:   IdentityAnonymous,
		CartID: anonymousPrefix + uuid.NewString(),
	}
}

// ParseIdentity resolves the customer id / cart id pair.
//
//   - customer id present: authenticated, the cart id is ignored
//   - both absent: a new anonymous identity is minted
//   - cart id only: must be a well-formed anonymous cart id
func ParseIdentity(customerID, cartID string) (Identity, error) {
	customerID = strings.TrimSpace(customerID)
	cartID = strings.TrimSpace(cartID)

	if customerID != "" {
		return Identity{Kind: IdentityAuthenticated, CustomerID: customerID}, nil
	}
	if cartID == "" {
		return NewAnonymousIdentity(), nil
	}
	if !IsAnonymousCartID(cartID) {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "malformed cart identifier").
			WithDetails(map[string]string{"cart_id": cartID})
	}
	return Identity{Kind: IdentityAnonymous, CartID: cartID}, nil
}

// IsAnonymousCartID reports whether the id is a well-formed anonymous cart id:
// the anonymous prefix followed by a v4 UUID.
func IsAnonymousCartID(cartID string) bool {
	suffix, ok := strings.CutPrefix(cartID, anonymousPrefix)
	if !ok {
		return false
	}
	parsed, err := uuid.Parse(suffix)
	if err != nil {
		return false
	}
	return parsed.Version() == 4 && suffix == parsed.String()
}
