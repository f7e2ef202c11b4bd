package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/internal/inventory"
	"github.com/commercekit/checkout-backend/internal/products"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

// priceDriftEpsilonCents is the tolerated gap between the price captured at
// add time and the current catalog price before a cart is flagged.
const priceDriftEpsilonCents = 1

// Issue flags one problem found on a cart line.
type Issue struct {
	ProductID         uuid.UUID           `json:"product_id"`
	Code              enums.CartIssueCode `json:"code"`
	Message           string              `json:"message"`
	RequestedQuantity int                 `json:"requested_quantity,omitempty"`
	AvailableQuantity int                 `json:"available_quantity,omitempty"`
	CurrentPriceCents *int                `json:"current_price_cents,omitempty"`
}

// BulkLine is one product/quantity pair of a bulk add.
type BulkLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type catalogReader interface {
	GetSnapshot(ctx context.Context, productID uuid.UUID) (*products.Snapshot, error)
	GetSnapshots(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]products.Snapshot, error)
}

type stockChecker interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (*inventory.Availability, error)
	GetBatchStatus(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]inventory.Status, error)
}

// Service exposes cart operations. Every operation takes the raw customer id /
// cart id pair and resolves it to an identity.
type Service interface {
	GetCart(ctx context.Context, customerID, cartID string) (*Cart, error)
	GetOrCreateCart(ctx context.Context, customerID, cartID string) (*Cart, error)
	AddItem(ctx context.Context, customerID, cartID string, productID uuid.UUID, quantity int) (*Cart, error)
	AddBulkItems(ctx context.Context, customerID, cartID string, lines []BulkLine) (*Cart, []Issue, error)
	UpdateItemQuantity(ctx context.Context, customerID, cartID string, productID uuid.UUID, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, customerID, cartID string, productID uuid.UUID) (*Cart, error)
	ClearCart(ctx context.Context, customerID, cartID string) (*Cart, error)
	ValidateCartItems(ctx context.Context, customerID, cartID string) ([]Issue, error)
	MergeAnonymousCart(ctx context.Context, customerID, anonymousCartID string) (*Cart, []Issue, error)
	ExtendCartExpiration(ctx context.Context, customerID, cartID string, seconds int) (time.Duration, error)
	GetCartExpiration(ctx context.Context, customerID, cartID string) (time.Duration, error)
}

type service struct {
	store   *Store
	catalog catalogReader
	stock   stockChecker
	logg    *logger.Logger
}

// NewService wires the cart service.
func NewService(store *Store, catalog catalogReader, stock stockChecker, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock checker is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{store: store, catalog: catalog, stock: stock, logg: logg}, nil
}

// GetCart returns the cart, synthesizing an empty one when nothing is stored.
// Lines are reconciled against live catalog and stock data on every read so a
// stale cart never leaves this method.
func (s *service) GetCart(ctx context.Context, customerID, cartID string) (*Cart, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, _, err := s.loadOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, err := s.reconcileAndSave(ctx, identity, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetOrCreateCart resolves the customer id / cart id pair. An authenticated
// request that still carries an anonymous cart id folds that cart into the
// customer's own before returning it.
func (s *service) GetOrCreateCart(ctx context.Context, customerID, cartID string) (*Cart, error) {
	if strings.TrimSpace(customerID) != "" && IsAnonymousCartID(strings.TrimSpace(cartID)) {
		merged, _, err := s.MergeAnonymousCart(ctx, customerID, strings.TrimSpace(cartID))
		return merged, err
	}
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, _, err := s.loadOrCreate(ctx, identity)
	return cart, err
}

func (s *service) loadOrCreate(ctx context.Context, identity Identity) (*Cart, bool, error) {
	cart, err := s.store.Load(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	if cart != nil {
		return cart, false, nil
	}

	now := time.Now().UTC()
	cart = &Cart{
		ID:         identity.Key(),
		CustomerID: identity.CustomerID,
		Items:      []Item{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, false, err
	}
	s.logg.Info(s.logg.WithCartID(ctx, identity.Key()), "cart created")
	return cart, true, nil
}

func (s *service) AddItem(ctx context.Context, customerID, cartID string, productID uuid.UUID, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, _, err := s.loadOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.catalog.GetSnapshot(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !snapshot.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available for sale")
	}

	requested := quantity
	if existing := cart.Item(productID); existing != nil {
		requested += existing.Quantity
	}
	availability, err := s.stock.CheckAvailability(ctx, productID, requested)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for product").
			WithDetails(pkgerrors.StockShortfall{
				ProductID: productID.String(),
				Requested: requested,
				Available: availability.AvailableQuantity,
			})
	}

	s.upsertItem(cart, *snapshot, requested)
	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *service) AddBulkItems(ctx context.Context, customerID, cartID string, lines []BulkLine) (*Cart, []Issue, error) {
	if len(lines) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, nil, err
	}
	cart, _, err := s.loadOrCreate(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	issues := []Issue{}
	for _, line := range lines {
		if line.ProductID == uuid.Nil || line.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "each line needs a product id and a positive quantity")
		}
		issue := s.addClamped(ctx, cart, line.ProductID, line.Quantity)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, nil, err
	}
	return cart, issues, nil
}

// addClamped adds as much of the requested quantity as stock allows, reporting
// an issue when the line was skipped or clamped.
func (s *service) addClamped(ctx context.Context, cart *Cart, productID uuid.UUID, quantity int) *Issue {
	snapshot, err := s.catalog.GetSnapshot(ctx, productID)
	if err != nil || !snapshot.IsActive {
		return &Issue{
			ProductID:         productID,
			Code:              enums.CartIssueUnavailable,
			Message:           "product is not available",
			RequestedQuantity: quantity,
		}
	}

	requested := quantity
	if existing := cart.Item(productID); existing != nil {
		requested += existing.Quantity
	}
	availability, err := s.stock.CheckAvailability(ctx, productID, requested)
	if err != nil {
		return &Issue{
			ProductID:         productID,
			Code:              enums.CartIssueUnavailable,
			Message:           "stock could not be checked",
			RequestedQuantity: quantity,
		}
	}

	granted := requested
	var issue *Issue
	if !availability.Available {
		granted = availability.AvailableQuantity
		issue = &Issue{
			ProductID:         productID,
			Code:              enums.CartIssueInsufficientStock,
			Message:           "quantity reduced to available stock",
			RequestedQuantity: requested,
			AvailableQuantity: availability.AvailableQuantity,
		}
	}
	if granted <= 0 {
		s.removeItem(cart, productID)
		return issue
	}

	s.upsertItem(cart, *snapshot, granted)
	return issue
}

func (s *service) UpdateItemQuantity(ctx context.Context, customerID, cartID string, productID uuid.UUID, quantity int) (*Cart, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, err := s.store.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if cart.Item(productID) == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
	}

	if quantity == 0 {
		s.removeItem(cart, productID)
	} else {
		availability, err := s.stock.CheckAvailability(ctx, productID, quantity)
		if err != nil {
			return nil, err
		}
		if !availability.Available {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for product").
				WithDetails(pkgerrors.StockShortfall{
					ProductID: productID.String(),
					Requested: quantity,
					Available: availability.AvailableQuantity,
				})
		}
		cart.Item(productID).Quantity = quantity
	}

	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *service) RemoveItem(ctx context.Context, customerID, cartID string, productID uuid.UUID) (*Cart, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, err := s.store.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if cart.Item(productID) == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
	}

	s.removeItem(cart, productID)
	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *service) ClearCart(ctx context.Context, customerID, cartID string) (*Cart, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, err := s.store.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}

	cart.Items = []Item{}
	if err := s.store.Save(ctx, identity, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// ValidateCartItems re-checks every line against the catalog and the ledger,
// corrects the cart in place, and persists the corrected cart. The returned
// issues describe what was fixed; a clean cart comes back with none.
func (s *service) ValidateCartItems(ctx context.Context, customerID, cartID string) ([]Issue, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return nil, err
	}
	cart, _, err := s.loadOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.reconcileAndSave(ctx, identity, cart)
}

// reconcileAndSave runs reconcile and persists the cart when anything changed.
func (s *service) reconcileAndSave(ctx context.Context, identity Identity, cart *Cart) ([]Issue, error) {
	issues, err := s.reconcile(ctx, cart)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		if err := s.store.Save(ctx, identity, cart); err != nil {
			return nil, err
		}
		logCtx := s.logg.WithField(s.logg.WithCartID(ctx, identity.Key()), "issue_count", len(issues))
		s.logg.Info(logCtx, "cart corrected against live data")
	}
	return issues, nil
}

// reconcile applies live catalog and stock data to the cart's lines: inactive
// or unknown products are dropped, quantities clamp down to available stock
// (dropping the line at zero), and drifted prices adopt the current price.
func (s *service) reconcile(ctx context.Context, cart *Cart) ([]Issue, error) {
	if len(cart.Items) == 0 {
		return []Issue{}, nil
	}

	productIDs := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	snapshots, err := s.catalog.GetSnapshots(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	stock, err := s.stock.GetBatchStatus(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	issues := []Issue{}
	kept := make([]Item, 0, len(cart.Items))
	for _, item := range cart.Items {
		snapshot, ok := snapshots[item.ProductID]
		if !ok || !snapshot.IsActive {
			issues = append(issues, Issue{
				ProductID:         item.ProductID,
				Code:              enums.CartIssueUnavailable,
				Message:           "product is no longer available",
				RequestedQuantity: item.Quantity,
			})
			continue
		}

		status, tracked := stock[item.ProductID]
		if !tracked || (status.TrackQuantity && status.AvailableQuantity < item.Quantity) {
			available := 0
			if tracked {
				available = status.AvailableQuantity
			}
			issues = append(issues, Issue{
				ProductID:         item.ProductID,
				Code:              enums.CartIssueInsufficientStock,
				Message:           "quantity reduced to available stock",
				RequestedQuantity: item.Quantity,
				AvailableQuantity: available,
			})
			if available <= 0 {
				continue
			}
			item.Quantity = available
		}

		if drift(item.PriceCents, snapshot.PriceCents) > priceDriftEpsilonCents {
			current := snapshot.PriceCents
			issues = append(issues, Issue{
				ProductID:         item.ProductID,
				Code:              enums.CartIssuePriceChanged,
				Message:           "price changed since the item was added",
				CurrentPriceCents: &current,
			})
			item.PriceCents = current
		}

		kept = append(kept, item)
	}
	cart.Items = kept
	return issues, nil
}

// MergeAnonymousCart folds an anonymous cart into the customer's cart.
// Overlapping lines sum their quantities and are clamped to available stock;
// clamps and dropped lines are reported as issues. The anonymous cart is
// deleted afterwards.
func (s *service) MergeAnonymousCart(ctx context.Context, customerID, anonymousCartID string) (*Cart, []Issue, error) {
	if customerID == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if !IsAnonymousCartID(anonymousCartID) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed cart identifier").
			WithDetails(map[string]string{"cart_id": anonymousCartID})
	}

	authIdentity, err := ParseIdentity(customerID, "")
	if err != nil {
		return nil, nil, err
	}
	anonIdentity := Identity{Kind: IdentityAnonymous, CartID: anonymousCartID}

	anonCart, err := s.store.Load(ctx, anonIdentity)
	if err != nil {
		return nil, nil, err
	}
	authCart, _, err := s.loadOrCreate(ctx, authIdentity)
	if err != nil {
		return nil, nil, err
	}
	if anonCart == nil || len(anonCart.Items) == 0 {
		if anonCart != nil {
			if err := s.store.Delete(ctx, anonIdentity); err != nil {
				return nil, nil, err
			}
		}
		return authCart, []Issue{}, nil
	}

	issues := []Issue{}
	for _, item := range anonCart.Items {
		issue := s.addClamped(ctx, authCart, item.ProductID, item.Quantity)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	if err := s.store.Save(ctx, authIdentity, authCart); err != nil {
		return nil, nil, err
	}
	if err := s.store.Delete(ctx, anonIdentity); err != nil {
		return nil, nil, err
	}

	logCtx := s.logg.WithCustomerID(s.logg.WithCartID(ctx, anonymousCartID), customerID)
	s.logg.Info(logCtx, "anonymous cart merged")
	return authCart, issues, nil
}

func (s *service) ExtendCartExpiration(ctx context.Context, customerID, cartID string, seconds int) (time.Duration, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return 0, err
	}
	ttl := time.Duration(ValidateTTL(seconds)) * time.Second
	ok, err := s.store.Extend(ctx, identity, ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return ttl, nil
}

func (s *service) GetCartExpiration(ctx context.Context, customerID, cartID string) (time.Duration, error) {
	identity, err := ParseIdentity(customerID, cartID)
	if err != nil {
		return 0, err
	}
	ttl, err := s.store.TTL(ctx, identity)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return ttl, nil
}

// upsertItem sets the line's quantity, keeping the price captured when the
// line was first added.
func (s *service) upsertItem(cart *Cart, snapshot products.Snapshot, quantity int) {
	if existing := cart.Item(snapshot.ProductID); existing != nil {
		existing.Quantity = quantity
		return
	}
	cart.Items = append(cart.Items, Item{
		ProductID:  snapshot.ProductID,
		Name:       snapshot.Name,
		PriceCents: snapshot.PriceCents,
		Quantity:   quantity,
		AddedAt:    time.Now().UTC(),
	})
}

func (s *service) removeItem(cart *Cart, productID uuid.UUID) {
	items := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			items = append(items, item)
		}
	}
	cart.Items = items
}

func drift(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
