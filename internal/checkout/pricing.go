package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/commercekit/checkout-backend/internal/cart"
	"github.com/commercekit/checkout-backend/pkg/config"
)

// Totals is the priced breakdown of a checkout, in cents.
type Totals struct {
	SubtotalCents int `json:"subtotal_cents"`
	TaxCents      int `json:"tax_cents"`
	ShippingCents int `json:"shipping_cents"`
	DiscountCents int `json:"discount_cents"`
	TotalCents    int `json:"total_cents"`
}

// Pricer computes checkout totals from the configured rates.
type Pricer struct {
	taxRateBps            int
	shippingFlatFeeCents  int
	freeShippingThreshold int
	firstOrderDiscountBps int
}

// NewPricer builds a pricer from the checkout configuration.
func NewPricer(cfg config.CheckoutConfig) *Pricer {
	return &Pricer{
		taxRateBps:            cfg.TaxRateBps,
		shippingFlatFeeCents:  cfg.ShippingFlatFeeCents,
		freeShippingThreshold: cfg.FreeShippingThresholdCents,
		firstOrderDiscountBps: cfg.FirstOrderDiscountBps,
	}
}

// Price totals the cart. The first-order discount comes off the subtotal
// before tax; free shipping keys off the undiscounted subtotal.
func (p *Pricer) Price(items []cart.Item, firstOrder bool) Totals {
	subtotal := 0
	for _, item := range items {
		subtotal += item.PriceCents * item.Quantity
	}

	discount := 0
	if firstOrder && p.firstOrderDiscountBps > 0 {
		discount = applyBps(subtotal, p.firstOrderDiscountBps)
	}

	taxable := subtotal - discount
	tax := applyBps(taxable, p.taxRateBps)

	shipping := p.shippingFlatFeeCents
	if p.freeShippingThreshold > 0 && subtotal >= p.freeShippingThreshold {
		shipping = 0
	}

	return Totals{
		SubtotalCents: subtotal,
		TaxCents:      tax,
		ShippingCents: shipping,
		DiscountCents: discount,
		TotalCents:    taxable + tax + shipping,
	}
}

// applyBps takes a basis-point fraction of an amount, rounding half away from
// zero so 12.5 cents of tax becomes 13.
func applyBps(amountCents, bps int) int {
	if amountCents <= 0 || bps <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(amountCents)).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart())
}
