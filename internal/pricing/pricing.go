// Package pricing derives cart totals, tax and shipping from line items.
package pricing

import (
	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
)

// Policy holds the storefront's tax and shipping rules.
type Policy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultPolicy is 8% tax, free shipping from 50, otherwise 9.99.
func DefaultPolicy() Policy {
	return Policy{
		TaxRate:               decimal.RequireFromString("0.08"),
		FreeShippingThreshold: decimal.NewFromInt(50),
		FlatShippingFee:       decimal.RequireFromString("9.99"),
	}
}

// Summary is what a checkout flow needs from the cart.
type Summary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

func Subtotal(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// ItemCount sums quantities, not distinct lines.
func ItemCount(items []domain.LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func (p Policy) Tax(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	return subtotal.Mul(p.TaxRate)
}

func (p Policy) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.FlatShippingFee
}

func (p Policy) Summarize(items []domain.LineItem) Summary {
	sub := Subtotal(items)
	tax := p.Tax(sub)
	ship := p.Shipping(sub)
	return Summary{
		Subtotal:  sub,
		Tax:       tax,
		Shipping:  ship,
		Total:     sub.Add(tax).Add(ship),
		ItemCount: ItemCount(items),
	}
}
