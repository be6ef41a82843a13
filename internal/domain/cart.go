package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemID identifies a catalog product. Persisted data may carry it as a
// JSON number or a JSON string; it is always written back as a string.
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("item id is empty")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id must be a string or a number: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// LineItem is one product entry in the cart or in the saved-for-later list.
type LineItem struct {
	ID            ItemID           `json:"id"`
	Name          string           `json:"name"`
	Variant       string           `json:"variant,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	Quantity      int              `json:"quantity"`
	Stock         int              `json:"stock"`
	Image         string           `json:"image,omitempty"`
	AddedAt       time.Time        `json:"addedAt"`
}

// LineTotal is price times quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Product is the catalog view of an item handed to AddToCart.
type Product struct {
	ID            ItemID           `json:"id"`
	Name          string           `json:"name"`
	Variant       string           `json:"variant,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	Stock         int              `json:"stock"`
	Image         string           `json:"image,omitempty"`
}

// ProductOf returns the catalog fields of a line item.
func ProductOf(li LineItem) Product {
	return Product{
		ID:            li.ID,
		Name:          li.Name,
		Variant:       li.Variant,
		Price:         li.Price,
		OriginalPrice: li.OriginalPrice,
		Stock:         li.Stock,
		Image:         li.Image,
	}
}

// CloneItems returns a copy of items that shares no backing array.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of id in items, or -1.
func IndexOf(items []LineItem, id ItemID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
