package http

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/pricing"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type LineItemDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Variant       string `json:"variant,omitempty"`
	Price         string `json:"price"`
	OriginalPrice string `json:"original_price,omitempty"`
	Quantity      int    `json:"quantity"`
	Stock         int    `json:"stock"`
	Image         string `json:"image,omitempty"`
	LineTotal     string `json:"line_total"`
	AddedAt       string `json:"added_at"`
}

type SummaryDTO struct {
	Subtotal  string `json:"subtotal"`
	Tax       string `json:"tax"`
	Shipping  string `json:"shipping"`
	Total     string `json:"total"`
	ItemCount int    `json:"item_count"`
}

type CartResponse struct {
	Items   []LineItemDTO `json:"items"`
	Saved   []LineItemDTO `json:"saved"`
	Summary SummaryDTO    `json:"summary"`
}

type ItemsResponse struct {
	Items []LineItemDTO `json:"items"`
}

type PricingResponse struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func toItemDTOs(items []domain.LineItem) []LineItemDTO {
	out := make([]LineItemDTO, 0, len(items))
	for _, it := range items {
		dto := LineItemDTO{
			ID:        string(it.ID),
			Name:      it.Name,
			Variant:   it.Variant,
			Price:     money(it.Price),
			Quantity:  it.Quantity,
			Stock:     it.Stock,
			Image:     it.Image,
			LineTotal: money(it.LineTotal()),
		}
		if it.OriginalPrice != nil {
			dto.OriginalPrice = money(*it.OriginalPrice)
		}
		if !it.AddedAt.IsZero() {
			dto.AddedAt = it.AddedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, dto)
	}
	return out
}

func toSummaryDTO(s pricing.Summary) SummaryDTO {
	return SummaryDTO{
		Subtotal:  money(s.Subtotal),
		Tax:       money(s.Tax),
		Shipping:  money(s.Shipping),
		Total:     money(s.Total),
		ItemCount: s.ItemCount,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
