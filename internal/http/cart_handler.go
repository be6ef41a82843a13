package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/fjod/storefront-cart/internal/logger"
	"github.com/fjod/storefront-cart/internal/pricing"
	"github.com/fjod/storefront-cart/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartStore is what the handlers need from the cart store.
type CartStore interface {
	AddToCart(p domain.Product, quantity int) []domain.LineItem
	UpdateQuantity(id domain.ItemID, quantity int) []domain.LineItem
	RemoveFromCart(id domain.ItemID) []domain.LineItem
	SaveForLater(id domain.ItemID) (cart, saved []domain.LineItem)
	MoveToCart(id domain.ItemID) (cart, saved []domain.LineItem)
	RemoveFromSaved(id domain.ItemID) []domain.LineItem
	ClearCart() []domain.LineItem
	CartItems() []domain.LineItem
	SavedItems() []domain.LineItem
	Summary() pricing.Summary
	Snapshot() service.Snapshot
	CalculateTax(subtotal decimal.Decimal) decimal.Decimal
	CalculateShipping(subtotal decimal.Decimal) decimal.Decimal
}

type CartHandler struct {
	store CartStore
}

func NewCartHandler(store CartStore) *CartHandler {
	return &CartHandler{store: store}
}

type AddItemRequestDTO struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

// maxQuantity bounds a single request, matching the storefront's stepper.
const maxQuantity = 99

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	p := req.Product
	p.ID = domain.ItemID(strings.TrimSpace(string(p.ID)))
	if p.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id is required")
		return
	}
	if p.Price.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "product.price must not be negative")
		return
	}
	if p.Stock < 0 {
		respondError(w, http.StatusBadRequest, "invalid_stock", "product.stock must not be negative")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	h.store.AddToCart(p, req.Quantity)
	logger.FromContext(r.Context()).Debug("item added", zap.String("item_id", string(p.ID)), zap.Int("quantity", req.Quantity))
	h.respondCart(w, http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id := itemIDParam(r)

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}
	if *req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	h.store.UpdateQuantity(id, *req.Quantity)
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.store.RemoveFromCart(itemIDParam(r))
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) SaveForLater(w http.ResponseWriter, r *http.Request) {
	h.store.SaveForLater(itemIDParam(r))
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.store.ClearCart()
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toSummaryDTO(h.store.Summary()))
}

func (h *CartHandler) GetSaved(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ItemsResponse{Items: toItemDTOs(h.store.SavedItems())})
}

func (h *CartHandler) MoveToCart(w http.ResponseWriter, r *http.Request) {
	h.store.MoveToCart(itemIDParam(r))
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) RemoveSaved(w http.ResponseWriter, r *http.Request) {
	h.store.RemoveFromSaved(itemIDParam(r))
	h.respondCart(w, http.StatusOK)
}

// Quote prices an arbitrary subtotal, for previews before items are added.
func (h *CartHandler) Quote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("subtotal")
	subtotal, err := decimal.NewFromString(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_subtotal", "subtotal must be a decimal number")
		return
	}
	respondJSON(w, http.StatusOK, PricingResponse{
		Subtotal: money(subtotal),
		Tax:      money(h.store.CalculateTax(subtotal)),
		Shipping: money(h.store.CalculateShipping(subtotal)),
	})
}

func (h *CartHandler) respondCart(w http.ResponseWriter, status int) {
	snap := h.store.Snapshot()
	respondJSON(w, status, CartResponse{
		Items:   toItemDTOs(snap.Cart),
		Saved:   toItemDTOs(snap.Saved),
		Summary: toSummaryDTO(snap.Summary),
	})
}

func itemIDParam(r *http.Request) domain.ItemID {
	return domain.ItemID(chi.URLParam(r, "item_id"))
}
