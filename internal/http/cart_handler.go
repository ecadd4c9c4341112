package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/cart"
	"github.com/fjod/trophythreads/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	AddItem(ctx context.Context, owner domain.Owner, ref string, quantity int) (*domain.CartItem, *domain.Cart, error)
	SetQuantity(ctx context.Context, owner domain.Owner, itemID int64, quantity int) (*cart.UpdateResult, error)
	Increment(ctx context.Context, owner domain.Owner, itemID int64) (*cart.UpdateResult, error)
	Decrement(ctx context.Context, owner domain.Owner, itemID int64) (*cart.UpdateResult, error)
	ToggleSelection(ctx context.Context, owner domain.Owner, itemID int64) (bool, *domain.Cart, error)
	SetAllSelection(ctx context.Context, owner domain.Owner, selected bool) (*domain.Cart, error)
	Remove(ctx context.Context, owner domain.Owner, itemID int64) (*domain.Cart, error)
}

// BuyNowDiscarder drops a pending buy-now handle when the cart page is shown.
type BuyNowDiscarder interface {
	DiscardBuyNow(ctx context.Context, sessionID string) error
}

type CartHandler struct {
	carts   CartService
	handles BuyNowDiscarder
	timeout time.Duration
}

func NewCartHandler(carts CartService, handles BuyNowDiscarder, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		handles: handles,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID   string `json:"product_id"`
	ExternalRef string `json:"external_ref"`
	Quantity    *int   `json:"quantity"`
}

type AddItemResponseDTO struct {
	ItemID       int64 `json:"item_id"`
	CartSubtotal int64 `json:"cart_subtotal"`
	TotalItems   int   `json:"total_items"`
}

type UpdateItemRequestDTO struct {
	Action   string `json:"action"`
	Quantity *int   `json:"quantity"`
}

type UpdateItemResponseDTO struct {
	Deleted      bool  `json:"deleted,omitempty"`
	Quantity     int   `json:"quantity"`
	LineTotal    int64 `json:"line_total"`
	CartSubtotal int64 `json:"cart_subtotal"`
	TotalItems   int   `json:"total_items"`
}

type SelectRequestDTO struct {
	Selected bool `json:"selected"`
}

type SelectResponseDTO struct {
	Selected     bool  `json:"selected"`
	CartSubtotal int64 `json:"cart_subtotal"`
}

type RemoveResponseDTO struct {
	Deleted      bool  `json:"deleted"`
	CartSubtotal int64 `json:"cart_subtotal"`
}

type CartItemDTO struct {
	ID             int64      `json:"id"`
	Kind           string     `json:"kind"`
	ProductID      *uuid.UUID `json:"product_id,omitempty"`
	Name           string     `json:"name"`
	Thumbnail      string     `json:"thumbnail,omitempty"`
	UnitPrice      int64      `json:"unit_price"`
	Quantity       int        `json:"quantity"`
	Selected       bool       `json:"selected"`
	LineTotal      int64      `json:"line_total"`
	AvailableStock int        `json:"available_stock"`
}

type CartResponseDTO struct {
	Items         []CartItemDTO `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	TotalItems    int           `json:"total_items"`
	SelectedCount int           `json:"selected_count"`
}

// GET /cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.handles.DiscardBuyNow(ctx, getSessionID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}

	c, err := h.carts.GetCart(ctx, getOwner(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(c))
}

// POST /cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	ref := req.ProductID
	if ref == "" {
		ref = req.ExternalRef
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	item, c, err := h.carts.AddItem(ctx, getOwner(r.Context()), ref, quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, AddItemResponseDTO{
		ItemID:       item.ID,
		CartSubtotal: c.Subtotal(),
		TotalItems:   c.TotalItemCount(),
	})
}

// POST /cart/items/{id}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	owner := getOwner(r.Context())
	var (
		res *cart.UpdateResult
		err error
	)
	switch req.Action {
	case "inc":
		res, err = h.carts.Increment(ctx, owner, itemID)
	case "dec":
		res, err = h.carts.Decrement(ctx, owner, itemID)
	case "set":
		if req.Quantity == nil {
			respondError(w, http.StatusBadRequest, "validation_error", "quantity is required for set")
			return
		}
		res, err = h.carts.SetQuantity(ctx, owner, itemID, *req.Quantity)
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "action must be one of inc, dec, set")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := UpdateItemResponseDTO{
		Deleted:      res.Deleted,
		CartSubtotal: res.Cart.Subtotal(),
		TotalItems:   res.Cart.TotalItemCount(),
	}
	if res.Item != nil {
		resp.Quantity = res.Item.Quantity
		resp.LineTotal = res.Item.LineTotal()
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /cart/items/{id}/select
func (h *CartHandler) ToggleSelect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	selected, c, err := h.carts.ToggleSelection(ctx, getOwner(r.Context()), itemID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, SelectResponseDTO{Selected: selected, CartSubtotal: c.Subtotal()})
}

// POST /cart/select-all
func (h *CartHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SelectRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.carts.SetAllSelection(ctx, getOwner(r.Context()), req.Selected)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, SelectResponseDTO{Selected: req.Selected, CartSubtotal: c.Subtotal()})
}

// DELETE /cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Remove(ctx, getOwner(r.Context()), itemID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, RemoveResponseDTO{Deleted: true, CartSubtotal: c.Subtotal()})
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item id must be a positive integer")
		return 0, false
	}
	return itemID, true
}

func toCartResponse(c *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for i := range c.Items {
		item := &c.Items[i]
		items = append(items, CartItemDTO{
			ID:             item.ID,
			Kind:           string(item.Kind()),
			ProductID:      item.ProductID,
			Name:           item.DisplayName(),
			Thumbnail:      thumbnail(item),
			UnitPrice:      item.EffectiveUnitPrice(),
			Quantity:       item.Quantity,
			Selected:       item.Selected,
			LineTotal:      item.LineTotal(),
			AvailableStock: item.AvailableStock(),
		})
	}
	return CartResponseDTO{
		Items:         items,
		Subtotal:      c.Subtotal(),
		TotalItems:    c.TotalItemCount(),
		SelectedCount: c.SelectedCount(),
	}
}

func thumbnail(item *domain.CartItem) string {
	if item.Product != nil && item.Product.Thumbnail != "" {
		return item.Product.Thumbnail
	}
	return item.Thumbnail
}
