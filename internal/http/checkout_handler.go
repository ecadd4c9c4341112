package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/checkout"
	"github.com/fjod/trophythreads/internal/domain"
)

type CheckoutService interface {
	CheckoutCart(ctx context.Context, owner domain.Owner, sessionID string, req checkout.CartCheckoutRequest) (*checkout.Receipt, error)
	BuyNow(ctx context.Context, owner domain.Owner, sessionID string, req checkout.BuyNowRequest) (*checkout.Receipt, error)
	View(ctx context.Context, owner domain.Owner, sessionID string) (*checkout.Receipt, error)
	Confirm(ctx context.Context, sessionID string) (*domain.OrderHandle, error)
	ListOrder(ctx context.Context, owner domain.Owner, sessionID string, token uuid.UUID) (*checkout.Receipt, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(svc CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: svc,
		timeout:  timeout,
	}
}

type BuyNowRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

// POST /checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req checkout.CartCheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.checkout.CheckoutCart(ctx, getOwner(r.Context()), getSessionID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// POST /buy-now
func (h *CheckoutHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req BuyNowRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	receipt, err := h.checkout.BuyNow(ctx, getOwner(r.Context()), getSessionID(r.Context()), checkout.BuyNowRequest{
		ProductRef: req.ProductID,
		Quantity:   quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// GET /checkout
func (h *CheckoutHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	receipt, err := h.checkout.View(ctx, getOwner(r.Context()), getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

// GET /checkout/confirmation
func (h *CheckoutHandler) Confirmation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	handle, err := h.checkout.Confirm(ctx, getSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, handle)
}

// GET /orders/{token}
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_token", "order token must be a UUID")
		return
	}

	receipt, err := h.checkout.ListOrder(ctx, getOwner(r.Context()), getSessionID(r.Context()), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}
