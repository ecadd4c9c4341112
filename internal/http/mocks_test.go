package http

import (
	"context"

	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/cart"
	"github.com/fjod/trophythreads/internal/checkout"
	"github.com/fjod/trophythreads/internal/domain"
)

type mockCartService struct {
	cart   *domain.Cart
	item   *domain.CartItem
	result *cart.UpdateResult
	err    error

	lastOwner    domain.Owner
	lastRef      string
	lastQuantity int
	lastAction   string
}

func (m *mockCartService) GetCart(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.lastOwner = owner
	return m.cart, m.err
}

func (m *mockCartService) AddItem(_ context.Context, owner domain.Owner, ref string, quantity int) (*domain.CartItem, *domain.Cart, error) {
	m.lastOwner, m.lastRef, m.lastQuantity = owner, ref, quantity
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.item, m.cart, nil
}

func (m *mockCartService) SetQuantity(_ context.Context, owner domain.Owner, _ int64, quantity int) (*cart.UpdateResult, error) {
	m.lastOwner, m.lastQuantity, m.lastAction = owner, quantity, "set"
	return m.result, m.err
}

func (m *mockCartService) Increment(_ context.Context, owner domain.Owner, _ int64) (*cart.UpdateResult, error) {
	m.lastOwner, m.lastAction = owner, "inc"
	return m.result, m.err
}

func (m *mockCartService) Decrement(_ context.Context, owner domain.Owner, _ int64) (*cart.UpdateResult, error) {
	m.lastOwner, m.lastAction = owner, "dec"
	return m.result, m.err
}

func (m *mockCartService) ToggleSelection(_ context.Context, owner domain.Owner, _ int64) (bool, *domain.Cart, error) {
	m.lastOwner = owner
	if m.err != nil {
		return false, nil, m.err
	}
	return true, m.cart, nil
}

func (m *mockCartService) SetAllSelection(_ context.Context, owner domain.Owner, _ bool) (*domain.Cart, error) {
	m.lastOwner = owner
	return m.cart, m.err
}

func (m *mockCartService) Remove(_ context.Context, owner domain.Owner, _ int64) (*domain.Cart, error) {
	m.lastOwner = owner
	return m.cart, m.err
}

type mockCheckoutService struct {
	receipt *checkout.Receipt
	handle  *domain.OrderHandle
	err     error

	lastOwner     domain.Owner
	lastSession   string
	lastCheckout  checkout.CartCheckoutRequest
	lastBuyNow    checkout.BuyNowRequest
	lastToken     uuid.UUID
	discardCalled int
}

func (m *mockCheckoutService) CheckoutCart(_ context.Context, owner domain.Owner, sessionID string, req checkout.CartCheckoutRequest) (*checkout.Receipt, error) {
	m.lastOwner, m.lastSession, m.lastCheckout = owner, sessionID, req
	return m.receipt, m.err
}

func (m *mockCheckoutService) BuyNow(_ context.Context, owner domain.Owner, sessionID string, req checkout.BuyNowRequest) (*checkout.Receipt, error) {
	m.lastOwner, m.lastSession, m.lastBuyNow = owner, sessionID, req
	return m.receipt, m.err
}

func (m *mockCheckoutService) View(_ context.Context, owner domain.Owner, sessionID string) (*checkout.Receipt, error) {
	m.lastOwner, m.lastSession = owner, sessionID
	return m.receipt, m.err
}

func (m *mockCheckoutService) Confirm(_ context.Context, sessionID string) (*domain.OrderHandle, error) {
	m.lastSession = sessionID
	return m.handle, m.err
}

func (m *mockCheckoutService) ListOrder(_ context.Context, owner domain.Owner, sessionID string, token uuid.UUID) (*checkout.Receipt, error) {
	m.lastOwner, m.lastSession, m.lastToken = owner, sessionID, token
	return m.receipt, m.err
}

func (m *mockCheckoutService) DiscardBuyNow(_ context.Context, sessionID string) error {
	m.lastSession = sessionID
	m.discardCalled++
	return nil
}
