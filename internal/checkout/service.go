package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fjod/trophythreads/internal/cart"
	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/engine"
	"github.com/fjod/trophythreads/internal/repository"
	"github.com/fjod/trophythreads/internal/session"
)

type Carts interface {
	LoadCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	Resolve(ctx context.Context, ref string) (*cart.Resolved, error)
	Invalidate(owner domain.Owner)
}

type Committer interface {
	Commit(ctx context.Context, req engine.CommitRequest) (*engine.CommitResult, error)
	RecordDelivery(ctx context.Context, owner domain.Owner, token uuid.UUID, delivery domain.Delivery) error
}

type CartCheckoutRequest struct {
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

type BuyNowRequest struct {
	ProductRef string `json:"product_id"`
	Quantity   int    `json:"quantity"`
}

// Service is the only entry point to the commit engine. Both checkout paths
// end in one Commit call and leave exactly one Order Handle in the session.
type Service struct {
	carts     Carts
	committer Committer
	handles   session.HandleStore
	purchases repository.PurchaseRepository
	fees      Fees
}

func NewService(carts Carts, committer Committer, handles session.HandleStore, purchases repository.PurchaseRepository, fees Fees) *Service {
	return &Service{
		carts:     carts,
		committer: committer,
		handles:   handles,
		purchases: purchases,
		fees:      fees,
	}
}

func (s *Service) Fees() Fees {
	return s.fees
}

// CheckoutCart submits the checkout form. With a buy-now order pending in
// the session it completes that order; otherwise it commits every selected
// item of the owner's cart.
func (s *Service) CheckoutCart(ctx context.Context, owner domain.Owner, sessionID string, req CartCheckoutRequest) (*Receipt, error) {
	handle, err := s.handles.Peek(ctx, sessionID)
	if err != nil && !errors.Is(err, domain.ErrHandleNotFound) {
		return nil, err
	}
	if err == nil && handle.AwaitingCheckout() {
		return s.completeBuyNow(ctx, owner, sessionID, handle, req)
	}

	if err := s.handles.Clear(ctx, sessionID); err != nil {
		return nil, err
	}

	delivery, err := deliveryFrom(req)
	if err != nil {
		return nil, err
	}

	c, err := s.carts.LoadCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	selected := c.SelectedItems()
	if len(selected) == 0 {
		return nil, domain.ErrNoItemsSelected
	}

	lines := make([]domain.LineItem, 0, len(selected))
	itemIDs := make([]int64, 0, len(selected))
	refs := make([]string, 0, len(selected))
	for i := range selected {
		lines = append(lines, selected[i].LineItem())
		itemIDs = append(itemIDs, selected[i].ID)
		refs = append(refs, cartItemRef(&selected[i]))
	}

	res, err := s.committer.Commit(ctx, engine.CommitRequest{
		Owner:       owner,
		Items:       lines,
		CartItemIDs: itemIDs,
		Mode:        domain.OrderModeCart,
		Delivery:    delivery,
	})
	if err != nil {
		return nil, err
	}
	s.carts.Invalidate(owner)

	s.storeHandle(ctx, sessionID, domain.OrderModeCart, res, refs)
	return receiptFromPurchases(domain.OrderModeCart, s.fees, res.Purchases), nil
}

// completeBuyNow confirms the order committed by BuyNow. Nothing is
// committed again; the delivery details are recorded against the order.
func (s *Service) completeBuyNow(ctx context.Context, owner domain.Owner, sessionID string, handle *domain.OrderHandle, req CartCheckoutRequest) (*Receipt, error) {
	delivery, err := deliveryFrom(req)
	if err != nil {
		return nil, err
	}

	purchases, err := s.purchases.ListPurchasesByToken(ctx, handle.OrderToken, ownerUserID(owner))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("order", "no purchase found for buy now, please try again")
	}
	if err != nil {
		return nil, err
	}

	if err := s.committer.RecordDelivery(ctx, owner, handle.OrderToken, *delivery); err != nil {
		return nil, err
	}

	handle.Completed = true
	if err := s.handles.Put(ctx, sessionID, handle); err != nil {
		log.Error().Err(err).Str("order_token", handle.OrderToken.String()).Msg("failed to store order handle")
	}
	return receiptFromPurchases(domain.OrderModeBuyNow, s.fees, purchases), nil
}

// BuyNow commits a single product without touching the cart.
func (s *Service) BuyNow(ctx context.Context, owner domain.Owner, sessionID string, req BuyNowRequest) (*Receipt, error) {
	if err := s.handles.Clear(ctx, sessionID); err != nil {
		return nil, err
	}

	if err := domain.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	resolved, err := s.carts.Resolve(ctx, req.ProductRef)
	if err != nil {
		return nil, err
	}
	if snap := resolved.Snapshot; snap != nil && req.Quantity > snap.Stock {
		return nil, &domain.InsufficientStockError{Item: snap.Name, Requested: req.Quantity, Available: snap.Stock}
	}

	res, err := s.committer.Commit(ctx, engine.CommitRequest{
		Owner: owner,
		Items: []domain.LineItem{resolved.Line(req.Quantity)},
		Mode:  domain.OrderModeBuyNow,
	})
	if err != nil {
		return nil, err
	}

	s.storeHandle(ctx, sessionID, domain.OrderModeBuyNow, res, []string{resolvedRef(resolved)})
	return receiptFromPurchases(domain.OrderModeBuyNow, s.fees, res.Purchases), nil
}

// View renders the checkout page. A pending buy-now order is shown from its
// purchases; otherwise the current selection is previewed. It never commits.
func (s *Service) View(ctx context.Context, owner domain.Owner, sessionID string) (*Receipt, error) {
	handle, err := s.handles.Peek(ctx, sessionID)
	switch {
	case err == nil && handle.AwaitingCheckout():
		purchases, err := s.purchases.ListPurchasesByToken(ctx, handle.OrderToken, ownerUserID(owner))
		if err == nil {
			return receiptFromPurchases(domain.OrderModeBuyNow, s.fees, purchases), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	case err != nil && !errors.Is(err, domain.ErrHandleNotFound):
		return nil, err
	}

	if err := s.handles.Clear(ctx, sessionID); err != nil {
		return nil, err
	}
	c, err := s.carts.LoadCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	return receiptFromCart(s.fees, c.SelectedItems()), nil
}

// Confirm hands out the order handle once; later calls find nothing.
func (s *Service) Confirm(ctx context.Context, sessionID string) (*domain.OrderHandle, error) {
	return s.handles.Consume(ctx, sessionID)
}

// DiscardBuyNow drops a pending buy-now handle, leaving cart handles alone.
func (s *Service) DiscardBuyNow(ctx context.Context, sessionID string) error {
	handle, err := s.handles.Peek(ctx, sessionID)
	if errors.Is(err, domain.ErrHandleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !handle.AwaitingCheckout() {
		return nil
	}
	return s.handles.Clear(ctx, sessionID)
}

// ListOrder returns the purchases of one order. Signed-in users may read any
// of their orders; anonymous sessions only the order their handle points to.
func (s *Service) ListOrder(ctx context.Context, owner domain.Owner, sessionID string, token uuid.UUID) (*Receipt, error) {
	var mode domain.OrderMode
	handle, err := s.handles.Peek(ctx, sessionID)
	switch {
	case err == nil && handle.OrderToken == token:
		mode = handle.Mode
	case err != nil && !errors.Is(err, domain.ErrHandleNotFound):
		return nil, err
	case !owner.IsUser():
		return nil, domain.ErrOrderNotFound
	}

	purchases, err := s.purchases.ListPurchasesByToken(ctx, token, ownerUserID(owner))
	if err != nil {
		return nil, err
	}
	return receiptFromPurchases(mode, s.fees, purchases), nil
}

func (s *Service) storeHandle(ctx context.Context, sessionID string, mode domain.OrderMode, res *engine.CommitResult, refs []string) {
	handle := &domain.OrderHandle{
		OrderToken:  res.OrderToken,
		Mode:        mode,
		Summary:     res.Summary,
		ProductRefs: refs,
		CreatedAt:   time.Now().UTC(),
	}
	// The order is committed at this point; a lost handle only costs the
	// confirmation page.
	if err := s.handles.Put(ctx, sessionID, handle); err != nil {
		log.Error().Err(err).Str("order_token", res.OrderToken.String()).Msg("failed to store order handle")
	}
}

func deliveryFrom(req CartCheckoutRequest) (*domain.Delivery, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, domain.NewValidationError("address", "address required")
	}
	payment := strings.TrimSpace(req.PaymentMethod)
	if payment == "" {
		return nil, domain.NewValidationError("payment_method", "payment method required")
	}
	return &domain.Delivery{Address: address, PaymentMethod: payment}, nil
}

func cartItemRef(item *domain.CartItem) string {
	if item.ProductID != nil {
		return item.ProductID.String()
	}
	return "csv:" + item.Name
}

func resolvedRef(r *cart.Resolved) string {
	if r.Product != nil {
		return r.Product.ID.String()
	}
	return "csv:" + r.Snapshot.Name
}

func ownerUserID(owner domain.Owner) *int64 {
	if !owner.IsUser() {
		return nil
	}
	id := owner.UserID
	return &id
}
