package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/repository"
)

// Recorder receives attempt outcomes. internal/metrics implements it.
type Recorder interface {
	RecordAttempt(mode domain.OrderMode, state domain.AttemptState)
	ObserveCommitDuration(mode domain.OrderMode, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(domain.OrderMode, domain.AttemptState)  {}
func (nopRecorder) ObserveCommitDuration(domain.OrderMode, time.Duration) {}

type CommitRequest struct {
	Owner domain.Owner
	Items []domain.LineItem
	// CartItemIDs are deleted in the same transaction; empty for buy-now.
	CartItemIDs []int64
	Mode        domain.OrderMode
	Delivery    *domain.Delivery
}

type CommitResult struct {
	OrderToken uuid.UUID
	Purchases  []domain.Purchase
	Summary    domain.OrderSummary
}

// Engine is the single commit routine behind both checkout paths.
type Engine struct {
	store    repository.Atomic
	recorder Recorder
	now      func() time.Time
}

func NewEngine(store repository.Atomic, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		store:    store,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Commit turns the given lines into purchases sharing one order token.
// Either every line is committed, stock is moved and the cart items are
// deleted, or nothing changes.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	started := e.now()
	attempt := newTrackedAttempt(e.recorder, req.Mode, req.Owner)

	attempt.to(domain.AttemptValidating)
	if err := validateRequest(req); err != nil {
		attempt.reject(err)
		return nil, err
	}

	catalog, external := partition(req.Items)
	token := uuid.New()
	var result *CommitResult

	err := e.store.RunAtomic(ctx, func(tx repository.Tx) error {
		ids := make([]uuid.UUID, 0, len(catalog))
		for _, line := range catalog {
			ids = append(ids, line.ProductID)
		}
		locked, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		demand := aggregate(catalog)
		for _, id := range demandOrder(catalog) {
			p := locked[id]
			if demand[id] > p.Stock {
				return &domain.InsufficientStockError{Item: p.Name, Requested: demand[id], Available: p.Stock}
			}
		}

		attempt.to(domain.AttemptCommitting)
		for _, id := range demandOrder(catalog) {
			if err := tx.DecrementStock(ctx, id, demand[id]); err != nil {
				return err
			}
		}

		createdAt := e.now()
		purchases := make([]domain.Purchase, 0, len(req.Items))
		for _, line := range req.Items {
			p := newPurchase(token, req.Owner, line, locked, createdAt)
			if err := tx.InsertPurchase(ctx, &p); err != nil {
				return err
			}
			purchases = append(purchases, p)
		}

		if err := tx.DeleteCartItems(ctx, req.Owner, req.CartItemIDs); err != nil {
			return err
		}

		result = &CommitResult{
			OrderToken: token,
			Purchases:  purchases,
			Summary:    domain.SummarizePurchases(purchases),
		}
		payload, err := json.Marshal(domain.OrderCommittedEvent{
			OrderToken:  token,
			UserID:      ownerUserID(req.Owner),
			SessionKey:  req.Owner.SessionKey,
			Mode:        req.Mode,
			Delivery:    req.Delivery,
			Purchases:   purchases,
			Summary:     result.Summary,
			CommittedAt: createdAt,
		})
		if err != nil {
			return fmt.Errorf("marshal order event: %w", err)
		}
		return tx.InsertOutboxEvent(ctx, token.String(), repository.EventTypeOrderCommitted, payload)
	})
	if err != nil {
		attempt.reject(err)
		return nil, err
	}

	attempt.to(domain.AttemptCommitted)
	e.recorder.ObserveCommitDuration(req.Mode, e.now().Sub(started))
	log.Info().
		Str("order_token", token.String()).
		Str("mode", req.Mode.String()).
		Int("lines", len(result.Purchases)).
		Int("external_lines", len(external)).
		Int64("total", result.Summary.Total).
		Msg("order committed")
	return result, nil
}

// RecordDelivery attaches delivery details to an order that is already
// committed. It only writes an outbox event; stock and purchases stay as
// they are.
func (e *Engine) RecordDelivery(ctx context.Context, owner domain.Owner, token uuid.UUID, delivery domain.Delivery) error {
	payload, err := json.Marshal(domain.DeliveryRecordedEvent{
		OrderToken: token,
		UserID:     ownerUserID(owner),
		SessionKey: owner.SessionKey,
		Delivery:   delivery,
		RecordedAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}
	return e.store.RunAtomic(ctx, func(tx repository.Tx) error {
		return tx.InsertOutboxEvent(ctx, token.String(), repository.EventTypeDeliveryRecorded, payload)
	})
}

func validateRequest(req CommitRequest) error {
	if !req.Owner.Valid() {
		return domain.NewValidationError("owner", "no identity on request")
	}
	if !req.Mode.Valid() {
		return domain.NewValidationError("mode", fmt.Sprintf("unknown order mode %q", req.Mode))
	}
	if len(req.Items) == 0 {
		return domain.ErrNoItemsSelected
	}
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.NewValidationError("quantity", "quantity must be at least 1")
		}
		if !line.IsCatalog() && line.Kind != domain.LineKindExternal {
			return domain.NewValidationError("items", fmt.Sprintf("unknown line kind %q", line.Kind))
		}
	}
	return nil
}

func partition(items []domain.LineItem) (catalog, external []domain.LineItem) {
	for _, line := range items {
		if line.IsCatalog() {
			catalog = append(catalog, line)
		} else {
			external = append(external, line)
		}
	}
	return catalog, external
}

// aggregate sums quantities per product so that two lines for the same
// product are checked against stock together.
func aggregate(lines []domain.LineItem) map[uuid.UUID]int {
	demand := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		demand[line.ProductID] += line.Quantity
	}
	return demand
}

// demandOrder lists distinct product ids in first-seen order, so the first
// failing line of the request is the one reported.
func demandOrder(lines []domain.LineItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	order := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		order = append(order, line.ProductID)
	}
	return order
}

func newPurchase(token uuid.UUID, owner domain.Owner, line domain.LineItem, locked map[uuid.UUID]*domain.Product, at time.Time) domain.Purchase {
	p := domain.Purchase{
		OrderToken: token,
		UserID:     ownerUserID(owner),
		Quantity:   line.Quantity,
		CreatedAt:  at,
	}
	if line.IsCatalog() {
		product := locked[line.ProductID]
		id := product.ID
		p.ProductID = &id
		p.ProductName = product.Name
		p.UnitPrice = product.Price
		return p
	}
	p.ProductName = line.Snapshot.Name
	p.UnitPrice = line.Snapshot.Price
	return p
}

func ownerUserID(owner domain.Owner) *int64 {
	if !owner.IsUser() {
		return nil
	}
	id := owner.UserID
	return &id
}
