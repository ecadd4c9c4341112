package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/repository"
)

type recordedAttempt struct {
	mode  domain.OrderMode
	state domain.AttemptState
}

type mockRecorder struct {
	m         sync.Mutex
	attempts  []recordedAttempt
	durations int
}

func (r *mockRecorder) RecordAttempt(mode domain.OrderMode, state domain.AttemptState) {
	r.m.Lock()
	defer r.m.Unlock()
	r.attempts = append(r.attempts, recordedAttempt{mode: mode, state: state})
}

func (r *mockRecorder) ObserveCommitDuration(domain.OrderMode, time.Duration) {
	r.m.Lock()
	defer r.m.Unlock()
	r.durations++
}

func (r *mockRecorder) states() []domain.AttemptState {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]domain.AttemptState, 0, len(r.attempts))
	for _, a := range r.attempts {
		out = append(out, a.state)
	}
	return out
}

func setupEngine(t *testing.T) (*Engine, *repository.Repository, *mockRecorder) {
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations("../repository/migrations"))
	t.Cleanup(func() { repo.Close() })

	rec := &mockRecorder{}
	return NewEngine(repo, rec), repo, rec
}

func seedProduct(t *testing.T, repo *repository.Repository, name string, price int64, stock int) *domain.Product {
	p := &domain.Product{Name: name, Price: price, Stock: stock}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

func product(t *testing.T, repo *repository.Repository, id uuid.UUID) *domain.Product {
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func purchaseCount(t *testing.T, repo *repository.Repository) int {
	n, err := repo.CountPurchases(context.Background())
	require.NoError(t, err)
	return n
}

// addSelected puts a catalog product in the owner's cart and selects it.
func addSelected(t *testing.T, repo *repository.Repository, owner domain.Owner, p *domain.Product, qty int) domain.CartItem {
	ctx := context.Background()
	id, err := repo.AddCatalogItem(ctx, owner, p, qty)
	require.NoError(t, err)
	_, err = repo.ToggleItemSelected(ctx, owner, id)
	require.NoError(t, err)
	item, err := repo.GetItem(ctx, owner, id)
	require.NoError(t, err)
	return *item
}

func TestCommit_CartCheckout(t *testing.T) {
	eng, repo, rec := setupEngine(t)
	ctx := context.Background()
	owner := domain.UserOwner(7)
	a := seedProduct(t, repo, "Home Jersey", 150000, 5)
	b := seedProduct(t, repo, "Away Jersey", 140000, 4)

	itemA := addSelected(t, repo, owner, a, 2)
	itemB := addSelected(t, repo, owner, b, 1)

	res, err := eng.Commit(ctx, CommitRequest{
		Owner:       owner,
		Items:       []domain.LineItem{itemA.LineItem(), itemB.LineItem()},
		CartItemIDs: []int64{itemA.ID, itemB.ID},
		Mode:        domain.OrderModeCart,
	})
	require.NoError(t, err)

	require.Len(t, res.Purchases, 2)
	for _, p := range res.Purchases {
		assert.Equal(t, res.OrderToken, p.OrderToken)
		require.NotNil(t, p.UserID)
		assert.Equal(t, int64(7), *p.UserID)
		assert.NotZero(t, p.ID)
	}
	assert.Equal(t, "Home Jersey", res.Purchases[0].ProductName)
	assert.Equal(t, int64(150000), res.Purchases[0].UnitPrice)
	assert.Equal(t, domain.OrderSummary{Total: 440000, ItemCount: 2}, res.Summary)

	assert.Equal(t, 3, product(t, repo, a.ID).Stock)
	assert.Equal(t, 2, product(t, repo, a.ID).Sold)
	assert.Equal(t, 3, product(t, repo, b.ID).Stock)

	cart, err := repo.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	stored, err := repo.ListPurchasesByToken(ctx, res.OrderToken, res.Purchases[0].UserID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.OrderToken.String(), events[0].AggregateId)
	var evt domain.OrderCommittedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &evt))
	assert.Equal(t, domain.OrderModeCart, evt.Mode)
	assert.Equal(t, res.Summary, evt.Summary)
	assert.Equal(t, owner, evt.Owner())

	assert.Equal(t, []domain.AttemptState{
		domain.AttemptValidating, domain.AttemptCommitting, domain.AttemptCommitted,
	}, rec.states())
	assert.Equal(t, 1, rec.durations)
}

// A has enough stock, B does not: nothing may change and B is named.
func TestCommit_AtomicityRejectsWholeSelection(t *testing.T) {
	eng, repo, rec := setupEngine(t)
	ctx := context.Background()
	owner := domain.UserOwner(1)
	a := seedProduct(t, repo, "Product A", 10000, 5)
	b := seedProduct(t, repo, "Product B", 20000, 2)

	itemA := addSelected(t, repo, owner, a, 3)
	itemB := addSelected(t, repo, owner, b, 3)

	_, err := eng.Commit(ctx, CommitRequest{
		Owner:       owner,
		Items:       []domain.LineItem{itemA.LineItem(), itemB.LineItem()},
		CartItemIDs: []int64{itemA.ID, itemB.ID},
		Mode:        domain.OrderModeCart,
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Product B", stockErr.Item)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	assert.Equal(t, 5, product(t, repo, a.ID).Stock)
	assert.Equal(t, 0, product(t, repo, a.ID).Sold)
	assert.Equal(t, 2, product(t, repo, b.ID).Stock)
	assert.Equal(t, 0, purchaseCount(t, repo))

	cart, err := repo.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.Equal(t, []domain.AttemptState{domain.AttemptValidating, domain.AttemptRejected}, rec.states())
}

func TestCommit_AggregatesLinesOfSameProduct(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	p := seedProduct(t, repo, "Cap", 5000, 3)

	_, err := eng.Commit(context.Background(), CommitRequest{
		Owner: domain.UserOwner(1),
		Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 2), domain.NewCatalogLine(p.ID, 2)},
		Mode:  domain.OrderModeBuyNow,
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, product(t, repo, p.ID).Stock)
}

func TestCommit_ExactStockSucceeds(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	p := seedProduct(t, repo, "Cap", 5000, 3)

	_, err := eng.Commit(context.Background(), CommitRequest{
		Owner: domain.UserOwner(1),
		Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 3)},
		Mode:  domain.OrderModeBuyNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, product(t, repo, p.ID).Stock)
	assert.Equal(t, 3, product(t, repo, p.ID).Sold)
}

func TestCommit_MixedExternalAndCatalog(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	ctx := context.Background()
	owner := domain.SessionOwner("sess-1")
	p := seedProduct(t, repo, "Home Jersey", 150000, 5)

	scarf := domain.ExternalSnapshot{Ref: "csv_0", Name: "Vintage Scarf", Price: 50000, Stock: 1}
	res, err := eng.Commit(ctx, CommitRequest{
		Owner: owner,
		Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 1), domain.NewExternalLine(scarf, 3)},
		Mode:  domain.OrderModeBuyNow,
	})
	require.NoError(t, err, "external stock is never checked by the engine")

	require.Len(t, res.Purchases, 2)
	ext := res.Purchases[1]
	assert.Nil(t, ext.ProductID)
	assert.Nil(t, ext.UserID)
	assert.Equal(t, "Vintage Scarf", ext.ProductName)
	assert.Equal(t, int64(50000), ext.UnitPrice)
	assert.Equal(t, int64(300000), res.Summary.Total)
	assert.Equal(t, 4, product(t, repo, p.ID).Stock)

	stored, err := repo.ListPurchasesByToken(ctx, res.OrderToken, nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCommit_DoubleSubmitCommitsOnce(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	ctx := context.Background()
	owner := domain.UserOwner(3)
	p := seedProduct(t, repo, "Home Jersey", 150000, 10)
	item := addSelected(t, repo, owner, p, 2)

	req := CommitRequest{
		Owner:       owner,
		Items:       []domain.LineItem{item.LineItem()},
		CartItemIDs: []int64{item.ID},
		Mode:        domain.OrderModeCart,
	}
	_, err := eng.Commit(ctx, req)
	require.NoError(t, err)

	_, err = eng.Commit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrCartChanged)
	assert.Equal(t, 8, product(t, repo, p.ID).Stock)
	assert.Equal(t, 1, purchaseCount(t, repo))
}

func TestCommit_Validation(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	p := seedProduct(t, repo, "Cap", 5000, 3)
	line := domain.NewCatalogLine(p.ID, 1)

	cases := map[string]CommitRequest{
		"no owner":   {Items: []domain.LineItem{line}, Mode: domain.OrderModeCart},
		"no items":   {Owner: domain.UserOwner(1), Mode: domain.OrderModeCart},
		"bad mode":   {Owner: domain.UserOwner(1), Items: []domain.LineItem{line}, Mode: "gift"},
		"zero qty":   {Owner: domain.UserOwner(1), Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 0)}, Mode: domain.OrderModeCart},
		"empty kind": {Owner: domain.UserOwner(1), Items: []domain.LineItem{{Quantity: 1}}, Mode: domain.OrderModeCart},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := eng.Commit(context.Background(), req)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 3, product(t, repo, p.ID).Stock)
}

func TestCommit_MissingProduct(t *testing.T) {
	eng, _, _ := setupEngine(t)

	_, err := eng.Commit(context.Background(), CommitRequest{
		Owner: domain.UserOwner(1),
		Items: []domain.LineItem{domain.NewCatalogLine(uuid.New(), 1)},
		Mode:  domain.OrderModeBuyNow,
	})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCommit_ConcurrentNeverOversells(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	p := seedProduct(t, repo, "Limited Jersey", 300000, 10)

	const buyers = 8
	var (
		wg        sync.WaitGroup
		m         sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := eng.Commit(context.Background(), CommitRequest{
				Owner: domain.UserOwner(user),
				Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 3)},
				Mode:  domain.OrderModeBuyNow,
			})
			m.Lock()
			defer m.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.IsInsufficientStock(err):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, buyers-3, rejected)
	got := product(t, repo, p.ID)
	assert.Equal(t, 1, got.Stock)
	assert.Equal(t, 9, got.Sold)
	assert.Equal(t, 3, purchaseCount(t, repo))
}

type failingAtomic struct{ err error }

func (f failingAtomic) RunAtomic(context.Context, func(repository.Tx) error) error {
	return f.err
}

func TestCommit_ConcurrencyFailurePropagates(t *testing.T) {
	rec := &mockRecorder{}
	eng := NewEngine(failingAtomic{err: &domain.ConcurrencyFailure{Err: errors.New("lock timeout")}}, rec)

	_, err := eng.Commit(context.Background(), CommitRequest{
		Owner: domain.UserOwner(1),
		Items: []domain.LineItem{domain.NewCatalogLine(uuid.New(), 1)},
		Mode:  domain.OrderModeCart,
	})
	assert.True(t, domain.IsConcurrencyFailure(err))
	assert.Equal(t, []domain.AttemptState{domain.AttemptValidating, domain.AttemptRejected}, rec.states())
	assert.Zero(t, rec.durations)
}

func TestRecordDelivery_WritesOutboxOnly(t *testing.T) {
	eng, repo, _ := setupEngine(t)
	ctx := context.Background()
	p := seedProduct(t, repo, "Home Jersey", 150000, 5)
	owner := domain.SessionOwner("sess-9")

	res, err := eng.Commit(ctx, CommitRequest{
		Owner: owner,
		Items: []domain.LineItem{domain.NewCatalogLine(p.ID, 1)},
		Mode:  domain.OrderModeBuyNow,
	})
	require.NoError(t, err)

	delivery := domain.Delivery{Address: "Jl. Merdeka 1", PaymentMethod: "cod"}
	require.NoError(t, eng.RecordDelivery(ctx, owner, res.OrderToken, delivery))

	assert.Equal(t, 4, product(t, repo, p.ID).Stock)
	assert.Equal(t, 1, purchaseCount(t, repo))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, repository.EventTypeDeliveryRecorded, events[1].EventType)
	assert.Equal(t, res.OrderToken.String(), events[1].AggregateId)

	var evt domain.DeliveryRecordedEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &evt))
	assert.Equal(t, delivery, evt.Delivery)
	assert.Equal(t, "sess-9", evt.SessionKey)
	assert.Nil(t, evt.UserID)
}
