package http

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/trophythreads/internal/cache"
	"github.com/fjod/trophythreads/internal/cart"
	"github.com/fjod/trophythreads/internal/checkout"
	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/engine"
	"github.com/fjod/trophythreads/internal/external"
	"github.com/fjod/trophythreads/internal/repository"
	"github.com/fjod/trophythreads/internal/session"
)

// newStackRouter serves the real services over SQLite and miniredis.
func newStackRouter(t *testing.T) (http.Handler, *repository.Repository) {
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations("../repository/migrations"))
	t.Cleanup(func() { repo.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	carts := cart.NewCartService(repo, cache.NewRedisCache(client, 0), external.Chain{})
	svc := checkout.NewService(carts, engine.NewEngine(repo, nil), session.NewRedisHandleStore(client, 0), repo, checkout.DefaultFees())

	return NewRouter(RouterConfig{
		Carts:          NewCartHandler(carts, svc, 5*time.Second),
		Checkout:       NewCheckoutHandler(svc, 5*time.Second),
		RequestTimeout: 10 * time.Second,
	}), repo
}

func TestCheckoutForm_CompletesPendingBuyNow(t *testing.T) {
	h, repo := newStackRouter(t)
	ctx := context.Background()

	c := &domain.Product{Name: "Product C", Price: 75000, Stock: 10}
	other := &domain.Product{Name: "Away Jersey", Price: 140000, Stock: 10}
	require.NoError(t, repo.CreateProduct(ctx, c))
	require.NoError(t, repo.CreateProduct(ctx, other))

	rec := doRequest(t, h, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": other.ID.String(), "quantity": 3}, withUser("7"))
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decode[AddItemResponseDTO](t, rec)
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/cart/items/%d/select", added.ItemID), nil, withUser("7"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/buy-now", map[string]interface{}{"product_id": c.ID.String(), "quantity": 2}, withUser("7"))
	require.Equal(t, http.StatusCreated, rec.Code)
	bought := decode[checkout.Receipt](t, rec)
	require.NotNil(t, bought.OrderToken)

	rec = doRequest(t, h, http.MethodPost, "/checkout", map[string]string{"address": "Jl. Merdeka 1", "payment_method": "cod"}, withUser("7"))
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decode[checkout.Receipt](t, rec)
	require.NotNil(t, receipt.OrderToken)
	assert.Equal(t, *bought.OrderToken, *receipt.OrderToken)
	assert.Equal(t, domain.OrderModeBuyNow, receipt.Mode)

	n, err := repo.CountPurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, err := repo.GetProduct(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestQuantityCap_IsBadRequest(t *testing.T) {
	h, repo := newStackRouter(t)
	ctx := context.Background()

	p := &domain.Product{Name: "Training Top", Price: 90000, Stock: 10}
	require.NoError(t, repo.CreateProduct(ctx, p))

	rec := doRequest(t, h, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String(), "quantity": domain.MaxLineQuantity}, withUser("7"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, h, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String(), "quantity": 1}, withUser("7"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/buy-now", map[string]interface{}{"product_id": p.ID.String(), "quantity": domain.MaxLineQuantity + 1}, withUser("7"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := repo.CountPurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
