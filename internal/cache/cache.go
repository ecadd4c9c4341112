package cache

import (
	"context"
	"errors"

	"github.com/fjod/trophythreads/internal/domain"
)

// CartCache holds read views of carts keyed by owner. It is never the source
// of truth: stock checks and commits always read the database.
type CartCache interface {
	Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	Set(ctx context.Context, owner domain.Owner, cart *domain.Cart) error
	Delete(ctx context.Context, owner domain.Owner) error
}

var ErrCacheMiss = errors.New("cache miss")
