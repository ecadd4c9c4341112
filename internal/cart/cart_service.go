package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/trophythreads/internal/cache"
	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/external"
	"github.com/fjod/trophythreads/internal/repository"
)

// Store is the part of the repository the cart needs.
type Store interface {
	repository.CartRepository
	repository.CatalogRepository
}

type CartService struct {
	repo     Store
	cache    cache.CartCache
	external external.Source
	sfg      singleflight.Group // Prevents cache stampede
}

// UpdateResult reports the outcome of a quantity change. Item is nil when
// the change removed the item.
type UpdateResult struct {
	Deleted bool
	Item    *domain.CartItem
	Cart    *domain.Cart
}

func NewCartService(repo Store, cache cache.CartCache, source external.Source) *CartService {
	return &CartService{
		repo:     repo,
		cache:    cache,
		external: source,
	}
}

// Resolved is a product reference decided once: exactly one of Product and
// Snapshot is set.
type Resolved struct {
	Product  *domain.Product
	Snapshot *domain.ExternalSnapshot
}

func (r *Resolved) Line(quantity int) domain.LineItem {
	if r.Product != nil {
		return domain.NewCatalogLine(r.Product.ID, quantity)
	}
	return domain.NewExternalLine(*r.Snapshot, quantity)
}

func (r *Resolved) Name() string {
	if r.Product != nil {
		return r.Product.Name
	}
	return r.Snapshot.Name
}

// Resolve decides whether ref names a catalog product or an external one.
// A UUID present in the catalog wins; anything else goes to the external
// source exactly once.
func (s *CartService) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	if ref == "" {
		return nil, domain.NewValidationError("product_id", "product reference is required")
	}

	if id, err := uuid.Parse(ref); err == nil {
		p, err := s.repo.GetProduct(ctx, id)
		if err == nil {
			return &Resolved{Product: p}, nil
		}
		if !errors.Is(err, domain.ErrProductNotFound) {
			return nil, err
		}
	}

	if s.external == nil {
		return nil, domain.ErrProductNotFound
	}
	snap, err := s.external.Lookup(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", ref, domain.ErrProductNotFound)
		}
		return nil, fmt.Errorf("external lookup failed: %w", err)
	}
	return &Resolved{Snapshot: snap}, nil
}

func (s *CartService) GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if !owner.Valid() {
		return nil, domain.NewValidationError("owner", "no identity on request")
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(owner.Key(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("owner", owner.Key()).Msg("cache get error")
		}

		cart, err = s.LoadCart(ctx, owner)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, owner, cart); err != nil {
			log.Warn().Err(err).Str("owner", owner.Key()).Msg("cache set error")
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// LoadCart reads the cart straight from the store, bypassing the cache.
// A missing cart is an empty one; carts are only created by the first
// mutation.
func (s *CartService) LoadCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, owner)
	if errors.Is(err, repository.ErrCartNotFound) {
		now := time.Now().UTC()
		empty := &domain.Cart{Items: []domain.CartItem{}, CreatedAt: now, UpdatedAt: now}
		if owner.IsUser() {
			id := owner.UserID
			empty.UserID = &id
		} else {
			key := owner.SessionKey
			empty.SessionKey = &key
		}
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem adds quantity of ref to the owner's cart. Adding a product that is
// already in the cart increases its quantity. Stock is not checked here.
func (s *CartService) AddItem(ctx context.Context, owner domain.Owner, ref string, quantity int) (*domain.CartItem, *domain.Cart, error) {
	if !owner.Valid() {
		return nil, nil, domain.NewValidationError("owner", "no identity on request")
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, nil, err
	}

	resolved, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	var itemID int64
	if resolved.Product != nil {
		itemID, err = s.repo.AddCatalogItem(ctx, owner, resolved.Product, quantity)
	} else {
		itemID, err = s.repo.AddExternalItem(ctx, owner, *resolved.Snapshot, quantity)
	}
	if err != nil {
		log.Error().Err(err).Str("owner", owner.Key()).Str("ref", ref).Msg("repo add item error")
		return nil, nil, err
	}
	s.invalidateCache(owner)

	return s.itemAndCart(ctx, owner, itemID)
}

// SetQuantity sets an absolute quantity. Zero or less removes the item.
func (s *CartService) SetQuantity(ctx context.Context, owner domain.Owner, itemID int64, quantity int) (*UpdateResult, error) {
	if quantity <= 0 {
		return s.removeAndReport(ctx, owner, itemID)
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	item, err := s.repo.GetItem(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	if available := item.AvailableStock(); quantity > available {
		return nil, &domain.InsufficientStockError{Item: item.DisplayName(), Requested: quantity, Available: available}
	}

	if err := s.repo.UpdateItemQuantity(ctx, owner, itemID, quantity); err != nil {
		log.Error().Err(err).Str("owner", owner.Key()).Int64("item_id", itemID).Msg("repo update item quantity error")
		return nil, err
	}
	s.invalidateCache(owner)

	updated, cart, err := s.itemAndCart(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Item: updated, Cart: cart}, nil
}

func (s *CartService) Increment(ctx context.Context, owner domain.Owner, itemID int64) (*UpdateResult, error) {
	item, err := s.repo.GetItem(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	return s.SetQuantity(ctx, owner, itemID, item.Quantity+1)
}

// Decrement lowers the quantity by one; at one the item is removed.
func (s *CartService) Decrement(ctx context.Context, owner domain.Owner, itemID int64) (*UpdateResult, error) {
	item, err := s.repo.GetItem(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	if item.Quantity <= 1 {
		return s.removeAndReport(ctx, owner, itemID)
	}

	if err := s.repo.UpdateItemQuantity(ctx, owner, itemID, item.Quantity-1); err != nil {
		log.Error().Err(err).Str("owner", owner.Key()).Int64("item_id", itemID).Msg("repo update item quantity error")
		return nil, err
	}
	s.invalidateCache(owner)

	updated, cart, err := s.itemAndCart(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Item: updated, Cart: cart}, nil
}

func (s *CartService) ToggleSelection(ctx context.Context, owner domain.Owner, itemID int64) (bool, *domain.Cart, error) {
	selected, err := s.repo.ToggleItemSelected(ctx, owner, itemID)
	if err != nil {
		return false, nil, err
	}
	s.invalidateCache(owner)

	cart, err := s.LoadCart(ctx, owner)
	if err != nil {
		return false, nil, err
	}
	return selected, cart, nil
}

func (s *CartService) SetAllSelection(ctx context.Context, owner domain.Owner, selected bool) (*domain.Cart, error) {
	if !owner.Valid() {
		return nil, domain.NewValidationError("owner", "no identity on request")
	}
	if err := s.repo.SetAllSelected(ctx, owner, selected); err != nil {
		log.Error().Err(err).Str("owner", owner.Key()).Msg("repo select all error")
		return nil, err
	}
	s.invalidateCache(owner)
	return s.LoadCart(ctx, owner)
}

func (s *CartService) Remove(ctx context.Context, owner domain.Owner, itemID int64) (*domain.Cart, error) {
	if err := s.repo.RemoveItem(ctx, owner, itemID); err != nil {
		log.Error().Err(err).Str("owner", owner.Key()).Int64("item_id", itemID).Msg("repo remove item error")
		return nil, err
	}
	s.invalidateCache(owner)
	return s.LoadCart(ctx, owner)
}

// Invalidate drops the cached view, used after a commit consumed items.
func (s *CartService) Invalidate(owner domain.Owner) {
	s.invalidateCache(owner)
}

func (s *CartService) removeAndReport(ctx context.Context, owner domain.Owner, itemID int64) (*UpdateResult, error) {
	cart, err := s.Remove(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Deleted: true, Cart: cart}, nil
}

func (s *CartService) itemAndCart(ctx context.Context, owner domain.Owner, itemID int64) (*domain.CartItem, *domain.Cart, error) {
	cart, err := s.LoadCart(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	item, ok := cart.FindItem(itemID)
	if !ok {
		return nil, nil, domain.ErrCartItemNotFound
	}
	return item, cart, nil
}

func (s *CartService) invalidateCache(owner domain.Owner) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owner); err != nil {
		log.Warn().Err(err).Str("owner", owner.Key()).Msg("cache invalidate error")
	}
}
