package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/cache"
	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/external"
	"github.com/fjod/trophythreads/internal/repository"
)

type mockStore struct {
	m        sync.Mutex
	products map[uuid.UUID]*domain.Product
	carts    map[string]*domain.Cart
	nextID   int64
	getCalls int
	err      error
}

func newMockStore(products ...*domain.Product) *mockStore {
	s := &mockStore{
		products: make(map[uuid.UUID]*domain.Product),
		carts:    make(map[string]*domain.Cart),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (m *mockStore) cart(owner domain.Owner) *domain.Cart {
	c, ok := m.carts[owner.Key()]
	if !ok {
		c = &domain.Cart{ID: int64(len(m.carts) + 1), Items: []domain.CartItem{}, CreatedAt: time.Now()}
		m.carts[owner.Key()] = c
	}
	return c
}

// withProducts joins live catalog rows the way the repository does.
func (m *mockStore) withProducts(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = make([]domain.CartItem, len(c.Items))
	for i, item := range c.Items {
		if item.ProductID != nil {
			p := *m.products[*item.ProductID]
			item.Product = &p
		}
		out.Items[i] = item
	}
	return &out
}

func (m *mockStore) GetCart(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return m.withProducts(c), nil
}

func (m *mockStore) GetOrCreateCart(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return m.withProducts(m.cart(owner)), nil
}

func (m *mockStore) GetItem(_ context.Context, owner domain.Owner, itemID int64) (*domain.CartItem, error) {
	m.m.Lock()
	defer m.m.Unlock()
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil, domain.ErrCartItemNotFound
	}
	item, ok := m.withProducts(c).FindItem(itemID)
	if !ok {
		return nil, domain.ErrCartItemNotFound
	}
	return item, nil
}

func (m *mockStore) AddCatalogItem(_ context.Context, owner domain.Owner, product *domain.Product, quantity int) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	c := m.cart(owner)
	for i := range c.Items {
		if c.Items[i].ProductID != nil && *c.Items[i].ProductID == product.ID {
			c.Items[i].Quantity += quantity
			return c.Items[i].ID, nil
		}
	}
	m.nextID++
	id := product.ID
	c.Items = append(c.Items, domain.CartItem{ID: m.nextID, CartID: c.ID, ProductID: &id, Quantity: quantity})
	return m.nextID, nil
}

func (m *mockStore) AddExternalItem(_ context.Context, owner domain.Owner, snap domain.ExternalSnapshot, quantity int) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	c := m.cart(owner)
	for i := range c.Items {
		if c.Items[i].ProductID == nil && c.Items[i].Name == snap.Name {
			c.Items[i].Quantity += quantity
			return c.Items[i].ID, nil
		}
	}
	m.nextID++
	c.Items = append(c.Items, domain.CartItem{
		ID: m.nextID, CartID: c.ID, Name: snap.Name, UnitPrice: snap.Price,
		StockHint: snap.Stock, Thumbnail: snap.Thumbnail, Quantity: quantity,
	})
	return m.nextID, nil
}

func (m *mockStore) find(owner domain.Owner, itemID int64) (*domain.CartItem, error) {
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil, domain.ErrCartItemNotFound
	}
	item, ok := c.FindItem(itemID)
	if !ok {
		return nil, domain.ErrCartItemNotFound
	}
	return item, nil
}

func (m *mockStore) UpdateItemQuantity(_ context.Context, owner domain.Owner, itemID int64, quantity int) error {
	m.m.Lock()
	defer m.m.Unlock()
	item, err := m.find(owner, itemID)
	if err != nil {
		return err
	}
	item.Quantity = quantity
	return nil
}

func (m *mockStore) ToggleItemSelected(_ context.Context, owner domain.Owner, itemID int64) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	item, err := m.find(owner, itemID)
	if err != nil {
		return false, err
	}
	item.Selected = !item.Selected
	return item.Selected, nil
}

func (m *mockStore) SetAllSelected(_ context.Context, owner domain.Owner, selected bool) error {
	m.m.Lock()
	defer m.m.Unlock()
	if c, ok := m.carts[owner.Key()]; ok {
		for i := range c.Items {
			c.Items[i].Selected = selected
		}
	}
	return nil
}

func (m *mockStore) RemoveItem(_ context.Context, owner domain.Owner, itemID int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	c, ok := m.carts[owner.Key()]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	for i, item := range c.Items {
		if item.ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return domain.ErrCartItemNotFound
}

func (m *mockStore) GetProduct(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	m.m.Lock()
	defer m.m.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateProduct(_ context.Context, p *domain.Product) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.products[p.ID] = p
	return nil
}

type mockCache struct {
	m       sync.Mutex
	carts   map[string]*domain.Cart
	deletes int
	err     error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Set(_ context.Context, owner domain.Owner, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[owner.Key()] = cart
	return m.err
}

func (m *mockCache) Delete(_ context.Context, owner domain.Owner) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, owner.Key())
	return nil
}

type mockSource struct {
	snaps map[string]domain.ExternalSnapshot
	calls int
}

func (m *mockSource) Lookup(_ context.Context, ref string) (*domain.ExternalSnapshot, error) {
	m.calls++
	snap, ok := m.snaps[ref]
	if !ok {
		return nil, external.ErrNotFound
	}
	return &snap, nil
}
