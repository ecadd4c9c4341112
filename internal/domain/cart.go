package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Owner identifies whoever a cart belongs to: a signed-in user or an
// anonymous session, never both.
type Owner struct {
	UserID     int64
	SessionKey string
}

func UserOwner(userID int64) Owner {
	return Owner{UserID: userID}
}

func SessionOwner(sessionKey string) Owner {
	return Owner{SessionKey: sessionKey}
}

func (o Owner) IsUser() bool {
	return o.UserID != 0
}

func (o Owner) Valid() bool {
	return (o.UserID != 0) != (o.SessionKey != "")
}

// Key is used for cache and session-scoped keys
func (o Owner) Key() string {
	if o.IsUser() {
		return fmt.Sprintf("user:%d", o.UserID)
	}
	return "session:" + o.SessionKey
}

type Cart struct {
	ID         int64      `json:"id"`
	UserID     *int64     `json:"user_id,omitempty"`
	SessionKey *string    `json:"session_key,omitempty"`
	Items      []CartItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CartItem is either catalog-backed (ProductID set, price and stock read from
// the live product row) or an external snapshot captured at add time.
type CartItem struct {
	ID        int64      `json:"id"`
	CartID    int64      `json:"cart_id"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Name      string     `json:"name"`
	UnitPrice int64      `json:"unit_price"`
	Thumbnail string     `json:"thumbnail,omitempty"`
	StockHint int        `json:"stock_hint"`
	Quantity  int        `json:"quantity"`
	Selected  bool       `json:"selected"`
	CreatedAt time.Time  `json:"created_at"`

	// Product is the live catalog row, loaded for catalog-backed items only.
	Product *Product `json:"product,omitempty"`
}

func (i *CartItem) Kind() LineKind {
	if i.ProductID != nil {
		return LineKindCatalog
	}
	return LineKindExternal
}

func (i *CartItem) DisplayName() string {
	if i.Product != nil {
		return i.Product.Name
	}
	return i.Name
}

func (i *CartItem) EffectiveUnitPrice() int64 {
	if i.Product != nil {
		return i.Product.Price
	}
	return i.UnitPrice
}

// AvailableStock is the live catalog stock for catalog-backed items and the
// stored hint for external ones.
func (i *CartItem) AvailableStock() int {
	if i.Product != nil {
		return i.Product.Stock
	}
	return i.StockHint
}

func (i *CartItem) LineTotal() int64 {
	return int64(i.Quantity) * i.EffectiveUnitPrice()
}

// LineItem converts a cart row into the variant the commit engine consumes.
func (i *CartItem) LineItem() LineItem {
	if i.ProductID != nil {
		line := NewCatalogLine(*i.ProductID, i.Quantity)
		line.CartItemID = i.ID
		return line
	}
	line := NewExternalLine(ExternalSnapshot{
		Name:      i.Name,
		Price:     i.UnitPrice,
		Stock:     i.StockHint,
		Thumbnail: i.Thumbnail,
	}, i.Quantity)
	line.CartItemID = i.ID
	return line
}

// Subtotal sums line totals of selected items only.
func (c *Cart) Subtotal() int64 {
	var total int64
	for i := range c.Items {
		if c.Items[i].Selected {
			total += c.Items[i].LineTotal()
		}
	}
	return total
}

// TotalItemCount sums quantities regardless of selection.
func (c *Cart) TotalItemCount() int {
	count := 0
	for i := range c.Items {
		count += c.Items[i].Quantity
	}
	return count
}

func (c *Cart) SelectedCount() int {
	count := 0
	for i := range c.Items {
		if c.Items[i].Selected {
			count++
		}
	}
	return count
}

func (c *Cart) SelectedItems() []CartItem {
	var selected []CartItem
	for _, item := range c.Items {
		if item.Selected {
			selected = append(selected, item)
		}
	}
	return selected
}

func (c *Cart) FindItem(itemID int64) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i], true
		}
	}
	return nil, false
}
