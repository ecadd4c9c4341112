package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxLineQuantity caps a single line, in the cart or a buy-now request.
const MaxLineQuantity = 9999

func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return NewValidationError("quantity", "quantity must be at least 1")
	}
	if quantity > MaxLineQuantity {
		return NewValidationError("quantity", fmt.Sprintf("quantity must be at most %d", MaxLineQuantity))
	}
	return nil
}

type LineKind string

const (
	LineKindCatalog  LineKind = "catalog"
	LineKindExternal LineKind = "external"
)

// ExternalSnapshot is product data read once from a non-transactional source.
type ExternalSnapshot struct {
	Ref       string `json:"ref" bson:"ref"`
	Name      string `json:"name" bson:"name"`
	Price     int64  `json:"price" bson:"price"`
	Stock     int    `json:"stock" bson:"stock"`
	Thumbnail string `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
}

// LineItem is CatalogItem(ref, qty) | ExternalItem(snapshot, qty).
// Kind is decided once when the item enters the cart or the buy-now request.
type LineItem struct {
	Kind      LineKind
	ProductID uuid.UUID
	Snapshot  ExternalSnapshot
	Quantity  int

	// CartItemID is the cart row consumed by the commit, zero for buy-now.
	CartItemID int64
}

func NewCatalogLine(productID uuid.UUID, quantity int) LineItem {
	return LineItem{Kind: LineKindCatalog, ProductID: productID, Quantity: quantity}
}

func NewExternalLine(snapshot ExternalSnapshot, quantity int) LineItem {
	return LineItem{Kind: LineKindExternal, Snapshot: snapshot, Quantity: quantity}
}

func (l LineItem) IsCatalog() bool {
	return l.Kind == LineKindCatalog
}
