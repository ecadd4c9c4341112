package checkout

import (
	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/domain"
)

// Fees are flat per-order amounts added on top of the item total.
type Fees struct {
	Shipping int64 `yaml:"shipping"`
	Service  int64 `yaml:"service"`
}

func DefaultFees() Fees {
	return Fees{Shipping: 10000, Service: 3000}
}

type ReceiptLine struct {
	ProductID   *uuid.UUID `json:"product_id,omitempty"`
	ProductName string     `json:"product_name"`
	UnitPrice   int64      `json:"unit_price"`
	Quantity    int        `json:"quantity"`
	LineTotal   int64      `json:"line_total"`
}

// Receipt renders either committed purchases or, before checkout, the
// current selection. OrderToken is nil for the latter. Mode is empty when an
// order is listed outside the session that placed it.
type Receipt struct {
	OrderToken  *uuid.UUID       `json:"order_token,omitempty"`
	Mode        domain.OrderMode `json:"mode,omitempty"`
	Committed   bool             `json:"committed"`
	Items       []ReceiptLine    `json:"items"`
	Total       int64            `json:"total"`
	ShippingFee int64            `json:"shipping_fee"`
	ServiceFee  int64            `json:"service_fee"`
	GrandTotal  int64            `json:"grand_total"`
}

func receiptFromPurchases(mode domain.OrderMode, fees Fees, purchases []domain.Purchase) *Receipt {
	lines := make([]ReceiptLine, 0, len(purchases))
	for i := range purchases {
		p := &purchases[i]
		lines = append(lines, ReceiptLine{
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			UnitPrice:   p.UnitPrice,
			Quantity:    p.Quantity,
			LineTotal:   p.LineTotal(),
		})
	}
	r := newReceipt(mode, fees, lines)
	if len(purchases) > 0 {
		token := purchases[0].OrderToken
		r.OrderToken = &token
		r.Committed = true
	}
	return r
}

func receiptFromCart(fees Fees, items []domain.CartItem) *Receipt {
	lines := make([]ReceiptLine, 0, len(items))
	for i := range items {
		item := &items[i]
		lines = append(lines, ReceiptLine{
			ProductID:   item.ProductID,
			ProductName: item.DisplayName(),
			UnitPrice:   item.EffectiveUnitPrice(),
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal(),
		})
	}
	return newReceipt(domain.OrderModeCart, fees, lines)
}

func newReceipt(mode domain.OrderMode, fees Fees, lines []ReceiptLine) *Receipt {
	var total int64
	for _, l := range lines {
		total += l.LineTotal
	}
	return &Receipt{
		Mode:        mode,
		Items:       lines,
		Total:       total,
		ShippingFee: fees.Shipping,
		ServiceFee:  fees.Service,
		GrandTotal:  total + fees.Shipping + fees.Service,
	}
}
