package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderMode string

const (
	OrderModeCart   OrderMode = "cart"
	OrderModeBuyNow OrderMode = "buy_now"
)

func (m OrderMode) Valid() bool {
	return m == OrderModeCart || m == OrderModeBuyNow
}

// String representation (for logging)
func (m OrderMode) String() string {
	return string(m)
}

// OrderHandle is the session-scoped pointer to a just-committed order.
// It is consumed once by the confirmation read.
type OrderHandle struct {
	OrderToken  uuid.UUID    `json:"order_token"`
	Mode        OrderMode    `json:"mode"`
	Summary     OrderSummary `json:"summary"`
	ProductRefs []string     `json:"product_refs,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	// Completed is set once the checkout form of a buy-now order was
	// submitted. From then on the handle only waits for confirmation.
	Completed bool `json:"completed,omitempty"`
}

// AwaitingCheckout reports a buy-now order whose checkout form has not been
// submitted yet.
func (h *OrderHandle) AwaitingCheckout() bool {
	return h.Mode == OrderModeBuyNow && !h.Completed
}
