package domain

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is written once by the commit engine and never updated.
type Purchase struct {
	ID          int64      `json:"id"`
	OrderToken  uuid.UUID  `json:"order_token"`
	UserID      *int64     `json:"user_id,omitempty"`
	ProductID   *uuid.UUID `json:"product_id,omitempty"`
	ProductName string     `json:"product_name"`
	UnitPrice   int64      `json:"unit_price"`
	Quantity    int        `json:"quantity"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (p *Purchase) LineTotal() int64 {
	return int64(p.Quantity) * p.UnitPrice
}

type OrderSummary struct {
	Total     int64 `json:"total"`
	ItemCount int   `json:"item_count"`
}

func SummarizePurchases(purchases []Purchase) OrderSummary {
	s := OrderSummary{ItemCount: len(purchases)}
	for i := range purchases {
		s.Total += purchases[i].LineTotal()
	}
	return s
}

// Delivery is recorded with a cart checkout. Payment is not processed here.
type Delivery struct {
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

// OrderCommittedEvent is the outbox payload written with every commit.
type OrderCommittedEvent struct {
	OrderToken  uuid.UUID    `json:"order_token"`
	UserID      *int64       `json:"user_id,omitempty"`
	SessionKey  string       `json:"session_key,omitempty"`
	Mode        OrderMode    `json:"mode"`
	Delivery    *Delivery    `json:"delivery,omitempty"`
	Purchases   []Purchase   `json:"purchases"`
	Summary     OrderSummary `json:"summary"`
	CommittedAt time.Time    `json:"committed_at"`
}

// Owner recovers the cart owner the order was placed for.
func (e OrderCommittedEvent) Owner() Owner {
	if e.UserID != nil {
		return UserOwner(*e.UserID)
	}
	return SessionOwner(e.SessionKey)
}

// DeliveryRecordedEvent is written when the checkout form of an already
// committed buy-now order is submitted.
type DeliveryRecordedEvent struct {
	OrderToken uuid.UUID `json:"order_token"`
	UserID     *int64    `json:"user_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`
	Delivery   Delivery  `json:"delivery"`
	RecordedAt time.Time `json:"recorded_at"`
}
