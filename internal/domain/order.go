package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that closes a position opened with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType selects the execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle as the venue reports it.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest describes an order to place on a venue.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64 // limit orders only
	ReduceOnly bool
	ClientID   string // caller-supplied id for idempotency and audit
}

// Order is a venue's acknowledgement of a placed order.
type Order struct {
	ID        string
	Venue     string
	Symbol    string
	Side      OrderSide
	Quantity  float64
	FilledQty float64
	AvgPrice  float64
	FeeUSD    float64
	Status    OrderStatus
	CreatedAt time.Time
}

// Filled reports whether the venue confirmed a full fill.
func (o Order) Filled() bool {
	return o.Status == OrderStatusFilled
}
