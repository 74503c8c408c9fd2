package model

import "time"

type OrderStatus string

const (
	OrderStatusPendingSubmit   OrderStatus = "PendingSubmit"
	OrderStatusAccepted        OrderStatus = "Accepted"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusPendingCancel   OrderStatus = "PendingCancel"
	OrderStatusCanceled        OrderStatus = "Canceled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusExpired         OrderStatus = "Expired"
)

// IsTerminal reports whether no further updates are expected for the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRecord is the locally known state of one order. ClientOrderID is
// assigned by the caller before submit and never changes; ExchangeOrderID
// arrives asynchronously and may be empty at first.
type OrderRecord struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            string
	Side            OrderSide
	Price           int64
	RequestedQty    int64
	Status          OrderStatus
	FilledQty       int64
	AvgPrice        int64
	LastEventSeq    uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
