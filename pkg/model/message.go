package model

import "time"

// Message is a decoded frame from the transport layer. The stream supervisor
// delivers these to handlers as tagged variants; consumers type-switch.
type Message interface {
	message()
}

// PriceLevel is one book level: price in ticks, size in lots.
type PriceLevel struct {
	Price int64
	Size  int64
}

// Snapshot replaces the whole book for a pair (bitbank depth_whole).
type Snapshot struct {
	Pair      string
	Sequence  uint64
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Diff is an incremental book update (bitbank depth_diff). A zero Size on a
// level removes that price from the book.
type Diff struct {
	Pair      string
	Sequence  uint64
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

type Source string

const (
	SourceREST Source = "REST"
	SourcePush Source = "PUSH"
)

// OrderEvent is a private order/fill update from either source. ClientOrderID
// may be empty on early push events that only carry the exchange id.
// FilledTotal is the cumulative executed quantity as the venue reports it;
// the reconciler diffs it against the record, so replays and REST/push
// overlap never double-count a fill.
type OrderEvent struct {
	Source          Source
	ClientOrderID   string
	ExchangeOrderID string
	Pair            string
	Status          OrderStatus
	FilledTotal     int64
	Price           int64
	EventSeq        uint64
	Timestamp       time.Time
}

// BalanceEvent carries a partial balance update: any two of the three fields
// are enough to reconcile (bitbank assets report onhand/locked/free).
type BalanceEvent struct {
	Currency string
	Total    *int64
	Locked   *int64
	Free     *int64
}

func (Snapshot) message()     {}
func (Diff) message()         {}
func (OrderEvent) message()   {}
func (BalanceEvent) message() {}
