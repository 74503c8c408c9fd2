package ledger

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/joripage/marketsync-dev/pkg/model"
)

type record struct {
	model.OrderRecord
	// notional accumulates filled qty * price so the running average price
	// stays in integer arithmetic.
	notional int64
}

type retired struct {
	rec model.OrderRecord
	at  time.Time
}

// Ledger is the in-memory table of locally known orders, keyed by the
// caller-assigned client order id with a secondary index on the exchange
// order id. It is a single shared table: one mutation lock serializes all
// writers, and fills touch ledger and balances under that same lock as one
// logical transaction (the Reconciler holds it).
type Ledger struct {
	mu           sync.RWMutex
	active       map[string]*record
	byExchangeID map[string]string
	history      deque.Deque[retired]
	grace        time.Duration
	historyLimit int
}

// NewLedger creates a ledger retaining terminal orders for the given grace
// window (capped at historyLimit entries) so late replays still dedup
// instead of turning into orphans.
func NewLedger(grace time.Duration, historyLimit int) *Ledger {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = 4096
	}
	return &Ledger{
		active:       make(map[string]*record),
		byExchangeID: make(map[string]string),
		grace:        grace,
		historyLimit: historyLimit,
	}
}

// RegisterLocal creates a PendingSubmit record. It must be called at submit
// time, before any network round trip, so push events referencing the id can
// be correlated.
func (l *Ledger) RegisterLocal(clientOrderID, pair string, side model.OrderSide, price, qty int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[clientOrderID]; ok {
		return errDuplicateOrder
	}
	if _, ok := l.retiredLocked(clientOrderID); ok {
		return errDuplicateOrder
	}
	now := time.Now()
	l.active[clientOrderID] = &record{
		OrderRecord: model.OrderRecord{
			ClientOrderID: clientOrderID,
			Pair:          pair,
			Side:          side,
			Price:         price,
			RequestedQty:  qty,
			Status:        model.OrderStatusPendingSubmit,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	return nil
}

// ActiveOrders returns copies of every order still in the working set.
func (l *Ledger) ActiveOrders() []model.OrderRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.OrderRecord, 0, len(l.active))
	for _, rec := range l.active {
		out = append(out, rec.OrderRecord)
	}
	return out
}

// Lookup returns the order by client id, consulting the terminal history as
// well as the active set.
func (l *Ledger) Lookup(clientOrderID string) (model.OrderRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.active[clientOrderID]; ok {
		return rec.OrderRecord, true
	}
	return l.retiredLocked(clientOrderID)
}

// resolveLocked finds the record an event refers to: by client id first, by
// exchange id when the event arrived before the client id was known.
func (l *Ledger) resolveLocked(ev model.OrderEvent) (*record, bool) {
	if ev.ClientOrderID != "" {
		if rec, ok := l.active[ev.ClientOrderID]; ok {
			return rec, true
		}
	}
	if ev.ExchangeOrderID != "" {
		if clOrdID, ok := l.byExchangeID[ev.ExchangeOrderID]; ok {
			if rec, ok := l.active[clOrdID]; ok {
				return rec, true
			}
		}
	}
	return nil, false
}

func (l *Ledger) bindLocked(rec *record, exchangeOrderID string) {
	rec.ExchangeOrderID = exchangeOrderID
	l.byExchangeID[exchangeOrderID] = rec.ClientOrderID
}

// retireLocked moves a terminal record out of the active working set into
// the bounded history.
func (l *Ledger) retireLocked(rec *record, now time.Time) {
	delete(l.active, rec.ClientOrderID)
	l.history.PushBack(retired{rec: rec.OrderRecord, at: now})
	l.pruneLocked(now)
}

func (l *Ledger) pruneLocked(now time.Time) {
	for l.history.Len() > l.historyLimit {
		l.history.PopFront()
	}
	for l.history.Len() > 0 && now.Sub(l.history.Front().at) > l.grace {
		l.history.PopFront()
	}
}

func (l *Ledger) retiredLocked(clientOrderID string) (model.OrderRecord, bool) {
	for i := 0; i < l.history.Len(); i++ {
		r := l.history.At(i)
		if r.rec.ClientOrderID == clientOrderID {
			return r.rec, true
		}
	}
	return model.OrderRecord{}, false
}
