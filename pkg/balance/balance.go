package balance

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record holds one currency's balance in integer minor units. Free equals
// Total minus Locked after every successful reconciliation; the derivation is
// never done in floating point.
type Record struct {
	Currency  string
	Total     int64
	Locked    int64
	Free      int64
	UpdatedAt time.Time
}

// Reconciler recomputes consistent balances from partial updates. The
// exchange reports any two of total/locked/free (bitbank assets carry the
// redundant triple); the missing field is derived.
type Reconciler struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	records map[string]Record
}

func New() *Reconciler {
	return &Reconciler{
		log:     zap.S().With("component", "balance"),
		records: make(map[string]Record),
	}
}

// ApplyPartial derives the missing third field with integer arithmetic and
// stores the result. A negative derived value is an inconsistency: the
// update is rejected without clamping and the caller should re-fetch the
// full balance state.
func (r *Reconciler) ApplyPartial(currency string, total, locked, free *int64) (Record, error) {
	if total == nil || (locked == nil && free == nil) {
		return Record{}, errInsufficientFields
	}

	rec := Record{Currency: currency, Total: *total}
	switch {
	case locked != nil && free != nil:
		rec.Locked = *locked
		rec.Free = *free
		if rec.Free != rec.Total-rec.Locked {
			return Record{}, ErrInconsistency
		}
	case locked != nil:
		rec.Locked = *locked
		rec.Free = rec.Total - rec.Locked
	default:
		rec.Free = *free
		rec.Locked = rec.Total - rec.Free
	}

	if rec.Free < 0 || rec.Locked < 0 || rec.Total < 0 {
		r.log.Warnw("inconsistent balance update rejected",
			"currency", currency, "total", rec.Total, "locked", rec.Locked, "free", rec.Free)
		return Record{}, ErrInconsistency
	}

	rec.UpdatedAt = time.Now()
	r.mu.Lock()
	r.records[currency] = rec
	r.mu.Unlock()
	return rec, nil
}

// Get returns the reconciled balance for one currency.
func (r *Reconciler) Get(currency string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[currency]
	return rec, ok
}

// Balances returns a copy of every reconciled balance.
func (r *Reconciler) Balances() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
