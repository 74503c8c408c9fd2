package book

import (
	"sync"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// Manager owns one book per pair. Cross-pair state is independent; no
// cross-locking.
type Manager struct {
	books     sync.Map
	mu        sync.Mutex
	callbacks []func(pair string)
}

func NewManager() *Manager {
	return &Manager{}
}

// RegisterUpdateCallback adds a callback invoked after every successful
// snapshot or diff apply. Register before feeding messages.
func (m *Manager) RegisterUpdateCallback(cb func(pair string)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// ApplySnapshot replaces the pair's book wholesale; accepted unconditionally.
func (m *Manager) ApplySnapshot(snap model.Snapshot) {
	b := m.getOrCreateBook(snap.Pair)
	b.applySnapshot(snap.Sequence, snap.Bids, snap.Asks)
	m.notify(snap.Pair)
}

// ApplyDiff applies an incremental update. On ErrGapDetected the book is
// left untouched and stays unsynced; the caller is expected to request a
// fresh snapshot — this component only signals, it does not fetch.
func (m *Manager) ApplyDiff(diff model.Diff) error {
	b := m.getOrCreateBook(diff.Pair)
	if err := b.applyDiff(diff.Sequence, diff.Bids, diff.Asks); err != nil {
		return err
	}
	m.notify(diff.Pair)
	return nil
}

// TopN returns the best n levels per side as copies; pure read.
func (m *Manager) TopN(pair string, n int) (bids, asks []model.PriceLevel) {
	v, ok := m.books.Load(pair)
	if !ok {
		return nil, nil
	}
	return v.(*book).topN(n)
}

// IsSynced reports whether the pair's book currently accepts diffs.
func (m *Manager) IsSynced(pair string) bool {
	v, ok := m.books.Load(pair)
	if !ok {
		return false
	}
	return v.(*book).isSynced()
}

// Sequence returns the last applied sequence for the pair.
func (m *Manager) Sequence(pair string) uint64 {
	v, ok := m.books.Load(pair)
	if !ok {
		return 0
	}
	return v.(*book).sequence()
}

// OnStreamGap marks every book unsynced. Called by the supervisor's
// stream-gap notification: continuity across a reconnect cannot be assumed.
func (m *Manager) OnStreamGap() {
	m.books.Range(func(_, v any) bool {
		v.(*book).markUnsynced()
		return true
	})
}

func (m *Manager) getOrCreateBook(pair string) *book {
	if v, ok := m.books.Load(pair); ok {
		return v.(*book)
	}
	actual, _ := m.books.LoadOrStore(pair, newBook(pair))
	return actual.(*book)
}

func (m *Manager) notify(pair string) {
	m.mu.Lock()
	cbs := m.callbacks
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(pair)
	}
}
