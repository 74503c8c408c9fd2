package book

import (
	"sort"
	"sync"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// ladder is one ordered side of the book: prices kept ascending, sizes by
// price. Bids read from the top end, asks from the bottom.
type ladder struct {
	prices []int64
	sizes  map[int64]int64
}

func newLadder() ladder {
	return ladder{sizes: make(map[int64]int64)}
}

// set stores a level; size zero removes the price entirely.
func (l *ladder) set(price, size int64) {
	_, exists := l.sizes[price]
	if size == 0 {
		if exists {
			delete(l.sizes, price)
			i := sort.Search(len(l.prices), func(i int) bool { return l.prices[i] >= price })
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
		}
		return
	}
	l.sizes[price] = size
	if !exists {
		i := sort.Search(len(l.prices), func(i int) bool { return l.prices[i] >= price })
		l.prices = append(l.prices, 0)
		copy(l.prices[i+1:], l.prices[i:])
		l.prices[i] = price
	}
}

func (l *ladder) replace(levels []model.PriceLevel) {
	l.prices = l.prices[:0]
	l.sizes = make(map[int64]int64, len(levels))
	for _, lv := range levels {
		if lv.Size == 0 {
			continue
		}
		l.set(lv.Price, lv.Size)
	}
}

// top returns up to n best levels; desc walks from the highest price (bids).
// Non-positive n yields an empty view.
func (l *ladder) top(n int, desc bool) []model.PriceLevel {
	if n < 0 {
		n = 0
	}
	if n > len(l.prices) {
		n = len(l.prices)
	}
	out := make([]model.PriceLevel, 0, n)
	if desc {
		for i := len(l.prices) - 1; i >= len(l.prices)-n; i-- {
			p := l.prices[i]
			out = append(out, model.PriceLevel{Price: p, Size: l.sizes[p]})
		}
	} else {
		for i := 0; i < n; i++ {
			p := l.prices[i]
			out = append(out, model.PriceLevel{Price: p, Size: l.sizes[p]})
		}
	}
	return out
}

// book is the L2 state for one pair. A single book is mutated strictly
// serially under its mutex; different pairs update concurrently through the
// manager.
type book struct {
	pair string

	mu     sync.Mutex
	seq    uint64
	synced bool
	bids   ladder
	asks   ladder
}

func newBook(pair string) *book {
	return &book{
		pair: pair,
		bids: newLadder(),
		asks: newLadder(),
	}
}

// applySnapshot replaces the book wholesale. A snapshot always wins and
// re-establishes sync.
func (b *book) applySnapshot(seq uint64, bids, asks []model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.replace(bids)
	b.asks.replace(asks)
	b.seq = seq
	b.synced = true
}

// applyDiff sets or removes levels and advances the sequence. Any sequence
// that is not exactly seq+1 invalidates sync and fails without touching the
// ladders; diffs keep failing the same way until a fresh snapshot lands.
func (b *book) applyDiff(seq uint64, bids, asks []model.PriceLevel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.synced || seq != b.seq+1 {
		b.synced = false
		return ErrGapDetected
	}
	for _, lv := range bids {
		b.bids.set(lv.Price, lv.Size)
	}
	for _, lv := range asks {
		b.asks.set(lv.Price, lv.Size)
	}
	b.seq = seq
	return nil
}

// topN returns immutable copies of the best n levels per side, bids
// descending and asks ascending.
func (b *book) topN(n int) (bids, asks []model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.top(n, true), b.asks.top(n, false)
}

func (b *book) markUnsynced() {
	b.mu.Lock()
	b.synced = false
	b.mu.Unlock()
}

func (b *book) isSynced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synced
}

func (b *book) sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
