package notify

import (
	"sync"
	"time"
)

type Kind string

const (
	KindBookUpdated    Kind = "book_updated"
	KindOrderUpdated   Kind = "order_updated"
	KindBalanceUpdated Kind = "balance_updated"
)

// Update is a change notification for the domain-mapping layer, so it can
// push events onward without polling. It identifies what changed; the layer
// pulls the fresh state through TopN/ActiveOrders/Balances.
type Update struct {
	Kind          Kind      `json:"kind"`
	Pair          string    `json:"pair,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier fans updates out to subscribers without blocking: a slow consumer
// drops notifications rather than stalling the stream-consuming task.
type Notifier struct {
	mu     sync.RWMutex
	subs   []chan Update
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe returns a buffered channel of updates. The channel is closed by
// Close.
func (n *Notifier) Subscribe() <-chan Update {
	ch := make(chan Update, 256)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- u:
		default:
			// slow consumer, drop
		}
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.subs {
		close(ch)
	}
}
