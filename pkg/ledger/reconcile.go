package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/joripage/marketsync-dev/pkg/balance"
	"github.com/joripage/marketsync-dev/pkg/model"
)

// RESTClient is the request/response collaborator. Submit and cancel are
// used by the order-entry path; FetchOrder is the reconciler's fallback when
// a pending lookup exhausts its retry budget.
type RESTClient interface {
	SubmitOrder(ctx context.Context, pair string, side model.OrderSide, price, qty int64) (clientOrderID string, err error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	FetchOrder(ctx context.Context, clientOrderID string) (model.OrderEvent, error)
}

type ReconcilerConfig struct {
	LookupRetries  int           // default 10
	LookupInterval time.Duration // default 100ms
}

// Reconciler merges REST-originated and push-originated order events into
// the ledger. Both sources are equally authoritative; ordering comes from
// the per-order event sequence, not from arrival order, so receiving either
// source's event zero or more times is safe.
type Reconciler struct {
	cfg      ReconcilerConfig
	ledger   *Ledger
	balances *balance.Reconciler
	rest     RESTClient
	log      *zap.SugaredLogger

	pendMu  sync.Mutex
	pending deque.Deque[*pendingLookup]

	cbMu       sync.Mutex
	orderCbs   []func(model.OrderRecord)
	fillCbs    []func(model.OrderRecord)
	balanceCbs []func(balance.Record)

	stats statsCounters

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// pendingLookup defers a push event that referenced a client order id not
// yet registered locally. Push can legitimately beat the REST submit ack, so
// the event is retried instead of dropped.
type pendingLookup struct {
	ev       model.OrderEvent
	attempts int
	nextTry  time.Time
}

func NewReconciler(cfg ReconcilerConfig, l *Ledger, b *balance.Reconciler, rest RESTClient) *Reconciler {
	if cfg.LookupRetries <= 0 {
		cfg.LookupRetries = 10
	}
	if cfg.LookupInterval <= 0 {
		cfg.LookupInterval = 100 * time.Millisecond
	}
	return &Reconciler{
		cfg:      cfg,
		ledger:   l,
		balances: b,
		rest:     rest,
		log:      zap.S().With("component", "reconcile"),
		done:     make(chan struct{}),
	}
}

// RegisterOrderCallback adds a callback fired after every applied order
// update, outside the ledger lock, with a copy of the record.
func (s *Reconciler) RegisterOrderCallback(fn func(model.OrderRecord)) {
	s.cbMu.Lock()
	s.orderCbs = append(s.orderCbs, fn)
	s.cbMu.Unlock()
}

// RegisterFillCallback adds a callback fired when an event carried a fill.
// This is the balance trigger: fills change balances, so the wiring layer
// refreshes them here.
func (s *Reconciler) RegisterFillCallback(fn func(model.OrderRecord)) {
	s.cbMu.Lock()
	s.fillCbs = append(s.fillCbs, fn)
	s.cbMu.Unlock()
}

// RegisterBalanceCallback adds a callback fired after every reconciled
// balance update.
func (s *Reconciler) RegisterBalanceCallback(fn func(balance.Record)) {
	s.cbMu.Lock()
	s.balanceCbs = append(s.balanceCbs, fn)
	s.cbMu.Unlock()
}

// Start launches the pending-lookup retry loop.
func (s *Reconciler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.lookupLoop(ctx)
}

// Stop abandons in-flight pending lookups without error.
func (s *Reconciler) Stop() {
	s.startMu.Lock()
	cancel := s.cancel
	s.startMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// RegisterLocal creates the PendingSubmit record; see Ledger.RegisterLocal.
func (s *Reconciler) RegisterLocal(clientOrderID, pair string, side model.OrderSide, price, qty int64) error {
	return s.ledger.RegisterLocal(clientOrderID, pair, side, price, qty)
}

// ApplyUpdate merges one order event from either source into the ledger.
func (s *Reconciler) ApplyUpdate(source model.Source, ev model.OrderEvent) {
	ev.Source = source
	s.applyEvent(ev, true)
}

// CancelAck moves the order to Canceled under the same dedup and regression
// rules as any other event.
func (s *Reconciler) CancelAck(clientOrderID string, eventSeq uint64) {
	s.applyEvent(model.OrderEvent{
		Source:        model.SourceREST,
		ClientOrderID: clientOrderID,
		Status:        model.OrderStatusCanceled,
		EventSeq:      eventSeq,
		Timestamp:     time.Now(),
	}, true)
}

// ApplyBalance reconciles a partial balance event. An inconsistency is
// surfaced for the caller to re-fetch full balance state.
func (s *Reconciler) ApplyBalance(ev model.BalanceEvent) error {
	rec, err := s.balances.ApplyPartial(ev.Currency, ev.Total, ev.Locked, ev.Free)
	if err != nil {
		if errors.Is(err, balance.ErrInconsistency) {
			s.stats.balanceInconsistencies.Add(1)
		}
		return err
	}
	s.cbMu.Lock()
	cbs := s.balanceCbs
	s.cbMu.Unlock()
	for _, cb := range cbs {
		cb(rec)
	}
	return nil
}

func (s *Reconciler) applyEvent(ev model.OrderEvent, allowQueue bool) {
	l := s.ledger
	l.mu.Lock()

	rec, ok := l.resolveLocked(ev)
	if !ok {
		if past, found := l.retiredLocked(ev.ClientOrderID); found {
			// Late event for a terminal order within the grace window.
			if ev.EventSeq <= past.LastEventSeq {
				s.stats.dedupHits.Add(1)
			} else {
				s.stats.regressions.Add(1)
				s.log.Warnw("event after terminal status discarded",
					"client_order_id", ev.ClientOrderID, "status", ev.Status, "event_seq", ev.EventSeq)
			}
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		if allowQueue {
			s.enqueue(ev)
		} else {
			s.reportOrphan(context.Background(), ev)
		}
		return
	}

	// Idempotent replay: either source may deliver the same ordinal again.
	if ev.EventSeq <= rec.LastEventSeq {
		if ev.EventSeq == rec.LastEventSeq && ev.Status != "" && ev.Status != rec.Status {
			// Sources disagree at the same ordinal. Neither wins; report it.
			s.stats.duplicateMismatches.Add(1)
			s.log.Warnw("conflicting payloads at same event sequence",
				"client_order_id", rec.ClientOrderID, "have", rec.Status, "got", ev.Status,
				"event_seq", ev.EventSeq, "source", ev.Source)
		} else {
			s.stats.dedupHits.Add(1)
		}
		l.mu.Unlock()
		return
	}

	if regressed(rec.Status, ev.Status) {
		s.stats.regressions.Add(1)
		s.log.Warnw("status regression discarded",
			"client_order_id", rec.ClientOrderID, "have", rec.Status, "got", ev.Status,
			"event_seq", ev.EventSeq, "source", ev.Source)
		l.mu.Unlock()
		return
	}

	if rec.ExchangeOrderID == "" && ev.ExchangeOrderID != "" {
		l.bindLocked(rec, ev.ExchangeOrderID)
	}

	hadFill := false
	if delta := ev.FilledTotal - rec.FilledQty; delta > 0 {
		rec.FilledQty = ev.FilledTotal
		rec.notional += delta * ev.Price
		rec.AvgPrice = rec.notional / rec.FilledQty
		hadFill = true
	}
	if ev.Status != "" {
		rec.Status = ev.Status
	}
	if rec.RequestedQty > 0 && rec.FilledQty >= rec.RequestedQty {
		rec.Status = model.OrderStatusFilled
	}
	rec.LastEventSeq = ev.EventSeq
	now := time.Now()
	rec.UpdatedAt = now

	snapshot := rec.OrderRecord
	if snapshot.Status.IsTerminal() {
		l.retireLocked(rec, now)
	}
	l.mu.Unlock()

	s.cbMu.Lock()
	orderCbs := s.orderCbs
	fillCbs := s.fillCbs
	s.cbMu.Unlock()
	for _, cb := range orderCbs {
		cb(snapshot)
	}
	if hadFill {
		for _, cb := range fillCbs {
			cb(snapshot)
		}
	}
}

// regressed reports whether moving from cur to next would walk the lifecycle
// backwards. Fills racing a cancel are legitimate, so PartiallyFilled and
// PendingCancel share a rank; a terminal status never changes.
func regressed(cur, next model.OrderStatus) bool {
	if next == "" {
		return false
	}
	if cur.IsTerminal() {
		return next != cur
	}
	return statusRank(next) < statusRank(cur)
}

func statusRank(st model.OrderStatus) int {
	switch st {
	case model.OrderStatusPendingSubmit:
		return 0
	case model.OrderStatusAccepted:
		return 1
	case model.OrderStatusPartiallyFilled, model.OrderStatusPendingCancel:
		return 2
	case model.OrderStatusFilled, model.OrderStatusCanceled,
		model.OrderStatusRejected, model.OrderStatusExpired:
		return 3
	}
	return 0
}

func (s *Reconciler) enqueue(ev model.OrderEvent) {
	s.pendMu.Lock()
	s.pending.PushBack(&pendingLookup{
		ev:       ev,
		attempts: s.cfg.LookupRetries,
		nextTry:  time.Now().Add(s.cfg.LookupInterval),
	})
	s.pendMu.Unlock()
	s.stats.pendingQueued.Add(1)
}

func (s *Reconciler) lookupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.LookupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.retryPending(ctx, now)
		}
	}
}

func (s *Reconciler) retryPending(ctx context.Context, now time.Time) {
	s.pendMu.Lock()
	var due []*pendingLookup
	for i := s.pending.Len(); i > 0; i-- {
		p := s.pending.PopFront()
		if now.Before(p.nextTry) {
			s.pending.PushBack(p)
			continue
		}
		due = append(due, p)
	}
	s.pendMu.Unlock()

	for _, p := range due {
		if s.resolvable(p.ev) {
			s.applyEvent(p.ev, false)
			continue
		}
		p.attempts--
		if p.attempts <= 0 {
			s.reportOrphan(ctx, p.ev)
			continue
		}
		p.nextTry = now.Add(s.cfg.LookupInterval)
		s.pendMu.Lock()
		s.pending.PushBack(p)
		s.pendMu.Unlock()
	}
}

func (s *Reconciler) resolvable(ev model.OrderEvent) bool {
	l := s.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.resolveLocked(ev); ok {
		return true
	}
	_, ok := l.retiredLocked(ev.ClientOrderID)
	return ok
}

// reportOrphan is the end of the line for an event whose local record never
// appeared. One REST fetch is attempted for context, then the event is
// reported, never silently discarded.
func (s *Reconciler) reportOrphan(ctx context.Context, ev model.OrderEvent) {
	var fetched model.OrderStatus
	if s.rest != nil && ev.ClientOrderID != "" {
		if resp, err := s.rest.FetchOrder(ctx, ev.ClientOrderID); err == nil {
			fetched = resp.Status
		}
	}
	s.stats.orphans.Add(1)
	s.log.Warnw("unresolved orphan order event",
		"client_order_id", ev.ClientOrderID, "exchange_order_id", ev.ExchangeOrderID,
		"status", ev.Status, "event_seq", ev.EventSeq, "source", ev.Source,
		"rest_status", fetched)
}

// PendingLookups returns the current correlation backlog depth.
func (s *Reconciler) PendingLookups() int {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return s.pending.Len()
}
