package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joripage/marketsync-dev/pkg/model"
)

type SupervisorConfig struct {
	Name           string
	BackoffInitial time.Duration // default 1s
	BackoffMax     time.Duration // default 64s
}

// Supervisor owns one SequencedStream: connect, replay the subscription set,
// pump messages into the handler, and reconnect with exponential backoff on
// any transport failure. It never gives up on its own; only Stop terminates
// it. A reconnect always raises a stream-gap notification because sequence
// continuity cannot be assumed across it.
type Supervisor struct {
	cfg    SupervisorConfig
	stream SequencedStream
	log    *zap.SugaredLogger

	mu      sync.Mutex
	subs    []string
	handler func(model.Message)
	gapFns  []func()
	started bool

	state  atomic.Int32
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, s SequencedStream) *Supervisor {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 64 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		stream: s,
		log:    zap.S().With("stream", cfg.Name),
		done:   make(chan struct{}),
	}
}

// OnMessage sets the handler invoked synchronously for every inbound message.
// The handler must execute in bounded time and never block on I/O. Must be
// called before Start.
func (s *Supervisor) OnMessage(fn func(model.Message)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// OnStreamGap registers a callback fired once per reconnect, before any
// message from the new connection is delivered. Must be called before Start.
func (s *Supervisor) OnStreamGap(fn func()) {
	s.mu.Lock()
	s.gapFns = append(s.gapFns, fn)
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Start begins supervising with the given subscription set.
func (s *Supervisor) Start(ctx context.Context, subscriptions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errAlreadyStarted
	}
	if s.handler == nil {
		return errNoHandler
	}
	s.started = true
	s.subs = append([]string(nil), subscriptions...)
	s.runCtx, s.cancel = context.WithCancel(ctx)
	go s.run(s.runCtx)
	return nil
}

// Stop cancels any backoff wait or pending reconnect attempt promptly and
// waits for the run loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = s.stream.Close()
	<-s.done
}

// ResubscribeAll replays the full subscription set on the current connection.
// Book consumers call this after a gap to force a fresh whole-depth snapshot.
func (s *Supervisor) ResubscribeAll() error {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return errNotStarted
	}
	return s.resubscribe(ctx)
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffInitial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = s.cfg.BackoffMax
	b.MaxElapsedTime = 0 // transport failure is a long-running condition, not fatal

	connectedBefore := false
	for {
		s.setState(StateConnecting)
		msgs, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return
			}
			s.log.Warnw("connect failed", "err", err)
			s.setState(StateReconnecting)
			if !s.sleep(ctx, b.NextBackOff()) {
				s.setState(StateStopped)
				return
			}
			continue
		}

		if connectedBefore {
			// Sequence continuity is lost across a reconnect; dependents must
			// resnapshot before trusting diffs again.
			s.fireStreamGap()
		}
		connectedBefore = true
		s.setState(StateConnected)

		s.consume(msgs, b)
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}
		s.log.Warn("stream closed, scheduling reconnect")
		s.setState(StateDegraded)
		s.setState(StateReconnecting)
		if !s.sleep(ctx, b.NextBackOff()) {
			s.setState(StateStopped)
			return
		}
	}
}

// connect dials the stream and replays every subscription before the
// connection is surfaced as usable, so no subscription silently drops.
func (s *Supervisor) connect(ctx context.Context) (<-chan model.Message, error) {
	msgs, err := s.stream.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.resubscribe(ctx); err != nil {
		_ = s.stream.Close()
		return nil, err
	}
	s.log.Infow("connected", "session", uuid.New().String(), "subscriptions", len(s.subs))
	return msgs, nil
}

func (s *Supervisor) resubscribe(ctx context.Context) error {
	s.mu.Lock()
	subs := append([]string(nil), s.subs...)
	s.mu.Unlock()
	for _, ch := range subs {
		if err := s.stream.Subscribe(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) consume(msgs <-chan model.Message, b *backoff.ExponentialBackOff) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	fresh := true
	for msg := range msgs {
		if fresh {
			// A message after reconnect proves the connection is live again.
			b.Reset()
			fresh = false
		}
		handler(msg)
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	s.log.Infow("backing off", "wait", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) fireStreamGap() {
	s.mu.Lock()
	fns := append([]func(){}, s.gapFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}
