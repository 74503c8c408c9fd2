package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// fakeStream scripts connection outcomes and lets tests drop the live
// connection to force a reconnect.
type fakeStream struct {
	mu       sync.Mutex
	failNext int
	connects []time.Time
	subs     [][]string
	ch       chan model.Message
	chClosed bool
}

func (f *fakeStream) Connect(ctx context.Context) (<-chan model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, time.Now())
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("dial refused")
	}
	f.ch = make(chan model.Message, 16)
	f.chClosed = false
	f.subs = append(f.subs, nil)
	return f.ch, nil
}

func (f *fakeStream) Subscribe(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return errors.New("not connected")
	}
	f.subs[len(f.subs)-1] = append(f.subs[len(f.subs)-1], channel)
	return nil
}

func (f *fakeStream) Close() error {
	f.drop()
	return nil
}

func (f *fakeStream) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil && !f.chClosed {
		close(f.ch)
		f.chClosed = true
	}
}

func (f *fakeStream) send(msg model.Message) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- msg
}

func (f *fakeStream) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeStream) connectTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.connects...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartRequiresHandler(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Name: "t"}, &fakeStream{})
	if err := sup.Start(context.Background(), nil); err == nil {
		t.Fatal("start without handler accepted")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{Name: "t"}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()
	if err := sup.Start(context.Background(), nil); err == nil {
		t.Fatal("second start accepted")
	}
}

func TestMessagesReachHandler(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{Name: "t", BackoffInitial: 10 * time.Millisecond}, f)

	var got atomic.Int32
	sup.OnMessage(func(model.Message) { got.Add(1) })
	if err := sup.Start(context.Background(), []string{"ch1"}); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	waitFor(t, func() bool { return f.connectCount() == 1 }, "never connected")
	f.send(model.Snapshot{Pair: "btc_jpy"})
	f.send(model.Snapshot{Pair: "btc_jpy"})
	waitFor(t, func() bool { return got.Load() == 2 }, "messages not delivered")
}

func TestGapFiredOncePerReconnectNotOnFirstConnect(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{Name: "t", BackoffInitial: 10 * time.Millisecond}, f)

	var gaps atomic.Int32
	sup.OnMessage(func(model.Message) {})
	sup.OnStreamGap(func() { gaps.Add(1) })
	if err := sup.Start(context.Background(), []string{"ch1"}); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	waitFor(t, func() bool { return f.connectCount() == 1 }, "never connected")
	if gaps.Load() != 0 {
		t.Fatal("gap fired on first connect")
	}

	f.drop()
	waitFor(t, func() bool { return f.connectCount() == 2 }, "no reconnect")
	waitFor(t, func() bool { return gaps.Load() == 1 }, "gap not fired after reconnect")

	f.drop()
	waitFor(t, func() bool { return gaps.Load() == 2 }, "gap not fired after second reconnect")
}

func TestSubscriptionsReplayedOnReconnect(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{Name: "t", BackoffInitial: 10 * time.Millisecond}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), []string{"ch1", "ch2"}); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	waitFor(t, func() bool { return f.connectCount() == 1 }, "never connected")
	f.drop()
	waitFor(t, func() bool { return f.connectCount() == 2 }, "no reconnect")

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) != 2 {
		t.Fatalf("connections = %d, want 2", len(f.subs))
	}
	for i, subs := range f.subs {
		if len(subs) != 2 || subs[0] != "ch1" || subs[1] != "ch2" {
			t.Errorf("connection %d subscriptions = %v", i, subs)
		}
	}
}

func TestBackoffDoublesWhileConnectFails(t *testing.T) {
	f := &fakeStream{failNext: 100}
	sup := NewSupervisor(SupervisorConfig{
		Name:           "t",
		BackoffInitial: 20 * time.Millisecond,
		BackoffMax:     500 * time.Millisecond,
	}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	waitFor(t, func() bool { return f.connectCount() >= 4 }, "too few attempts")
	times := f.connectTimes()

	// No jitter is configured, so waits are 20ms, 40ms, 80ms.
	for i, want := range []time.Duration{20, 40, 80} {
		gap := times[i+1].Sub(times[i])
		if gap < want*time.Millisecond {
			t.Errorf("wait %d = %v, want at least %dms", i, gap, want)
		}
	}
}

func TestBackoffResetsAfterLiveMessage(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{
		Name:           "t",
		BackoffInitial: 20 * time.Millisecond,
		BackoffMax:     500 * time.Millisecond,
	}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	// Two cycles of message-then-drop. Each message resets the backoff, so
	// both reconnect waits stay near the initial interval.
	for cycle := 1; cycle <= 2; cycle++ {
		waitFor(t, func() bool { return f.connectCount() == cycle }, "no connect")
		f.send(model.Snapshot{Pair: "btc_jpy"})
		time.Sleep(5 * time.Millisecond)
		f.drop()
	}
	waitFor(t, func() bool { return f.connectCount() == 3 }, "no reconnect")

	times := f.connectTimes()
	secondWait := times[2].Sub(times[1])
	if secondWait > 120*time.Millisecond {
		t.Errorf("second reconnect wait %v, backoff did not reset", secondWait)
	}
}

func TestStopInterruptsBackoffPromptly(t *testing.T) {
	f := &fakeStream{failNext: 100}
	sup := NewSupervisor(SupervisorConfig{
		Name:           "t",
		BackoffInitial: 10 * time.Second,
	}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return f.connectCount() >= 1 }, "no attempt")
	start := time.Now()
	sup.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop took %v during backoff wait", elapsed)
	}
	if sup.State() != StateStopped {
		t.Errorf("state = %v after stop", sup.State())
	}
}

func TestResubscribeAllReplaysOnCurrentConnection(t *testing.T) {
	f := &fakeStream{}
	sup := NewSupervisor(SupervisorConfig{Name: "t", BackoffInitial: 10 * time.Millisecond}, f)
	sup.OnMessage(func(model.Message) {})
	if err := sup.Start(context.Background(), []string{"ch1"}); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	waitFor(t, func() bool { return f.connectCount() == 1 }, "never connected")
	if err := sup.ResubscribeAll(); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if got := len(f.subs[0]); got != 2 {
		t.Errorf("subscribe calls = %d, want 2", got)
	}
}
