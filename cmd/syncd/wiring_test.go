package main

import (
	"testing"
	"time"

	"github.com/joripage/marketsync-dev/pkg/balance"
	"github.com/joripage/marketsync-dev/pkg/ledger"
	"github.com/joripage/marketsync-dev/pkg/model"
	"github.com/joripage/marketsync-dev/pkg/notify"
)

func TestFillPublishesBalanceRefresh(t *testing.T) {
	notifier := notify.NewNotifier()
	updates := notifier.Subscribe()

	reconciler := ledger.NewReconciler(ledger.ReconcilerConfig{},
		ledger.NewLedger(time.Minute, 64), balance.New(), nil)
	wireNotifications(reconciler, notifier)

	if err := reconciler.RegisterLocal("c1", "btc_jpy", model.OrderSideBuy, 100, 10); err != nil {
		t.Fatal(err)
	}
	reconciler.ApplyUpdate(model.SourcePush, model.OrderEvent{
		ClientOrderID: "c1", Status: model.OrderStatusPartiallyFilled,
		FilledTotal: 4, Price: 100, EventSeq: 1,
	})

	kinds := map[notify.Kind]int{}
	for len(updates) > 0 {
		kinds[(<-updates).Kind]++
	}
	if kinds[notify.KindOrderUpdated] != 1 {
		t.Errorf("order_updated = %d, want 1", kinds[notify.KindOrderUpdated])
	}
	if kinds[notify.KindBalanceUpdated] != 1 {
		t.Errorf("fill did not publish a balance refresh: %v", kinds)
	}

	// A non-fill transition must not trigger a refresh.
	reconciler.ApplyUpdate(model.SourcePush, model.OrderEvent{
		ClientOrderID: "c1", Status: model.OrderStatusPendingCancel,
		FilledTotal: 4, EventSeq: 2,
	})
	for len(updates) > 0 {
		if u := <-updates; u.Kind == notify.KindBalanceUpdated {
			t.Error("balance refresh published without a fill")
		}
	}
}
