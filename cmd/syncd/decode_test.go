package main

import (
	"testing"

	"github.com/joripage/marketsync-dev/pkg/model"
)

var testDecoder = decoder{priceExp: 0, sizeExp: 4}

func TestDecodeWholeDepth(t *testing.T) {
	frame := []byte(`42["message",{"room_name":"depth_whole_btc_jpy","message":{"data":{` +
		`"asks":[["5200001","0.1"],["5200002","0.05"]],` +
		`"bids":[["5200000","0.2"]],` +
		`"timestamp":1715000000000,"s":42}}}]`)

	msg, err := testDecoder.decodeMarket(frame)
	if err != nil {
		t.Fatal(err)
	}
	snap, ok := msg.(model.Snapshot)
	if !ok {
		t.Fatalf("got %T, want Snapshot", msg)
	}
	if snap.Pair != "btc_jpy" || snap.Sequence != 42 {
		t.Errorf("pair = %q, sequence = %d", snap.Pair, snap.Sequence)
	}
	if len(snap.Asks) != 2 || snap.Asks[0].Price != 5200001 || snap.Asks[0].Size != 1000 {
		t.Errorf("asks = %+v", snap.Asks)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Size != 2000 {
		t.Errorf("bids = %+v", snap.Bids)
	}
}

func TestDecodeDiffWithStringSequence(t *testing.T) {
	frame := []byte(`42["message",{"room_name":"depth_diff_btc_jpy","message":{"data":{` +
		`"a":[["5200001","0"]],"b":[["5199999","0.3"]],"s":"17","t":1715000000001}}}]`)

	msg, err := testDecoder.decodeMarket(frame)
	if err != nil {
		t.Fatal(err)
	}
	diff, ok := msg.(model.Diff)
	if !ok {
		t.Fatalf("got %T, want Diff", msg)
	}
	if diff.Sequence != 17 {
		t.Errorf("sequence = %d, want 17", diff.Sequence)
	}
	if len(diff.Asks) != 1 || diff.Asks[0].Size != 0 {
		t.Errorf("asks = %+v, want zero-size removal", diff.Asks)
	}
	if len(diff.Bids) != 1 || diff.Bids[0].Size != 3000 {
		t.Errorf("bids = %+v", diff.Bids)
	}
}

func TestNonDataFramesSkipped(t *testing.T) {
	for _, frame := range [][]byte{
		[]byte("2"),                // engine ping
		[]byte("40"),               // namespace ack
		[]byte(`42["subscribed"]`), // non-message event
	} {
		msg, err := testDecoder.decodeMarket(frame)
		if err != nil || msg != nil {
			t.Errorf("frame %q: msg=%v err=%v, want skip", frame, msg, err)
		}
	}
}

func TestDecodeOrderEvent(t *testing.T) {
	frame := []byte(`42["message",{"room_name":"spot_order","message":{"data":{` +
		`"client_order_id":"c1","order_id":"x1","pair":"btc_jpy",` +
		`"status":"PARTIALLY_FILLED","executed_amount":"0.5","price":"5200000",` +
		`"event_seq":7,"timestamp":1715000000002}}}]`)

	msg, err := testDecoder.decodePrivate(frame)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := msg.(model.OrderEvent)
	if !ok {
		t.Fatalf("got %T, want OrderEvent", msg)
	}
	if ev.Source != model.SourcePush {
		t.Errorf("source = %v", ev.Source)
	}
	if ev.Status != model.OrderStatusPartiallyFilled || ev.FilledTotal != 5000 || ev.Price != 5200000 {
		t.Errorf("event = %+v", ev)
	}
	if ev.EventSeq != 7 {
		t.Errorf("event_seq = %d", ev.EventSeq)
	}
}

func TestDecodeAssetEvent(t *testing.T) {
	frame := []byte(`42["message",{"room_name":"asset_update","message":{"data":{` +
		`"asset":"jpy","onhand_amount":"1000","locked_amount":"300"}}}]`)

	msg, err := testDecoder.decodePrivate(frame)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := msg.(model.BalanceEvent)
	if !ok {
		t.Fatalf("got %T, want BalanceEvent", msg)
	}
	if ev.Total == nil || *ev.Total != 10000000 {
		t.Errorf("total = %v", ev.Total)
	}
	if ev.Locked == nil || *ev.Locked != 3000000 {
		t.Errorf("locked = %v", ev.Locked)
	}
	if ev.Free != nil {
		t.Errorf("free should be absent, got %v", ev.Free)
	}
}

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]model.OrderStatus{
		"UNFILLED":                  model.OrderStatusAccepted,
		"PARTIALLY_FILLED":          model.OrderStatusPartiallyFilled,
		"FULLY_FILLED":              model.OrderStatusFilled,
		"CANCELED_UNFILLED":         model.OrderStatusCanceled,
		"CANCELED_PARTIALLY_FILLED": model.OrderStatusCanceled,
		"REJECTED":                  model.OrderStatusRejected,
		"EXPIRED":                   model.OrderStatusExpired,
	}
	for wire, want := range cases {
		got, err := mapOrderStatus(wire)
		if err != nil || got != want {
			t.Errorf("mapOrderStatus(%q) = %v, %v; want %v", wire, got, err, want)
		}
	}
	if _, err := mapOrderStatus("SOMETHING_ELSE"); err == nil {
		t.Error("unknown status accepted")
	}
}
