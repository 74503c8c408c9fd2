package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// Wire glue for the venue's socket.io-style feed. Data frames look like
//   42["message",{"room_name":"depth_diff_btc_jpy","message":{"data":{...}}}]
// and anything else (engine pings, acks) is skipped.

type roomEnvelope struct {
	RoomName string `json:"room_name"`
	Message  struct {
		Data json.RawMessage `json:"data"`
	} `json:"message"`
}

type depthPayload struct {
	Asks      [][]string      `json:"asks"`
	Bids      [][]string      `json:"bids"`
	A         [][]string      `json:"a"` // diff asks
	B         [][]string      `json:"b"` // diff bids
	Sequence  json.RawMessage `json:"s"`
	Timestamp int64           `json:"timestamp"`
	T         int64           `json:"t"`
}

type orderPayload struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"order_id"`
	Pair            string `json:"pair"`
	Status          string `json:"status"`
	ExecutedAmount  string `json:"executed_amount"` // cumulative, not a delta
	Price           string `json:"price"`
	EventSeq        uint64 `json:"event_seq"`
	Timestamp       int64  `json:"timestamp"`
}

type assetPayload struct {
	Asset        string `json:"asset"`
	OnhandAmount string `json:"onhand_amount"`
	LockedAmount string `json:"locked_amount"`
	FreeAmount   string `json:"free_amount"`
}

type decoder struct {
	priceExp int32
	sizeExp  int32
}

func (d decoder) decodeMarket(frame []byte) (model.Message, error) {
	env, ok, err := unwrap(frame)
	if err != nil || !ok {
		return nil, err
	}

	switch {
	case strings.HasPrefix(env.RoomName, "depth_whole_"):
		pair := strings.TrimPrefix(env.RoomName, "depth_whole_")
		return d.decodeDepth(pair, env.Message.Data, true)
	case strings.HasPrefix(env.RoomName, "depth_diff_"):
		pair := strings.TrimPrefix(env.RoomName, "depth_diff_")
		return d.decodeDepth(pair, env.Message.Data, false)
	}
	return nil, nil
}

func (d decoder) decodePrivate(frame []byte) (model.Message, error) {
	env, ok, err := unwrap(frame)
	if err != nil || !ok {
		return nil, err
	}

	switch {
	case strings.HasPrefix(env.RoomName, "spot_order"):
		var p orderPayload
		if err := json.Unmarshal(env.Message.Data, &p); err != nil {
			return nil, err
		}
		return d.decodeOrder(p)
	case strings.HasPrefix(env.RoomName, "asset_update"):
		var p assetPayload
		if err := json.Unmarshal(env.Message.Data, &p); err != nil {
			return nil, err
		}
		return d.decodeAsset(p)
	}
	return nil, nil
}

func (d decoder) decodeDepth(pair string, data json.RawMessage, whole bool) (model.Message, error) {
	var p depthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	seq, err := parseSequence(p.Sequence)
	if err != nil {
		return nil, err
	}
	ts := p.Timestamp
	if ts == 0 {
		ts = p.T
	}

	if whole {
		bids, err := d.levels(p.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := d.levels(p.Asks)
		if err != nil {
			return nil, err
		}
		return model.Snapshot{
			Pair:      pair,
			Sequence:  seq,
			Bids:      bids,
			Asks:      asks,
			Timestamp: time.UnixMilli(ts),
		}, nil
	}

	bids, err := d.levels(p.B)
	if err != nil {
		return nil, err
	}
	asks, err := d.levels(p.A)
	if err != nil {
		return nil, err
	}
	return model.Diff{
		Pair:      pair,
		Sequence:  seq,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(ts),
	}, nil
}

func (d decoder) decodeOrder(p orderPayload) (model.Message, error) {
	var filled, price int64
	var err error
	if p.ExecutedAmount != "" {
		if filled, err = model.ToScaled(p.ExecutedAmount, d.sizeExp); err != nil {
			return nil, err
		}
	}
	if p.Price != "" {
		if price, err = model.ToScaled(p.Price, d.priceExp); err != nil {
			return nil, err
		}
	}
	status, err := mapOrderStatus(p.Status)
	if err != nil {
		return nil, err
	}
	return model.OrderEvent{
		Source:          model.SourcePush,
		ClientOrderID:   p.ClientOrderID,
		ExchangeOrderID: p.ExchangeOrderID,
		Pair:            p.Pair,
		Status:          status,
		FilledTotal:     filled,
		Price:           price,
		EventSeq:        p.EventSeq,
		Timestamp:       time.UnixMilli(p.Timestamp),
	}, nil
}

func (d decoder) decodeAsset(p assetPayload) (model.Message, error) {
	ev := model.BalanceEvent{Currency: p.Asset}
	if p.OnhandAmount != "" {
		v, err := model.ToScaled(p.OnhandAmount, d.sizeExp)
		if err != nil {
			return nil, err
		}
		ev.Total = &v
	}
	if p.LockedAmount != "" {
		v, err := model.ToScaled(p.LockedAmount, d.sizeExp)
		if err != nil {
			return nil, err
		}
		ev.Locked = &v
	}
	if p.FreeAmount != "" {
		v, err := model.ToScaled(p.FreeAmount, d.sizeExp)
		if err != nil {
			return nil, err
		}
		ev.Free = &v
	}
	return ev, nil
}

func (d decoder) levels(raw [][]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		price, err := model.ToScaled(lv[0], d.priceExp)
		if err != nil {
			return nil, err
		}
		size, err := model.ToScaled(lv[1], d.sizeExp)
		if err != nil {
			return nil, err
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// unwrap peels the socket.io framing; non-data frames return ok=false.
func unwrap(frame []byte) (roomEnvelope, bool, error) {
	var env roomEnvelope
	if !bytes.HasPrefix(frame, []byte("42")) {
		return env, false, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(frame[2:], &arr); err != nil {
		return env, false, err
	}
	if len(arr) < 2 {
		return env, false, nil
	}
	var eventType string
	if err := json.Unmarshal(arr[0], &eventType); err != nil || eventType != "message" {
		return env, false, err
	}
	if err := json.Unmarshal(arr[1], &env); err != nil {
		return env, false, err
	}
	if len(env.Message.Data) == 0 {
		return env, false, nil
	}
	return env, true, nil
}

func parseSequence(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseUint(s, 10, 64)
}

func mapOrderStatus(s string) (model.OrderStatus, error) {
	switch s {
	case "UNFILLED":
		return model.OrderStatusAccepted, nil
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled, nil
	case "FULLY_FILLED":
		return model.OrderStatusFilled, nil
	case "CANCELED_UNFILLED", "CANCELED_PARTIALLY_FILLED":
		return model.OrderStatusCanceled, nil
	case "REJECTED":
		return model.OrderStatusRejected, nil
	case "EXPIRED":
		return model.OrderStatusExpired, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}
