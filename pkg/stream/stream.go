package stream

import (
	"context"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// SequencedStream is the subscription/reconnect primitive shared by the
// market-data and private-update feeds. Connect returns a channel of decoded
// messages that is closed when the transport fails; the supervisor owns the
// reconnect loop, the stream only reports the failure by closing the channel.
type SequencedStream interface {
	Connect(ctx context.Context) (<-chan model.Message, error)
	Subscribe(ctx context.Context, channel string) error
	Close() error
}

// State is the supervisor lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDegraded:
		return "Degraded"
	case StateReconnecting:
		return "Reconnecting"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}
