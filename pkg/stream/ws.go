package stream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/joripage/marketsync-dev/pkg/model"
)

// Decoder turns a raw transport frame into a domain message. Frames that
// carry no data (engine pings, ack frames) decode to (nil, nil) and are
// skipped. JSON field mapping lives with the caller, not in this package.
type Decoder func(frame []byte) (model.Message, error)

type WSConfig struct {
	URL             string `yaml:"url"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	// HeartbeatSeconds is the maximum silence before the connection is
	// considered dead and the channel is closed.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// WSStream is a SequencedStream over a websocket push transport
// (socket.io-style rooms: subscribe sends a join-room frame). One Connect
// maps to one connection; failure closes the message channel and the
// supervisor decides what happens next.
type WSStream struct {
	cfg     WSConfig
	decoder Decoder
	log     *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn

	// writeMu serializes all outbound frames; the read loop writes ping
	// replies concurrently with Subscribe.
	writeMu sync.Mutex
}

func NewWSStream(cfg WSConfig, decode Decoder) *WSStream {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 4096
	}
	if cfg.HeartbeatSeconds == 0 {
		cfg.HeartbeatSeconds = 30
	}
	return &WSStream{
		cfg:     cfg,
		decoder: decode,
		log:     zap.S().With("ws", cfg.URL),
	}
}

func (w *WSStream) Connect(ctx context.Context) (<-chan model.Message, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  w.cfg.ReadBufferSize,
		WriteBufferSize: w.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()

	// Open the default namespace before any room join; the server ignores
	// subscribes sent into an unopened namespace.
	if err := w.write(conn, []byte("40")); err != nil {
		conn.Close()
		return nil, err
	}

	msgs := make(chan model.Message, 256)
	go w.readLoop(ctx, conn, msgs)
	return msgs, nil
}

// Subscribe joins a room on the current connection.
func (w *WSStream) Subscribe(ctx context.Context, channel string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return errNotConnected
	}
	frame := fmt.Sprintf(`42["join-room","%s"]`, channel)
	return w.write(w.conn, []byte(frame))
}

func (w *WSStream) write(conn *websocket.Conn, frame []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *WSStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// readLoop doubles as the heartbeat monitor: a read deadline miss counts as
// a dead connection, same as a read error.
func (w *WSStream) readLoop(ctx context.Context, conn *websocket.Conn, msgs chan<- model.Message) {
	defer close(msgs)
	heartbeat := time.Duration(w.cfg.HeartbeatSeconds) * time.Second
	for {
		_ = conn.SetReadDeadline(time.Now().Add(heartbeat))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warnw("read failed", "err", err)
			}
			conn.Close()
			return
		}

		// Engine ping; the server drops unanswered connections at its own
		// ping timeout.
		if bytes.Equal(frame, []byte("2")) {
			if err := w.write(conn, []byte("3")); err != nil {
				w.log.Warnw("pong failed", "err", err)
				conn.Close()
				return
			}
			continue
		}

		msg, err := w.decoder(frame)
		if err != nil {
			w.log.Warnw("undecodable frame", "err", err)
			continue
		}
		if msg == nil {
			continue
		}

		select {
		case msgs <- msg:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}
