// internal/handlers/transport.go
package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/dyad/internal/consumer"
	"github.com/sirupsen/logrus"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

type closeRequest struct {
	code   websocket.StatusCode
	reason string
}

// wsTransport queues events for the write pump. Emit never blocks the consumer.
type wsTransport struct {
	conn *websocket.Conn
	log  *logrus.Entry

	out       chan consumer.Event
	closing   chan closeRequest
	closeOnce sync.Once
}

func newTransport(conn *websocket.Conn, log *logrus.Entry) *wsTransport {
	return &wsTransport{
		conn:    conn,
		log:     log,
		out:     make(chan consumer.Event, outboxSize),
		closing: make(chan closeRequest, 1),
	}
}

func (t *wsTransport) Emit(ev consumer.Event) {
	select {
	case t.out <- ev:
	default:
		t.log.Warnf("outbox full, dropped %s", ev.Type)
	}
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) {
	t.closeOnce.Do(func() {
		t.closing <- closeRequest{code: code, reason: reason}
	})
}

// writePump writes queued events until ctx ends or a close is requested. A close
// request flushes what is queued first, then closes the connection and calls done.
func (t *wsTransport) writePump(ctx context.Context, done context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.out:
			if err := t.write(ctx, ev); err != nil {
				t.log.Warnf("failed to write %s: %v", ev.Type, err)
				done()
				return
			}
		case req := <-t.closing:
			t.drain(ctx)
			if err := t.conn.Close(req.code, req.reason); err != nil {
				t.log.Debugf("close: %v", err)
			}
			done()
			return
		}
	}
}

func (t *wsTransport) drain(ctx context.Context) {
	for {
		select {
		case ev := <-t.out:
			if err := t.write(ctx, ev); err != nil {
				t.log.Warnf("failed to write %s: %v", ev.Type, err)
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(ctx context.Context, ev consumer.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		t.log.Errorf("failed to marshal %s: %v", ev.Type, err)
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return t.conn.Write(writeCtx, websocket.MessageText, data)
}
