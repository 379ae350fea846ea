package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/dyadchat/internal/observability"
	"github.com/antoniostano/dyadchat/internal/protocol"
)

const (
	outboundQueueSize = 256
	writeWait         = 10 * time.Second
	readWait          = 120 * time.Second
	pingPeriod        = 30 * time.Second
)

// wsConn is one websocket participant connection. All writes go through a
// single writer goroutine; Send never blocks.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	out     chan any
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
	metrics *observability.Metrics
}

func newWSConn(ws *websocket.Conn, metrics *observability.Metrics) *wsConn {
	return &wsConn{
		id:      uuid.NewString(),
		ws:      ws,
		out:     make(chan any, outboundQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(v any) bool {
	t, _ := protocol.TypeOf(v)
	select {
	case <-c.closing:
		c.metrics.ObserveOutboundMessage(string(t), "drop_closed")
		return false
	default:
	}
	select {
	case c.out <- v:
		c.metrics.ObserveOutboundMessage(string(t), "queued")
		return true
	default:
		c.metrics.ObserveOutboundMessage(string(t), "drop_full")
		return false
	}
}

// Close flushes what is already queued and then closes the socket.
func (c *wsConn) Close() {
	c.once.Do(func() { close(c.closing) })
}

func (c *wsConn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.out:
			if !c.write(msg) {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.out:
			if !c.write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(msg any) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.metrics.ObserveOutboundMessage("write_json", "error")
		return false
	}
	if t, ok := protocol.TypeOf(msg); ok {
		c.metrics.ObserveWSMessage("outbound", string(t))
	}
	return true
}
