package signaling

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn wraps one WebSocket connection with an unbounded outbound queue
// drained by a single writer goroutine. The ICE forwarder, keepalive, and
// state-machine handlers all send concurrently; serialising through the
// queue keeps them off the socket and off each other.
type wsConn struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	mu     sync.Mutex
	queue  []Envelope
	notify chan struct{}
	closed bool
	done   chan struct{}
}

func newWSConn(conn *websocket.Conn, logger *zap.SugaredLogger) *wsConn {
	c := &wsConn{
		conn:   conn,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.runWriter()
	return c
}

// send enqueues env for delivery. Never blocks: the queue grows as needed.
func (c *wsConn) send(env Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, env)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *wsConn) runWriter() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.mu.Unlock()
			select {
			case <-c.notify:
			case <-c.done:
				return
			}
			c.mu.Lock()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, env := range batch {
			if err := c.conn.WriteJSON(env); err != nil {
				if c.logger != nil {
					c.logger.Warnw("websocket write failed", "error", err)
				}
				c.Close()
				return
			}
		}
	}
}

// readEnvelope blocks until the next inbound message, or returns the error
// that ended the connection (read error or Close frame).
func (c *wsConn) readEnvelope(env *Envelope) error {
	return c.conn.ReadJSON(env)
}

// Close idempotently stops the writer goroutine and closes the underlying
// connection.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	_ = c.conn.Close()
}
