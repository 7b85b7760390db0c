package signaling

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestWSConn_SerialisesConcurrentSends(t *testing.T) {
	const senders = 8
	const perSender = 25

	var serverConn *wsConn
	ready := make(chan struct{})
	client := dialTestSession(t, func(conn *websocket.Conn) {
		serverConn = newWSConn(conn, nil)
		close(ready)
		// Hold the connection open until the client side goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	<-ready

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				serverConn.send(Envelope{Event: EventPing, Ping: &PingPayload{Timestamp: time.Now().UnixMilli()}})
			}
		}()
	}
	wg.Wait()

	received := 0
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for received < senders*perSender {
		var env Envelope
		if err := client.ReadJSON(&env); err != nil {
			t.Fatalf("read failed after %d messages: %v", received, err)
		}
		assert.Equal(t, EventPing, env.Event)
		received++
	}
}

func TestWSConn_SendAfterCloseIsNoop(t *testing.T) {
	done := make(chan *wsConn, 1)
	_ = dialTestSession(t, func(conn *websocket.Conn) {
		c := newWSConn(conn, nil)
		done <- c
	})

	c := <-done
	c.Close()
	c.Close() // idempotent

	// Must not panic or block.
	c.send(Envelope{Event: EventPong})
}
