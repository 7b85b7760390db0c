package signaling

import (
	"context"
	"testing"
	"time"

	"streamrelay/internal/registry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func readEvent(t *testing.T, conn *websocket.Conn, want Event) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("reading for %s: %v", want, err)
		}
		// Keepalive pings may interleave with the event under test.
		if env.Event == EventPing && want != EventPing {
			continue
		}
		assert.Equal(t, want, env.Event)
		return env
	}
}

func TestGrabberSession_OfferAnswerFlow(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()

	client := dialTestSession(t, func(conn *websocket.Conn) {
		session := NewGrabberSession(conn, "alice", stub, reg, PCConfig{}, 30*time.Second, nil)
		session.Run(context.Background())
	})

	// Connect: INIT_PEER with the keepalive interval.
	init := readEvent(t, client, EventInitPeer)
	assert.NotNil(t, init.InitPeer)
	assert.Equal(t, int64(30000), init.InitPeer.PingInterval)

	// The name registers even before any offer.
	assert.Eventually(t, func() bool {
		_, ok, _ := reg.GetByName(context.Background(), "alice")
		return ok
	}, time.Second, 10*time.Millisecond)

	// OFFER -> ANSWER.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n"}}))
	answer := readEvent(t, client, EventAnswer)
	assert.NotNil(t, answer.Answer)
	assert.Contains(t, answer.Answer.SDP, "VP8")

	// Grabber-side trickle candidate reaches the facade.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventGrabberICE, ICE: &ICEPayload{Candidate: "candidate:1 1 UDP 2130706431 192.0.2.1 54400 typ host"}}))
	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.publisherCandidates) == 1
	}, time.Second, 10*time.Millisecond)

	// PING refreshes the registry record.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventPing, Ping: &PingPayload{Timestamp: time.Now().UnixMilli(), ConnectionsCount: 2, StreamTypes: []string{"webcam"}}}))
	assert.Eventually(t, func() bool {
		status, ok, _ := reg.GetByName(context.Background(), "alice")
		return ok && status.Connections == 2
	}, time.Second, 10*time.Millisecond)

	// Disconnect: registry entry and publisher are torn down.
	client.Close()
	assert.Eventually(t, func() bool {
		_, ok, _ := reg.GetByName(context.Background(), "alice")
		stub.mu.Lock()
		removed := len(stub.removedPublishers) == 1
		stub.mu.Unlock()
		return !ok && removed
	}, time.Second, 10*time.Millisecond)
}

func TestGrabberSession_OfferAnswerEventIsEquivalent(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()

	client := dialTestSession(t, func(conn *websocket.Conn) {
		session := NewGrabberSession(conn, "alice", stub, reg, PCConfig{}, 30*time.Second, nil)
		session.Run(context.Background())
	})

	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOfferAnswer, Answer: &SDPPayload{SDP: "v=0\r\n"}}))
	answer := readEvent(t, client, EventAnswer)
	assert.NotNil(t, answer.Answer)
}

func TestGrabberSession_OfferFailure(t *testing.T) {
	stub := newStubSfu()
	stub.addPublisherErr = assert.AnError
	reg := registry.NewMemory()

	client := dialTestSession(t, func(conn *websocket.Conn) {
		session := NewGrabberSession(conn, "alice", stub, reg, PCConfig{}, 30*time.Second, nil)
		session.Run(context.Background())
	})

	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\n"}}))
	readEvent(t, client, EventOfferFailed)

	// The session survives the failed exchange: a follow-up ping still works.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventPing, Ping: &PingPayload{Timestamp: 1, ConnectionsCount: 1}}))
	assert.Eventually(t, func() bool {
		status, ok, _ := reg.GetByName(context.Background(), "alice")
		return ok && status.Connections == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGrabberSession_InvalidOfferRejectedLocally(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()

	client := dialTestSession(t, func(conn *websocket.Conn) {
		session := NewGrabberSession(conn, "alice", stub, reg, PCConfig{}, 30*time.Second, nil)
		session.Run(context.Background())
	})

	readEvent(t, client, EventInitPeer)

	// Empty SDP never reaches the facade.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: ""}}))
	readEvent(t, client, EventOfferFailed)
}
