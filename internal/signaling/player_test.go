package signaling

import (
	"context"
	"testing"
	"time"

	"streamrelay/internal/registry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

func startPlayerSession(t *testing.T, stub *stubSfu, reg Registry, validator CredentialValidator) *websocket.Conn {
	t.Helper()
	return dialTestSession(t, func(conn *websocket.Conn) {
		session := NewPlayerSession(conn, stub, reg, validator, PCConfig{}, nil)
		session.Run(context.Background())
	})
}

func TestPlayerSession_AuthThenOffer(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()
	assert.NoError(t, reg.Add(context.Background(), "alice", "grabber-session-1"))

	client := startPlayerSession(t, stub, reg, allowAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "anything"}}))
	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\n", PeerName: "alice"}}))
	answer := readEvent(t, client, EventAnswer)
	assert.NotNil(t, answer.Offer)
	assert.Equal(t, "alice", answer.Offer.PeerName)
	assert.Contains(t, answer.Offer.SDP, "VP8")

	// Trickle ICE now lands on the subscriber session.
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventPlayerICE, ICE: &ICEPayload{Candidate: "candidate:1 1 UDP 2130706431 192.0.2.1 54400 typ host"}}))
	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.subscriberCandidates) == 1
	}, time.Second, 10*time.Millisecond)

	// Disconnect tears the subscriber down.
	client.Close()
	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.removedSubscribers) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestPlayerSession_AuthTimeout(t *testing.T) {
	prior := authTimeout
	authTimeout = 150 * time.Millisecond
	defer func() { authTimeout = prior }()

	stub := newStubSfu()
	client := startPlayerSession(t, stub, registry.NewMemory(), allowAllValidator{})

	readEvent(t, client, EventAuthRequest)

	// Never send AUTH: the server fails the session and closes the socket.
	failed := readEvent(t, client, EventAuthFailed)
	assert.NotEmpty(t, failed.AccessMessage)

	client.SetReadDeadline(time.Now().Add(time.Second))
	var env Envelope
	assert.Error(t, client.ReadJSON(&env), "expected the connection to close after AUTH_FAILED")
}

func TestPlayerSession_AuthRejected(t *testing.T) {
	stub := newStubSfu()
	client := startPlayerSession(t, stub, registry.NewMemory(), denyAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "wrong"}}))

	failed := readEvent(t, client, EventAuthFailed)
	assert.Equal(t, "invalid credential", failed.AccessMessage)

	client.SetReadDeadline(time.Now().Add(time.Second))
	var env Envelope
	assert.Error(t, client.ReadJSON(&env), "expected the connection to close after AUTH_FAILED")
}

func TestPlayerSession_OfferUnknownPeerFails(t *testing.T) {
	stub := newStubSfu()
	client := startPlayerSession(t, stub, registry.NewMemory(), allowAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "ok"}}))
	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\n", PeerName: "nobody"}}))
	readEvent(t, client, EventOfferFailed)
}

func TestPlayerSession_ICEBeforeOfferIsDroppedButOfferStillWorks(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()
	assert.NoError(t, reg.Add(context.Background(), "alice", "grabber-session-1"))

	client := startPlayerSession(t, stub, reg, allowAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "ok"}}))
	readEvent(t, client, EventInitPeer)

	// Candidates before any OFFER: no subscriber session exists yet, each
	// is dropped with an error recorded, the connection survives.
	for i := 0; i < 10; i++ {
		assert.NoError(t, client.WriteJSON(Envelope{Event: EventPlayerICE, ICE: &ICEPayload{Candidate: "candidate:1 1 UDP 2130706431 192.0.2.1 54400 typ host"}}))
	}
	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.subscriberICEErrs) == 10
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\n", PeerName: "alice"}}))
	readEvent(t, client, EventAnswer)
}

func TestPlayerSession_PingPong(t *testing.T) {
	stub := newStubSfu()
	client := startPlayerSession(t, stub, registry.NewMemory(), allowAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "ok"}}))
	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventPing}))
	readEvent(t, client, EventPong)
}

func TestPlayerSession_ServerICEForwarded(t *testing.T) {
	stub := newStubSfu()
	reg := registry.NewMemory()
	assert.NoError(t, reg.Add(context.Background(), "alice", "grabber-session-1"))

	client := startPlayerSession(t, stub, reg, allowAllValidator{})

	readEvent(t, client, EventAuthRequest)
	assert.NoError(t, client.WriteJSON(Envelope{Event: EventAuth, PlayerAuth: &AuthPayload{Credential: "ok"}}))
	readEvent(t, client, EventInitPeer)

	assert.NoError(t, client.WriteJSON(Envelope{Event: EventOffer, Offer: &SDPPayload{SDP: "v=0\r\n", PeerName: "alice"}}))
	readEvent(t, client, EventAnswer)

	// A candidate produced server-side is forwarded as SERVER_ICE.
	stub.mu.Lock()
	var ch chan webrtc.ICECandidateInit
	for _, c := range stub.subscriberICE {
		ch = c
	}
	stub.mu.Unlock()
	assert.NotNil(t, ch)
	ch <- webrtc.ICECandidateInit{Candidate: "candidate:2 1 UDP 1694498815 198.51.100.1 60000 typ srflx"}

	ice := readEvent(t, client, EventServerICE)
	assert.NotNil(t, ice.ICE)
	assert.Contains(t, ice.ICE.Candidate, "srflx")
}
