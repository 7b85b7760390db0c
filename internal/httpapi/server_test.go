package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"streamrelay/internal/domain"
	"streamrelay/internal/registry"
	sfupkg "streamrelay/internal/sfu"
	"streamrelay/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

// fakeSfu answers the status endpoints without touching WebRTC.
type fakeSfu struct {
	mu          sync.Mutex
	publishers  int
	subscribers int
}

func (f *fakeSfu) AddPublisher(ctx context.Context, req sfupkg.AddPublisherRequest) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}

func (f *fakeSfu) UpdatePublisher(ctx context.Context, publisherID domain.PublisherID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}

func (f *fakeSfu) RemovePublisher(ctx context.Context, publisherID domain.PublisherID) error {
	return nil
}

func (f *fakeSfu) AddPublisherICE(ctx context.Context, publisherID domain.PublisherID, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSfu) AddSubscriber(ctx context.Context, req sfupkg.AddSubscriberRequest) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}

func (f *fakeSfu) UpdateSubscriber(ctx context.Context, subscriberID domain.SubscriberID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return offer, nil
}

func (f *fakeSfu) RemoveSubscriber(ctx context.Context, subscriberID domain.SubscriberID) error {
	return nil
}

func (f *fakeSfu) AddSubscriberICE(ctx context.Context, subscriberID domain.SubscriberID, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSfu) GetMetrics(ctx context.Context) (domain.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Metrics{SfuID: "sfu_test", Publishers: f.publishers, Subscribers: f.subscribers}, nil
}

func (f *fakeSfu) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeSfu) ID() string { return "sfu_test" }

func (f *fakeSfu) PublisherICEChannel(publisherID domain.PublisherID) (<-chan webrtc.ICECandidateInit, bool) {
	return nil, false
}

func (f *fakeSfu) SubscriberICEChannel(subscriberID domain.SubscriberID) (<-chan webrtc.ICECandidateInit, bool) {
	return nil, false
}

func newTestServer(t *testing.T, reg registry.PeerRegistry) (*Server, *fakeSfu) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.EnableMetrics = false
	fake := &fakeSfu{publishers: 2, subscribers: 5}
	return NewServer(cfg, fake, reg, nil, nil, nil, nil), fake
}

func TestHandlePeers(t *testing.T) {
	reg := registry.NewMemory()
	assert.NoError(t, reg.Add(context.Background(), "alice", "session-1"))

	server, _ := newTestServer(t, reg)
	router := server.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/peers", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Peers []domain.PeerStatus `json:"peers"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Peers, 1)
	assert.Equal(t, "alice", body.Peers[0].Name)
}

func TestHandlePeers_EmptyListIsArray(t *testing.T) {
	server, _ := newTestServer(t, registry.NewMemory())
	router := server.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/peers", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"peers":[]}`, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, registry.NewMemory())
	router := server.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "sfu_test", body["sfu_id"])
	assert.Equal(t, float64(2), body["publishers"])
	assert.Equal(t, float64(5), body["subscribers"])
}

func TestCORSHeaders(t *testing.T) {
	server, _ := newTestServer(t, registry.NewMemory())
	router := server.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/peers", nil)
	req.Header.Set("Origin", "https://example.org")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGrabberUpgradeRequiresName(t *testing.T) {
	server, _ := newTestServer(t, registry.NewMemory())
	router := server.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/grabber/%20", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPCConfigFromICEServers(t *testing.T) {
	cfg := PCConfigFromICEServers([]string{"stun:stun.example.org:3478", "turn:turn.example.org:3478"})
	assert.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.ICEServers[0].URLs, 2)

	empty := PCConfigFromICEServers(nil)
	assert.NotNil(t, empty.ICEServers)
	assert.Empty(t, empty.ICEServers)
}
