package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"streamrelay/internal/domain"
	sfupkg "streamrelay/internal/sfu"
	sfuerrors "streamrelay/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

const stubAnswerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\na=rtpmap:96 VP8/90000\r\n"

// stubSfu is a scriptable in-memory Sfu for state-machine tests.
type stubSfu struct {
	mu sync.Mutex

	addPublisherErr  error
	addSubscriberErr error

	publisherICE  map[domain.PublisherID]chan webrtc.ICECandidateInit
	subscriberICE map[domain.SubscriberID]chan webrtc.ICECandidateInit

	removedPublishers  []domain.PublisherID
	removedSubscribers []domain.SubscriberID

	publisherCandidates  []webrtc.ICECandidateInit
	subscriberCandidates []webrtc.ICECandidateInit

	subscriberICEErrs []error
}

func newStubSfu() *stubSfu {
	return &stubSfu{
		publisherICE:  make(map[domain.PublisherID]chan webrtc.ICECandidateInit),
		subscriberICE: make(map[domain.SubscriberID]chan webrtc.ICECandidateInit),
	}
}

func (s *stubSfu) AddPublisher(ctx context.Context, req sfupkg.AddPublisherRequest) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addPublisherErr != nil {
		return webrtc.SessionDescription{}, s.addPublisherErr
	}
	if _, ok := s.publisherICE[req.PublisherID]; !ok {
		s.publisherICE[req.PublisherID] = make(chan webrtc.ICECandidateInit, 8)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: stubAnswerSDP}, nil
}

func (s *stubSfu) UpdatePublisher(ctx context.Context, publisherID domain.PublisherID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: stubAnswerSDP}, nil
}

func (s *stubSfu) RemovePublisher(ctx context.Context, publisherID domain.PublisherID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedPublishers = append(s.removedPublishers, publisherID)
	return nil
}

func (s *stubSfu) AddPublisherICE(ctx context.Context, publisherID domain.PublisherID, candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisherCandidates = append(s.publisherCandidates, candidate)
	return nil
}

func (s *stubSfu) AddSubscriber(ctx context.Context, req sfupkg.AddSubscriberRequest) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addSubscriberErr != nil {
		return webrtc.SessionDescription{}, s.addSubscriberErr
	}
	if _, ok := s.subscriberICE[req.SubscriberID]; !ok {
		s.subscriberICE[req.SubscriberID] = make(chan webrtc.ICECandidateInit, 8)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: stubAnswerSDP}, nil
}

func (s *stubSfu) UpdateSubscriber(ctx context.Context, subscriberID domain.SubscriberID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return offer, nil
}

func (s *stubSfu) RemoveSubscriber(ctx context.Context, subscriberID domain.SubscriberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedSubscribers = append(s.removedSubscribers, subscriberID)
	return nil
}

func (s *stubSfu) AddSubscriberICE(ctx context.Context, subscriberID domain.SubscriberID, candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriberICE[subscriberID]; !ok {
		err := sfuerrors.NewSubscriberNotFoundError(string(subscriberID))
		s.subscriberICEErrs = append(s.subscriberICEErrs, err)
		return err
	}
	s.subscriberCandidates = append(s.subscriberCandidates, candidate)
	return nil
}

func (s *stubSfu) GetMetrics(ctx context.Context) (domain.Metrics, error) {
	return domain.Metrics{SfuID: "sfu_stub"}, nil
}

func (s *stubSfu) HealthCheck(ctx context.Context) error { return nil }

func (s *stubSfu) ID() string { return "sfu_stub" }

func (s *stubSfu) PublisherICEChannel(publisherID domain.PublisherID) (<-chan webrtc.ICECandidateInit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.publisherICE[publisherID]
	return ch, ok
}

func (s *stubSfu) SubscriberICEChannel(subscriberID domain.SubscriberID) (<-chan webrtc.ICECandidateInit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.subscriberICE[subscriberID]
	return ch, ok
}

var _ Sfu = (*stubSfu)(nil)

// allowAllValidator accepts any credential.
type allowAllValidator struct{}

func (allowAllValidator) Validate(string) error { return nil }

// denyAllValidator rejects every credential.
type denyAllValidator struct{}

func (denyAllValidator) Validate(string) error { return ErrInvalidCredential }

// dialTestSession starts an httptest server that hands the upgraded
// connection to serve, and returns a client connection to it.
func dialTestSession(t *testing.T, serve func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
