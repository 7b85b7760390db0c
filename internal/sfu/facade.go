package sfu

import (
	"context"
	"fmt"
	"sync"

	"streamrelay/internal/domain"
	sfuerrors "streamrelay/pkg/errors"
	"streamrelay/pkg/utils"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config configures the Facade: ICE servers, the codec set registered on
// the media engine, the fan-out channel capacity, and admission limits.
type Config struct {
	ICEServers                 []webrtc.ICEServer
	AudioCodecs                []webrtc.RTPCodecParameters
	VideoCodecs                []webrtc.RTPCodecParameters
	BroadcastChannelCapacity   int
	MaxPublishers              int
	MaxSubscribersPerPublisher int

	// Stats, when set, receives forwarding-plane events from every
	// Broadcaster. May be nil.
	Stats StatsSink
}

// Facade is the single-node Sfu implementation: it owns the publisher and
// subscriber session maps and enforces admission limits before any
// peer-connection resource is created.
type Facade struct {
	id     string
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger

	mu          sync.RWMutex
	publishers  map[domain.PublisherID]*publisherSession
	subscribers map[domain.SubscriberID]*subscriberSession
	subsByPub   map[domain.PublisherID]map[domain.SubscriberID]struct{}

	// OnPublisherCountChanged and OnSubscriberCountChanged, when set, are
	// invoked with the signed delta on every admission/removal so the caller
	// can keep gauges without this package importing the metrics stack.
	OnPublisherCountChanged  func(delta int)
	OnSubscriberCountChanged func(delta int)
}

// NewFacade builds a Facade with the configured codecs and the default
// interceptor chain (NACK, RTCP reports, TWCC) registered on its internal
// webrtc.API.
func NewFacade(config Config, logger *zap.SugaredLogger) (*Facade, error) {
	m := &webrtc.MediaEngine{}
	for _, codec := range config.AudioCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, sfuerrors.NewConfigurationError(fmt.Sprintf("failed to register audio codec %s: %v", codec.MimeType, err))
		}
	}
	for _, codec := range config.VideoCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, sfuerrors.NewConfigurationError(fmt.Sprintf("failed to register video codec %s: %v", codec.MimeType, err))
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, sfuerrors.NewConfigurationError(fmt.Sprintf("failed to register default interceptors: %v", err))
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	return &Facade{
		id:          utils.GenerateID("sfu"),
		config:      config,
		api:         api,
		logger:      logger,
		publishers:  make(map[domain.PublisherID]*publisherSession),
		subscribers: make(map[domain.SubscriberID]*subscriberSession),
		subsByPub:   make(map[domain.PublisherID]map[domain.SubscriberID]struct{}),
	}, nil
}

func (f *Facade) ID() string { return f.id }

func (f *Facade) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, sfuerrors.NewPeerConnectionCreationError(err)
	}
	return pc, nil
}

// AddPublisher enforces the publisher cap before creating any
// peer-connection resource, then performs the offer -> answer exchange.
// A new registration under an existing publisher id replaces the prior
// session.
func (f *Facade) AddPublisher(ctx context.Context, req AddPublisherRequest) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	_, replacing := f.publishers[req.PublisherID]
	if !replacing && f.config.MaxPublishers > 0 && len(f.publishers) >= f.config.MaxPublishers {
		f.mu.Unlock()
		return webrtc.SessionDescription{}, sfuerrors.NewInternalError(fmt.Sprintf("publisher admission refused: max_publishers (%d) reached", f.config.MaxPublishers))
	}
	f.mu.Unlock()

	pc, err := f.newPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	session := newPublisherSession(req.PublisherID, pc, f.config.BroadcastChannelCapacity, f.config.Stats, f.logger)

	answer, err := session.negotiate(req.Offer)
	if err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	if prior, exists := f.publishers[req.PublisherID]; exists {
		prior.close()
	} else {
		f.publishersGauge(1)
	}
	f.publishers[req.PublisherID] = session
	f.mu.Unlock()

	return answer, nil
}

// PublisherICEChannel exposes the outbound ICE candidate stream for a
// publisher so the signaling layer's forwarder can drain it.
func (f *Facade) PublisherICEChannel(publisherID domain.PublisherID) (<-chan webrtc.ICECandidateInit, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	session, ok := f.publishers[publisherID]
	if !ok {
		return nil, false
	}
	return session.iceOut, true
}

// SubscriberICEChannel is the subscriber-side equivalent of PublisherICEChannel.
func (f *Facade) SubscriberICEChannel(subscriberID domain.SubscriberID) (<-chan webrtc.ICECandidateInit, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	session, ok := f.subscribers[subscriberID]
	if !ok {
		return nil, false
	}
	return session.iceOut, true
}

// UpdatePublisher performs the same three-step renegotiation without
// tearing down the session.
func (f *Facade) UpdatePublisher(ctx context.Context, publisherID domain.PublisherID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.RLock()
	session, ok := f.publishers[publisherID]
	f.mu.RUnlock()
	if !ok {
		return webrtc.SessionDescription{}, sfuerrors.NewPublisherNotFoundError(string(publisherID))
	}
	return session.negotiate(offer)
}

// RemovePublisher is idempotent: removing an unknown or already-removed
// publisher succeeds and leaves counters unchanged.
func (f *Facade) RemovePublisher(ctx context.Context, publisherID domain.PublisherID) error {
	f.mu.Lock()
	session, ok := f.publishers[publisherID]
	if ok {
		delete(f.publishers, publisherID)
		delete(f.subsByPub, publisherID)
		f.publishersGauge(-1)
	}
	f.mu.Unlock()
	if ok {
		session.close()
	}
	return nil
}

func (f *Facade) AddPublisherICE(ctx context.Context, publisherID domain.PublisherID, candidate webrtc.ICECandidateInit) error {
	f.mu.RLock()
	session, ok := f.publishers[publisherID]
	f.mu.RUnlock()
	if !ok {
		return sfuerrors.NewPublisherNotFoundError(string(publisherID))
	}
	return session.addICECandidate(candidate)
}

// AddSubscriber enforces the per-publisher subscriber cap, snapshots the
// publisher's Broadcaster set, builds the subscriber session, and performs
// the offer -> answer exchange.
func (f *Facade) AddSubscriber(ctx context.Context, req AddSubscriberRequest) (webrtc.SessionDescription, error) {
	f.mu.RLock()
	publisher, ok := f.publishers[req.PublisherID]
	currentCount := len(f.subsByPub[req.PublisherID])
	f.mu.RUnlock()
	if !ok {
		return webrtc.SessionDescription{}, sfuerrors.NewPublisherNotFoundError(string(req.PublisherID))
	}
	if f.config.MaxSubscribersPerPublisher > 0 && currentCount >= f.config.MaxSubscribersPerPublisher {
		return webrtc.SessionDescription{}, sfuerrors.NewInternalError(fmt.Sprintf("subscriber admission refused: max_subscribers_per_publisher (%d) reached for publisher %s", f.config.MaxSubscribersPerPublisher, req.PublisherID))
	}

	pc, err := f.newPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	broadcasters := publisher.snapshotBroadcasters()
	session, err := newSubscriberSession(req.SubscriberID, req.PublisherID, pc, broadcasters, f.logger)
	if err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, err
	}

	answer, err := session.negotiate(req.Offer)
	if err != nil {
		_ = pc.Close()
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	f.subscribers[req.SubscriberID] = session
	if f.subsByPub[req.PublisherID] == nil {
		f.subsByPub[req.PublisherID] = make(map[domain.SubscriberID]struct{})
	}
	f.subsByPub[req.PublisherID][req.SubscriberID] = struct{}{}
	f.subscribersGauge(1)
	f.mu.Unlock()

	return answer, nil
}

// UpdateSubscriber is reserved for future renegotiation support; it is a
// no-op that always succeeds.
func (f *Facade) UpdateSubscriber(ctx context.Context, subscriberID domain.SubscriberID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return offer, nil
}

// RemoveSubscriber is idempotent: removing an unknown subscriber is a no-op
// that succeeds.
func (f *Facade) RemoveSubscriber(ctx context.Context, subscriberID domain.SubscriberID) error {
	f.mu.Lock()
	session, ok := f.subscribers[subscriberID]
	if ok {
		delete(f.subscribers, subscriberID)
		if set, exists := f.subsByPub[session.publisherID]; exists {
			delete(set, subscriberID)
		}
		f.subscribersGauge(-1)
	}
	f.mu.Unlock()
	if !ok {
		return nil
	}

	session.close(func(publisherID domain.PublisherID, trackID domain.TrackID) (*Broadcaster, bool) {
		f.mu.RLock()
		publisher, ok := f.publishers[publisherID]
		f.mu.RUnlock()
		if !ok {
			return nil, false
		}
		return publisher.broadcaster(trackID)
	})
	return nil
}

func (f *Facade) AddSubscriberICE(ctx context.Context, subscriberID domain.SubscriberID, candidate webrtc.ICECandidateInit) error {
	f.mu.RLock()
	session, ok := f.subscribers[subscriberID]
	f.mu.RUnlock()
	if !ok {
		return sfuerrors.NewSubscriberNotFoundError(string(subscriberID))
	}
	return session.addICECandidate(candidate)
}

// GetMetrics assembles a snapshot. CPU, memory, uptime, and per-track
// bitrate are reserved for a future collector and stay zero.
func (f *Facade) GetMetrics(ctx context.Context) (domain.Metrics, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return domain.Metrics{
		SfuID:       f.id,
		Publishers:  len(f.publishers),
		Subscribers: len(f.subscribers),
	}, nil
}

// HealthCheck always succeeds in this in-process implementation.
func (f *Facade) HealthCheck(ctx context.Context) error { return nil }

func (f *Facade) publishersGauge(delta int) {
	if f.OnPublisherCountChanged != nil {
		f.OnPublisherCountChanged(delta)
	}
}

func (f *Facade) subscribersGauge(delta int) {
	if f.OnSubscriberCountChanged != nil {
		f.OnSubscriberCountChanged(delta)
	}
}
