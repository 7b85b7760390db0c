package sfu

import (
	"sync"

	"streamrelay/internal/domain"
	sfuerrors "streamrelay/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// publisherSession owns one grabber's peer connection and the Broadcasters
// created from each of its incoming tracks.
type publisherSession struct {
	id                domain.PublisherID
	pc                *webrtc.PeerConnection
	broadcastCapacity int
	stats             StatsSink

	mu           sync.RWMutex
	broadcasters map[domain.TrackID]*Broadcaster

	iceOut chan webrtc.ICECandidateInit

	logger *zap.SugaredLogger
}

func newPublisherSession(id domain.PublisherID, pc *webrtc.PeerConnection, broadcastCapacity int, stats StatsSink, logger *zap.SugaredLogger) *publisherSession {
	p := &publisherSession{
		id:                id,
		pc:                pc,
		broadcastCapacity: broadcastCapacity,
		stats:             stats,
		broadcasters:      make(map[domain.TrackID]*Broadcaster),
		iceOut:            make(chan webrtc.ICECandidateInit, 32),
		logger:            logger,
	}

	pc.OnTrack(p.handleOnTrack)
	pc.OnICECandidate(p.handleOnICECandidate)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if logger != nil {
			logger.Infow("publisher connection state changed", "publisher_id", id, "state", state)
		}
	})

	return p
}

func (p *publisherSession) handleOnTrack(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	trackID := domain.TrackID(remoteTrack.ID())

	b := NewBroadcaster(trackID, remoteTrack, receiver, p.pc, p.broadcastCapacity, p.stats, p.logger)

	p.mu.Lock()
	p.broadcasters[trackID] = b
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Infow("publisher track started", "publisher_id", p.id, "track_id", trackID, "kind", b.Kind(), "mime_type", b.MimeType())
	}
}

func (p *publisherSession) handleOnICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	select {
	case p.iceOut <- c.ToJSON():
	default:
		if p.logger != nil {
			p.logger.Warnw("publisher ICE candidate channel full, dropping candidate", "publisher_id", p.id)
		}
	}
}

// snapshotBroadcasters returns the publisher's current Broadcaster set.
// Subscribers created afterwards attach to exactly this snapshot; tracks
// arriving later require renegotiation.
func (p *publisherSession) snapshotBroadcasters() map[domain.TrackID]*Broadcaster {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[domain.TrackID]*Broadcaster, len(p.broadcasters))
	for k, v := range p.broadcasters {
		out[k] = v
	}
	return out
}

func (p *publisherSession) broadcaster(trackID domain.TrackID) (*Broadcaster, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.broadcasters[trackID]
	return b, ok
}

// close tears down every Broadcaster and closes the peer connection
// asynchronously so the caller never blocks on DTLS/ICE shutdown.
func (p *publisherSession) close() {
	p.mu.Lock()
	broadcasters := make([]*Broadcaster, 0, len(p.broadcasters))
	for _, b := range p.broadcasters {
		broadcasters = append(broadcasters, b)
	}
	p.broadcasters = make(map[domain.TrackID]*Broadcaster)
	p.mu.Unlock()

	for _, b := range broadcasters {
		b.Close()
	}
	go func() {
		_ = p.pc.Close()
	}()
}

func (p *publisherSession) negotiate(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewSetRemoteDescriptionError(err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewCreateAnswerError(err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewSetLocalDescriptionError(err)
	}
	return answer, nil
}

func (p *publisherSession) addICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return sfuerrors.NewAddIceCandidateError(err)
	}
	return nil
}
