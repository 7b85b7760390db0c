package sfu

import (
	"fmt"

	"streamrelay/internal/domain"
	sfuerrors "streamrelay/pkg/errors"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// trackPair records one (source, local) track binding so removal can
// address the owning Broadcaster without holding a publisher reference.
type trackPair struct {
	sourceTrackID domain.TrackID
	localTrackID  domain.LocalTrackID
}

// subscriberSession owns one player's peer connection and the local tracks
// it attached to the publisher's Broadcasters. It refers to its publisher
// only by id, so a publisher vanishing between creation and removal is
// handled best-effort rather than as a failure.
type subscriberSession struct {
	id          domain.SubscriberID
	publisherID domain.PublisherID
	pc          *webrtc.PeerConnection
	pairs       []trackPair
	iceOut      chan webrtc.ICECandidateInit
	logger      *zap.SugaredLogger
}

// newSubscriberSession builds one local track per source Broadcaster,
// attaches it to the player's peer connection, spawns an RTCP reader for
// the resulting sender, and attaches the local track to the Broadcaster.
func newSubscriberSession(
	id domain.SubscriberID,
	publisherID domain.PublisherID,
	pc *webrtc.PeerConnection,
	broadcasters map[domain.TrackID]*Broadcaster,
	logger *zap.SugaredLogger,
) (*subscriberSession, error) {
	s := &subscriberSession{
		id:          id,
		publisherID: publisherID,
		pc:          pc,
		iceOut:      make(chan webrtc.ICECandidateInit, 32),
		logger:      logger,
	}

	for sourceTrackID, b := range broadcasters {
		localTrackID := domain.LocalTrackID(fmt.Sprintf("%s-%s", sourceTrackID, id))
		streamID := fmt.Sprintf("stream-%s", publisherID)

		localTrack, err := webrtc.NewTrackLocalStaticRTP(b.Capability().Capability, string(localTrackID), streamID)
		if err != nil {
			return nil, sfuerrors.NewAddTrackError(err)
		}

		sender, err := pc.AddTrack(localTrack)
		if err != nil {
			return nil, sfuerrors.NewAddTrackError(err)
		}

		go s.runRTCPReader(sender, b, b.Kind() == domain.MediaKindVideo)

		b.AddSubscriber(localTrackID, localTrack)
		s.pairs = append(s.pairs, trackPair{sourceTrackID: sourceTrackID, localTrackID: localTrackID})
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		select {
		case s.iceOut <- c.ToJSON():
		default:
			if logger != nil {
				logger.Warnw("subscriber ICE candidate channel full, dropping candidate", "subscriber_id", id)
			}
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if logger != nil {
			logger.Infow("subscriber connection state changed", "subscriber_id", id, "state", state)
		}
	})

	return s, nil
}

// runRTCPReader relays PLI/FIR seen on the subscriber's outbound RTCP back
// to the originating Broadcaster. Audio senders still need their RTCP
// drained for the interceptors to run, but nothing is relayed.
func (s *subscriberSession) runRTCPReader(sender *webrtc.RTPSender, b *Broadcaster, isVideo bool) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if !isVideo {
			continue
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				b.RequestKeyframe()
			}
		}
	}
}

func (s *subscriberSession) negotiate(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewSetRemoteDescriptionError(err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewCreateAnswerError(err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, sfuerrors.NewSetLocalDescriptionError(err)
	}
	return answer, nil
}

func (s *subscriberSession) addICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return sfuerrors.NewAddIceCandidateError(err)
	}
	return nil
}

// close asks the owning publisher's Broadcaster (if still present) to
// remove each local track, then closes the subscriber's own peer
// connection asynchronously. A missing publisher or Broadcaster is not an
// error: a subscriber may legitimately outlive its source.
func (s *subscriberSession) close(lookupBroadcaster func(domain.PublisherID, domain.TrackID) (*Broadcaster, bool)) {
	for _, pair := range s.pairs {
		if b, ok := lookupBroadcaster(s.publisherID, pair.sourceTrackID); ok {
			b.RemoveSubscriber(pair.localTrackID)
		}
	}
	go func() {
		_ = s.pc.Close()
	}()
}
