// Package sfu implements the forwarding core of the Selective Forwarding
// Unit: publisher and subscriber session management, the per-track RTP
// broadcast fabric, and keyframe-request propagation.
package sfu

import (
	"context"
	"time"

	"streamrelay/internal/domain"

	"github.com/pion/webrtc/v3"
)

// Sfu is the capability set the signaling layer calls. Only the
// single-node Facade implements it today; the interface leaves room for a
// clustered implementation behind the same operations.
type Sfu interface {
	AddPublisher(ctx context.Context, req AddPublisherRequest) (webrtc.SessionDescription, error)
	UpdatePublisher(ctx context.Context, publisherID domain.PublisherID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	RemovePublisher(ctx context.Context, publisherID domain.PublisherID) error
	AddPublisherICE(ctx context.Context, publisherID domain.PublisherID, candidate webrtc.ICECandidateInit) error

	AddSubscriber(ctx context.Context, req AddSubscriberRequest) (webrtc.SessionDescription, error)
	UpdateSubscriber(ctx context.Context, subscriberID domain.SubscriberID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	RemoveSubscriber(ctx context.Context, subscriberID domain.SubscriberID) error
	AddSubscriberICE(ctx context.Context, subscriberID domain.SubscriberID, candidate webrtc.ICECandidateInit) error

	GetMetrics(ctx context.Context) (domain.Metrics, error)
	HealthCheck(ctx context.Context) error
	ID() string
}

// AddPublisherRequest is the input to Sfu.AddPublisher. Trickled ICE
// candidates generated for the resulting peer connection are not part of
// the request; the caller drains them afterward via
// Facade.PublisherICEChannel.
type AddPublisherRequest struct {
	SessionID   domain.SessionID
	PublisherID domain.PublisherID
	Offer       webrtc.SessionDescription
}

// AddSubscriberRequest is the input to Sfu.AddSubscriber. See
// AddPublisherRequest for the ICE candidate channel note.
type AddSubscriberRequest struct {
	SubscriberID domain.SubscriberID
	PublisherID  domain.PublisherID
	Offer        webrtc.SessionDescription
}

// CodecCapability bundles the negotiated (or synthesised default) codec
// parameters for a source track. Subscriber local tracks reuse it verbatim
// so their SDP media sections align with the source.
type CodecCapability struct {
	Capability webrtc.RTPCodecCapability
	Kind       webrtc.RTPCodecType
}

// StatsSink receives forwarding-plane events. Implementations must not
// block: these are called from the RTP hot path.
type StatsSink interface {
	RTPPacketsForwarded(n int)
	PLISent()
	ConsumerLagged(gap uint64)
}

// defaultCapability synthesises a codec capability by media kind when the
// RTP receiver reports none: video/VP8, audio/opus, or <kind>/unknown.
func defaultCapability(kind webrtc.RTPCodecType) CodecCapability {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return CodecCapability{Kind: kind, Capability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}}
	case webrtc.RTPCodecTypeAudio:
		return CodecCapability{Kind: kind, Capability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}}
	default:
		return CodecCapability{Kind: kind, Capability: webrtc.RTPCodecCapability{MimeType: kind.String() + "/unknown"}}
	}
}

func mediaKind(kind webrtc.RTPCodecType) domain.MediaKind {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return domain.MediaKindVideo
	case webrtc.RTPCodecTypeAudio:
		return domain.MediaKindAudio
	default:
		return domain.MediaKindUnknown
	}
}

// Clock substitutes for time.Now in tests that need to control PLI timing.
var Clock = time.Now
