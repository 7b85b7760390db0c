// Package domain holds the entity and value types shared between the SFU
// forwarding core, the peer registry, and the signaling layer. It is
// intentionally free of framework and transport imports so every other
// package can depend on it without cycles.
package domain

// SessionID identifies one signaling socket's lifetime. A grabber session
// doubles as its publisher id; a player session doubles as its subscriber id.
type SessionID string

// PublisherID identifies a publisher session. Equal to the grabber's SessionID.
type PublisherID string

// SubscriberID identifies a subscriber session. Equal to the player's SessionID.
type SubscriberID string

// TrackID identifies a source (publisher-side) RTP track.
type TrackID string

// LocalTrackID identifies a local track created for one subscriber.
type LocalTrackID string

// MediaKind is the coarse media type of a track, mirrored from pion's
// RTPCodecType without importing pion into this package.
type MediaKind string

const (
	MediaKindAudio   MediaKind = "audio"
	MediaKindVideo   MediaKind = "video"
	MediaKindUnknown MediaKind = "unknown"
)
