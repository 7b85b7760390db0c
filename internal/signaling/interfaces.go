package signaling

import (
	"streamrelay/internal/domain"
	"streamrelay/internal/registry"
	"streamrelay/internal/sfu"

	"github.com/pion/webrtc/v3"
)

// Sfu is what the signaling layer needs from the forwarding core: the
// capability set plus the two ICE-candidate drain points the grabber and
// player forwarder goroutines read from.
type Sfu interface {
	sfu.Sfu
	PublisherICEChannel(publisherID domain.PublisherID) (<-chan webrtc.ICECandidateInit, bool)
	SubscriberICEChannel(subscriberID domain.SubscriberID) (<-chan webrtc.ICECandidateInit, bool)
}

// compile-time assertion that *sfu.Facade satisfies Sfu.
var _ Sfu = (*sfu.Facade)(nil)

// Registry is internal/registry.PeerRegistry, aliased here so
// grabber.go/player.go don't need to import the registry package directly.
type Registry = registry.PeerRegistry
