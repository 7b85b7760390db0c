// Package signaling implements the two per-socket WebSocket state machines
// (grabber and player) that negotiate SDP and exchange ICE candidates with
// the forwarding core in internal/sfu.
package signaling

import (
	"github.com/pion/webrtc/v3"
)

// Event is the discriminator field carried by every envelope.
type Event string

const (
	// Outbound, both channels.
	EventInitPeer    Event = "INIT_PEER"
	EventAnswer      Event = "ANSWER"
	EventServerICE   Event = "SERVER_ICE"
	EventOfferFailed Event = "OFFER_FAILED"

	// Outbound, player only.
	EventAuthRequest Event = "AUTH_REQUEST"
	EventAuthFailed  Event = "AUTH_FAILED"
	EventPong        Event = "PONG"

	// Inbound, both channels.
	EventOffer Event = "OFFER"
	EventPing  Event = "PING"

	// Inbound, grabber only.
	EventOfferAnswer Event = "OFFER_ANSWER"
	EventGrabberICE  Event = "GRABBER_ICE"

	// Inbound. AUTH arrives on both channels (the grabber's is ignored);
	// PLAYER_ICE is player only.
	EventAuth      Event = "AUTH"
	EventPlayerICE Event = "PLAYER_ICE"
)

// Envelope is the wire format for every message exchanged on either socket.
// Only the field(s) relevant to Event are populated; the rest are omitted.
type Envelope struct {
	Event Event `json:"event"`

	InitPeer      *InitPeerPayload `json:"initPeer,omitempty"`
	Answer        *SDPPayload      `json:"answer,omitempty"`
	Offer         *SDPPayload      `json:"offer,omitempty"`
	ICE           *ICEPayload      `json:"ice,omitempty"`
	Ping          *PingPayload     `json:"ping,omitempty"`
	GrabberAuth   *AuthPayload     `json:"grabberAuth,omitempty"`
	PlayerAuth    *AuthPayload     `json:"playerAuth,omitempty"`
	AccessMessage string           `json:"accessMessage,omitempty"`
}

// InitPeerPayload carries the ICE server configuration the client should
// use, plus (grabber only) the configured signal.ping_interval in
// milliseconds. The server's own keepalive PING runs every 30 s regardless.
type InitPeerPayload struct {
	PCConfig     PCConfig `json:"pcConfig"`
	PingInterval int64    `json:"pingInterval,omitempty"`
}

// PCConfig mirrors the RTCConfiguration shape a browser PeerConnection
// constructor expects.
type PCConfig struct {
	ICEServers []ICEServerConfig `json:"iceServers"`
}

// ICEServerConfig is one entry of PCConfig.ICEServers.
type ICEServerConfig struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SDPPayload carries an SDP offer or answer. PeerName is set only on the
// player channel, where offers/answers are addressed to a grabber by its
// registered name.
type SDPPayload struct {
	Type     string `json:"type,omitempty"`
	SDP      string `json:"sdp"`
	PeerName string `json:"peerName,omitempty"`
}

// ICEPayload is an ICE candidate descriptor.
type ICEPayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// PingPayload covers both directions: the grabber's periodic status report
// (Timestamp, ConnectionsCount, StreamTypes) and the server's bare
// keepalive ping (Timestamp only).
type PingPayload struct {
	Timestamp        int64    `json:"timestamp"`
	ConnectionsCount int      `json:"connectionsCount,omitempty"`
	StreamTypes      []string `json:"streamTypes,omitempty"`
}

// AuthPayload carries the credential sent by a grabber or player on AUTH.
type AuthPayload struct {
	Credential string `json:"credential"`
}

func sdpPayloadToDescription(p SDPPayload) webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if p.Type != "" {
		sdpType = webrtc.NewSDPType(p.Type)
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: p.SDP}
}

func descriptionToSDPPayload(desc webrtc.SessionDescription, peerName string) SDPPayload {
	return SDPPayload{Type: desc.Type.String(), SDP: desc.SDP, PeerName: peerName}
}

func iceInitToPayload(c webrtc.ICECandidateInit) ICEPayload {
	p := ICEPayload{Candidate: c.Candidate}
	if c.SDPMid != nil {
		p.SDPMid = c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		p.SDPMLineIndex = c.SDPMLineIndex
	}
	if c.UsernameFragment != nil {
		p.UsernameFragment = c.UsernameFragment
	}
	return p
}

func icePayloadToInit(p ICEPayload) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}
}

func pcConfigFromICEServers(servers []webrtc.ICEServer) PCConfig {
	out := PCConfig{ICEServers: make([]ICEServerConfig, 0, len(servers))}
	for _, s := range servers {
		cfg := ICEServerConfig{URLs: s.URLs}
		if s.Username != "" {
			cfg.Username = s.Username
		}
		if cred, ok := s.Credential.(string); ok {
			cfg.Credential = cred
		}
		out.ICEServers = append(out.ICEServers, cfg)
	}
	return out
}
