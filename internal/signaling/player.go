package signaling

import (
	"context"
	"sync"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/internal/sfu"
	"streamrelay/pkg/tracing"
	"streamrelay/pkg/utils"
	"streamrelay/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// authTimeout is how long a player gets to present a valid AUTH after
// AUTH_REQUEST. A variable so tests can shorten it.
var authTimeout = 10 * time.Second

// PlayerSession drives the subscriber-side state machine: AuthRequested ->
// (AuthFailed | Authenticated) -> Initialised -> N x (Offered -> Answered)
// with ICE exchange -> Closed. The socket's session id doubles as the
// subscriber id; a later OFFER replaces the session's current subscription.
type PlayerSession struct {
	sessionID domain.SubscriberID
	conn      *wsConn
	sfu       Sfu
	registry  Registry
	validator CredentialValidator
	pcConfig  PCConfig
	logger    *zap.SugaredLogger

	mu              sync.Mutex
	subscribed      bool
	forwarderCancel context.CancelFunc
}

// NewPlayerSession constructs a player session for one accepted WebSocket.
func NewPlayerSession(rawConn *websocket.Conn, sfuSvc Sfu, reg Registry, validator CredentialValidator, pcConfig PCConfig, logger *zap.SugaredLogger) *PlayerSession {
	return &PlayerSession{
		sessionID: domain.SubscriberID(utils.GenerateID("player")),
		conn:      newWSConn(rawConn, logger),
		sfu:       sfuSvc,
		registry:  reg,
		validator: validator,
		pcConfig:  pcConfig,
		logger:    logger,
	}
}

// Run drives the session to completion. It blocks until the socket closes,
// at which point the subscriber session (if any) is torn down.
func (p *PlayerSession) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.conn.send(Envelope{Event: EventAuthRequest})

	if !p.awaitAuth(ctx) {
		p.conn.Close()
		return
	}

	p.conn.send(Envelope{Event: EventInitPeer, InitPeer: &InitPeerPayload{PCConfig: p.pcConfig}})

	go p.runKeepalive(ctx)

	for {
		var env Envelope
		if err := p.conn.readEnvelope(&env); err != nil {
			break
		}
		p.handle(ctx, env)
	}

	cancel()
	p.teardown(context.Background())
}

// awaitAuth blocks for at most authTimeout waiting for a valid AUTH
// message. Other inbound events before AUTH are discarded: they cannot be
// serviced before a subscriber session exists.
func (p *PlayerSession) awaitAuth(ctx context.Context) bool {
	type result struct {
		env Envelope
		err error
	}
	envCh := make(chan result, 1)

	go func() {
		for {
			var env Envelope
			err := p.conn.readEnvelope(&env)
			envCh <- result{env: env, err: err}
			if err != nil || env.Event == EventAuth {
				return
			}
		}
	}()

	deadline := time.NewTimer(authTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			p.conn.send(Envelope{Event: EventAuthFailed, AccessMessage: "authentication timed out"})
			return false
		case r := <-envCh:
			if r.err != nil {
				return false
			}
			if r.env.Event != EventAuth || r.env.PlayerAuth == nil {
				continue
			}
			if err := validation.ValidateCredential(r.env.PlayerAuth.Credential); err != nil {
				p.conn.send(Envelope{Event: EventAuthFailed, AccessMessage: "invalid credential"})
				return false
			}
			if err := p.validator.Validate(r.env.PlayerAuth.Credential); err != nil {
				if p.logger != nil {
					p.logger.Warnw("player authentication failed", "subscriber_id", p.sessionID, "credential", utils.MaskSensitive(r.env.PlayerAuth.Credential, 6))
				}
				p.conn.send(Envelope{Event: EventAuthFailed, AccessMessage: "invalid credential"})
				return false
			}
			return true
		}
	}
}

func (p *PlayerSession) runKeepalive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.conn.send(Envelope{Event: EventPing, Ping: &PingPayload{Timestamp: time.Now().UnixMilli()}})
		}
	}
}

func (p *PlayerSession) handle(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventOffer:
		if env.Offer == nil {
			p.conn.send(Envelope{Event: EventOfferFailed})
			return
		}
		p.handleOffer(ctx, *env.Offer)
	case EventPlayerICE:
		if env.ICE == nil {
			return
		}
		if err := validation.ValidateICECandidate(env.ICE.Candidate); err != nil {
			if p.logger != nil {
				p.logger.Warnw("rejected player ice candidate", "subscriber_id", p.sessionID, "error", err)
			}
			return
		}
		if err := p.sfu.AddSubscriberICE(ctx, p.sessionID, icePayloadToInit(*env.ICE)); err != nil && p.logger != nil {
			p.logger.Warnw("add subscriber ice failed", "subscriber_id", p.sessionID, "error", err)
		}
	case EventPing:
		p.conn.send(Envelope{Event: EventPong})
	default:
		if p.logger != nil {
			p.logger.Warnw("unhandled player event", "event", env.Event)
		}
	}
}

func (p *PlayerSession) handleOffer(ctx context.Context, sdp SDPPayload) {
	ctx, span := tracing.TraceWebSocketMessage(ctx, "offer", string(p.sessionID))
	defer span.End()

	if err := validation.ValidatePeerName(sdp.PeerName); err != nil {
		p.conn.send(Envelope{Event: EventOfferFailed})
		return
	}
	if err := validation.ValidateSDP(sdp.SDP); err != nil {
		p.conn.send(Envelope{Event: EventOfferFailed})
		return
	}

	peer, ok, err := p.registry.GetByName(ctx, sdp.PeerName)
	if err != nil || !ok {
		p.conn.send(Envelope{Event: EventOfferFailed})
		return
	}

	// A re-offer replaces the current subscription: the facade keys
	// subscriber sessions by id, so the prior one is removed first.
	p.mu.Lock()
	wasSubscribed := p.subscribed
	p.mu.Unlock()
	if wasSubscribed {
		_ = p.sfu.RemoveSubscriber(ctx, p.sessionID)
	}

	req := sfu.AddSubscriberRequest{
		SubscriberID: p.sessionID,
		PublisherID:  domain.PublisherID(peer.SessionID),
		Offer:        sdpPayloadToDescription(sdp),
	}

	ans, err := p.sfu.AddSubscriber(ctx, req)
	if err != nil {
		if p.logger != nil {
			p.logger.Warnw("add subscriber failed", "subscriber_id", p.sessionID, "peer_name", sdp.PeerName, "error", err)
		}
		p.conn.send(Envelope{Event: EventOfferFailed})
		return
	}

	p.conn.send(Envelope{Event: EventAnswer, Offer: &SDPPayload{Type: ans.Type.String(), SDP: ans.SDP, PeerName: sdp.PeerName}})

	p.mu.Lock()
	p.subscribed = true
	if p.forwarderCancel != nil {
		p.forwarderCancel()
	}
	fwdCtx, cancel := context.WithCancel(ctx)
	p.forwarderCancel = cancel
	p.mu.Unlock()

	go p.runICEForwarder(fwdCtx)
}

func (p *PlayerSession) runICEForwarder(ctx context.Context) {
	ch, ok := p.sfu.SubscriberICEChannel(p.sessionID)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case candidate, ok := <-ch:
			if !ok {
				return
			}
			payload := iceInitToPayload(candidate)
			p.conn.send(Envelope{Event: EventServerICE, ICE: &payload})
		}
	}
}

func (p *PlayerSession) teardown(ctx context.Context) {
	if err := p.sfu.RemoveSubscriber(ctx, p.sessionID); err != nil && p.logger != nil {
		p.logger.Warnw("remove subscriber failed", "subscriber_id", p.sessionID, "error", err)
	}
	p.conn.Close()
}
