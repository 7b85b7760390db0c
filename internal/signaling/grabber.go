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

// GrabberSession drives the publisher-side state machine: Connecting ->
// Initialised -> (Offered <-> Answered) with ICE exchange -> Closed. The
// socket's session id doubles as the publisher id.
type GrabberSession struct {
	name      string
	sessionID domain.SessionID
	conn      *wsConn
	sfu       Sfu
	registry  Registry
	pcConfig  PCConfig
	pingEvery time.Duration
	logger    *zap.SugaredLogger

	mu              sync.Mutex
	publisherID     domain.PublisherID
	forwarderCancel context.CancelFunc
}

// NewGrabberSession constructs a grabber session for the given URL-decoded
// name. The session id is generated fresh per connection.
func NewGrabberSession(rawConn *websocket.Conn, name string, sfuSvc Sfu, reg Registry, pcConfig PCConfig, pingEvery time.Duration, logger *zap.SugaredLogger) *GrabberSession {
	sessionID := domain.SessionID(utils.GenerateID("grabber"))
	return &GrabberSession{
		name:        name,
		sessionID:   sessionID,
		conn:        newWSConn(rawConn, logger),
		sfu:         sfuSvc,
		registry:    reg,
		pcConfig:    pcConfig,
		pingEvery:   pingEvery,
		logger:      logger,
		publisherID: domain.PublisherID(sessionID),
	}
}

// Run drives the session to completion. It blocks until the socket closes,
// at which point it tears down the publisher and registry entry.
func (g *GrabberSession) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.conn.send(Envelope{
		Event: EventInitPeer,
		InitPeer: &InitPeerPayload{
			PCConfig:     g.pcConfig,
			PingInterval: g.pingEvery.Milliseconds(),
		},
	})

	if err := g.registry.Add(ctx, g.name, g.sessionID); err != nil && g.logger != nil {
		g.logger.Warnw("grabber registry add failed", "name", g.name, "error", err)
	}

	go g.runKeepalive(ctx)

	for {
		var env Envelope
		if err := g.conn.readEnvelope(&env); err != nil {
			break
		}
		g.handle(ctx, env)
	}

	cancel()
	g.teardown(context.Background())
}

func (g *GrabberSession) runKeepalive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.conn.send(Envelope{Event: EventPing, Ping: &PingPayload{Timestamp: time.Now().UnixMilli()}})
		}
	}
}

func (g *GrabberSession) handle(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventOffer, EventOfferAnswer:
		// OFFER and OFFER_ANSWER carry the same payload in different fields
		// and are handled identically.
		var sdp SDPPayload
		if env.Event == EventOffer && env.Offer != nil {
			sdp = *env.Offer
		} else if env.Answer != nil {
			sdp = *env.Answer
		} else {
			g.conn.send(Envelope{Event: EventOfferFailed})
			return
		}
		g.handleOffer(ctx, sdp)
	case EventGrabberICE:
		if env.ICE == nil {
			return
		}
		if err := validation.ValidateICECandidate(env.ICE.Candidate); err != nil {
			if g.logger != nil {
				g.logger.Warnw("rejected grabber ice candidate", "publisher_id", g.publisherID, "error", err)
			}
			return
		}
		if err := g.sfu.AddPublisherICE(ctx, g.publisherID, icePayloadToInit(*env.ICE)); err != nil && g.logger != nil {
			g.logger.Warnw("add publisher ice failed", "publisher_id", g.publisherID, "error", err)
		}
	case EventPing:
		if env.Ping == nil {
			return
		}
		if err := g.registry.UpdatePing(ctx, g.sessionID, env.Ping.ConnectionsCount, env.Ping.StreamTypes); err != nil && g.logger != nil {
			g.logger.Warnw("registry update ping failed", "session_id", g.sessionID, "error", err)
		}
	case EventAuth:
		// Grabbers are identified by their URL path; an AUTH message is
		// accepted and ignored.
	default:
		if g.logger != nil {
			g.logger.Warnw("unhandled grabber event", "event", env.Event)
		}
	}
}

func (g *GrabberSession) handleOffer(ctx context.Context, sdp SDPPayload) {
	ctx, span := tracing.TraceWebSocketMessage(ctx, "offer", string(g.sessionID))
	defer span.End()

	if err := validation.ValidateSDP(sdp.SDP); err != nil {
		g.conn.send(Envelope{Event: EventOfferFailed})
		return
	}

	req := sfu.AddPublisherRequest{
		SessionID:   g.sessionID,
		PublisherID: g.publisherID,
		Offer:       sdpPayloadToDescription(sdp),
	}

	ans, err := g.sfu.AddPublisher(ctx, req)
	if err != nil {
		if g.logger != nil {
			g.logger.Warnw("add publisher failed", "publisher_id", g.publisherID, "error", err)
		}
		g.conn.send(Envelope{Event: EventOfferFailed})
		return
	}

	g.conn.send(Envelope{Event: EventAnswer, Answer: &SDPPayload{Type: ans.Type.String(), SDP: ans.SDP}})

	// Each successful (re)negotiation produces a fresh publisher session in
	// the facade, so the ICE forwarder is restarted against the new
	// candidate channel.
	g.mu.Lock()
	if g.forwarderCancel != nil {
		g.forwarderCancel()
	}
	fwdCtx, cancel := context.WithCancel(ctx)
	g.forwarderCancel = cancel
	g.mu.Unlock()

	go g.runICEForwarder(fwdCtx)
}

func (g *GrabberSession) runICEForwarder(ctx context.Context) {
	ch, ok := g.sfu.PublisherICEChannel(g.publisherID)
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
			g.conn.send(Envelope{Event: EventServerICE, ICE: &payload})
		}
	}
}

func (g *GrabberSession) teardown(ctx context.Context) {
	if err := g.registry.RemoveBySession(ctx, g.sessionID); err != nil && g.logger != nil {
		g.logger.Warnw("registry remove failed", "session_id", g.sessionID, "error", err)
	}
	if err := g.sfu.RemovePublisher(ctx, g.publisherID); err != nil && g.logger != nil {
		g.logger.Warnw("remove publisher failed", "publisher_id", g.publisherID, "error", err)
	}
	g.conn.Close()
}
