package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	pliMinSpacing    = 500 * time.Millisecond
	pliBurstCount    = 3
	pliBurstSpacing  = 300 * time.Millisecond
	lagKeyframeLimit = 10
	pliInboxSize     = 32

	// statsFlushEvery bounds how often the producer reports forwarded-packet
	// counts to the stats sink.
	statsFlushEvery = 100
)

// rtcpWriter is the slice of *webrtc.PeerConnection the PLI serializer
// needs.
type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// packetEnvelope carries one forwarded RTP packet plus the producer's
// monotonic sequence, which a consumer uses to detect how many packets it
// was forced to skip when its own channel filled up.
type packetEnvelope struct {
	seq    uint64
	packet *rtp.Packet
}

// consumer is one subscriber's fan-out leg: its own bounded channel fed by
// the Broadcaster's single producer, and the goroutine draining it into the
// subscriber's local track.
type consumer struct {
	localTrackID domain.LocalTrackID
	localTrack   *webrtc.TrackLocalStaticRTP
	ch           chan packetEnvelope
	cancel       context.CancelFunc
}

// Broadcaster is the per-remote-track fan-out engine: one producer
// goroutine reading RTP from the remote track, a bounded channel per
// subscriber with oldest-packet-drop on overflow, and a serializer
// goroutine coalescing keyframe requests toward the publisher. A slow
// subscriber never stalls the producer or its siblings; it observes a
// sequence gap instead and resynchronises via a requested keyframe.
type Broadcaster struct {
	sourceTrackID domain.TrackID
	kind          domain.MediaKind
	mimeType      string
	ssrc          webrtc.SSRC
	capability    CodecCapability
	capacity      int

	publisherPC rtcpWriter

	mu          sync.Mutex
	subscribers map[domain.LocalTrackID]*consumer
	closed      bool

	pliInbox  chan struct{}
	lastPliAt time.Time // owned exclusively by the PLI serializer goroutine

	bufPool *optimize.BytePool
	stats   StatsSink

	cancel context.CancelFunc
	done   chan struct{}

	logger *zap.SugaredLogger
}

// NewBroadcaster starts the producer and PLI serializer goroutines for one
// remote track and returns the running Broadcaster. stats may be nil.
func NewBroadcaster(
	sourceTrackID domain.TrackID,
	remoteTrack *webrtc.TrackRemote,
	receiver *webrtc.RTPReceiver,
	publisherPC rtcpWriter,
	capacity int,
	stats StatsSink,
	logger *zap.SugaredLogger,
) *Broadcaster {
	capability := resolveCapability(remoteTrack, receiver)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		sourceTrackID: sourceTrackID,
		kind:          mediaKind(remoteTrack.Kind()),
		mimeType:      capability.Capability.MimeType,
		ssrc:          remoteTrack.SSRC(),
		capability:    capability,
		capacity:      capacity,
		publisherPC:   publisherPC,
		subscribers:   make(map[domain.LocalTrackID]*consumer),
		pliInbox:      make(chan struct{}, pliInboxSize),
		bufPool:       optimize.NewBytePool(1500), // MTU-sized read buffer
		stats:         stats,
		cancel:        cancel,
		done:          make(chan struct{}),
		logger:        logger,
	}

	go b.runProducer(ctx, remoteTrack)
	if b.kind == domain.MediaKindVideo {
		go b.runPLISerializer(ctx)
	}
	return b
}

func resolveCapability(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) CodecCapability {
	if receiver != nil {
		if codecs := receiver.GetParameters().Codecs; len(codecs) > 0 {
			return CodecCapability{Kind: remoteTrack.Kind(), Capability: codecs[0].RTPCodecCapability}
		}
	}
	return defaultCapability(remoteTrack.Kind())
}

// Kind, MimeType, SSRC, SourceTrackID, and Capability are immutable over
// the Broadcaster's lifetime.
func (b *Broadcaster) Kind() domain.MediaKind        { return b.kind }
func (b *Broadcaster) MimeType() string              { return b.mimeType }
func (b *Broadcaster) SSRC() webrtc.SSRC             { return b.ssrc }
func (b *Broadcaster) SourceTrackID() domain.TrackID { return b.sourceTrackID }
func (b *Broadcaster) Capability() CodecCapability   { return b.capability }

// SubscriberCount reports the current fan-out width.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// AddSubscriber attaches a new local track to this Broadcaster's fan-out
// and kicks off the codec-warmup keyframe burst.
func (b *Broadcaster) AddSubscriber(localTrackID domain.LocalTrackID, localTrack *webrtc.TrackLocalStaticRTP) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{
		localTrackID: localTrackID,
		localTrack:   localTrack,
		ch:           make(chan packetEnvelope, b.capacity),
		cancel:       cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return
	}
	b.subscribers[localTrackID] = c
	b.mu.Unlock()

	go b.runConsumer(ctx, c)

	if b.kind == domain.MediaKindVideo {
		go b.burstKeyframeRequest()
	}
}

// RemoveSubscriber aborts the consumer task registered under localTrackID,
// if any. Unknown ids are a no-op.
func (b *Broadcaster) RemoveSubscriber(localTrackID domain.LocalTrackID) {
	b.mu.Lock()
	c, ok := b.subscribers[localTrackID]
	if ok {
		delete(b.subscribers, localTrackID)
	}
	b.mu.Unlock()
	if ok {
		c.cancel()
	}
}

// RequestKeyframe enqueues a PLI request signal. Best-effort: if the inbox
// is momentarily full the signal is dropped, since another request is
// already pending serialization.
func (b *Broadcaster) RequestKeyframe() {
	select {
	case b.pliInbox <- struct{}{}:
	default:
	}
}

// burstKeyframeRequest sends several spaced requests so a subscriber
// joining mid-stream gets a keyframe even if the first request races codec
// warmup on the publisher.
func (b *Broadcaster) burstKeyframeRequest() {
	for i := 0; i < pliBurstCount; i++ {
		b.RequestKeyframe()
		if i < pliBurstCount-1 {
			time.Sleep(pliBurstSpacing)
		}
	}
}

// Close aborts the producer, the PLI serializer, and every consumer task.
// There is no graceful drain: packets in flight are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*consumer, 0, len(b.subscribers))
	for _, c := range b.subscribers {
		subs = append(subs, c)
	}
	b.subscribers = make(map[domain.LocalTrackID]*consumer)
	b.mu.Unlock()

	b.cancel()
	for _, c := range subs {
		c.cancel()
	}
}

func (b *Broadcaster) runProducer(ctx context.Context, remoteTrack *webrtc.TrackRemote) {
	defer close(b.done)

	var seq uint64
	var unflushed int
	defer func() {
		if b.stats != nil && unflushed > 0 {
			b.stats.RTPPacketsForwarded(unflushed)
		}
	}()

	buf := b.bufPool.Get()
	defer b.bufPool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := remoteTrack.Read(buf)
		if err != nil {
			if isTerminalIOError(err) {
				return
			}
			if b.logger != nil {
				b.logger.Warnw("broadcaster producer read error", "track_id", b.sourceTrackID, "error", err)
			}
			return
		}

		// Consumers hold the packet by reference while buf is reused for the
		// next read, so the wire bytes must be copied out first.
		raw := make([]byte, n)
		copy(raw, buf[:n])
		packet := &rtp.Packet{}
		if err := packet.Unmarshal(raw); err != nil {
			if b.logger != nil {
				b.logger.Warnw("broadcaster producer unmarshal error", "track_id", b.sourceTrackID, "error", err)
			}
			continue
		}

		seq++
		b.fanOut(seq, packet)

		unflushed++
		if b.stats != nil && unflushed >= statsFlushEvery {
			b.stats.RTPPacketsForwarded(unflushed)
			unflushed = 0
		}
	}
}

// fanOut delivers packet to every subscriber channel without blocking on a
// slow one: a full channel has its oldest entry dropped to make room. The
// consumer side observes the resulting sequence gap and requests a keyframe
// if the gap is large.
func (b *Broadcaster) fanOut(seq uint64, packet *rtp.Packet) {
	b.mu.Lock()
	subs := make([]*consumer, 0, len(b.subscribers))
	for _, c := range b.subscribers {
		subs = append(subs, c)
	}
	b.mu.Unlock()

	env := packetEnvelope{seq: seq, packet: packet}
	for _, c := range subs {
		select {
		case c.ch <- env:
		default:
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- env:
			default:
			}
		}
	}
}

func (b *Broadcaster) runConsumer(ctx context.Context, c *consumer) {
	var lastSeq uint64
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.ch:
			if !ok {
				return
			}

			if !first && env.seq > lastSeq+1 {
				gap := env.seq - lastSeq - 1
				if b.logger != nil {
					b.logger.Warnw("consumer lagged", "track_id", b.sourceTrackID, "local_track_id", c.localTrackID, "lagged", gap)
				}
				if b.stats != nil {
					b.stats.ConsumerLagged(gap)
				}
				if gap > lagKeyframeLimit && b.kind == domain.MediaKindVideo {
					b.RequestKeyframe()
				}
			}
			first = false
			lastSeq = env.seq

			if err := c.localTrack.WriteRTP(env.packet); err != nil {
				if isTerminalIOError(err) {
					return
				}
				if b.logger != nil {
					b.logger.Warnw("consumer write error", "local_track_id", c.localTrackID, "error", err)
				}
				return
			}
		}
	}
}

// runPLISerializer drains the request inbox, enforcing the minimum spacing
// between Picture Loss Indications so a burst of lagging consumers does not
// flood the publisher.
func (b *Broadcaster) runPLISerializer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.pliInbox:
			if Clock().Sub(b.lastPliAt) < pliMinSpacing {
				continue
			}
			pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(b.ssrc), SenderSSRC: 0}
			if err := b.publisherPC.WriteRTCP([]rtcp.Packet{pli}); err != nil {
				if b.logger != nil {
					b.logger.Warnw("failed to write PLI", "track_id", b.sourceTrackID, "error", err)
				}
				continue
			}
			b.lastPliAt = Clock()
			if b.stats != nil {
				b.stats.PLISent()
			}
		}
	}
}

func isTerminalIOError(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) || errors.Is(err, webrtc.ErrConnectionClosed)
}
