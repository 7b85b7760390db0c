// Package monitoring exposes Prometheus metrics and liveness checks for
// the SFU. Hot-path counters are debounced through a batcher so RTP
// forwarding never blocks on metrics I/O.
package monitoring

import (
	"context"
	"time"

	"streamrelay/pkg/batch"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every Prometheus series the SFU publishes. It satisfies
// the forwarding core's stats-sink contract, so broadcasters report into
// it directly.
type Collector struct {
	publishersActive  prometheus.Gauge
	subscribersActive prometheus.Gauge

	rtpPacketsForwarded prometheus.Counter
	pliSentTotal        prometheus.Counter
	consumerLagEvents   prometheus.Counter
	consumerLagPackets  prometheus.Counter

	sdpExchangeDuration prometheus.Histogram
	wsSessionsActive    *prometheus.GaugeVec

	batcher *batch.Batcher[counterAdd]
}

// counterAdd is one deferred counter increment.
type counterAdd struct {
	counter prometheus.Counter
	delta   float64
}

// applyCounterAdds is the batcher's flush function: it lands every
// accumulated increment on its counter.
func applyCounterAdds(ctx context.Context, adds []counterAdd) error {
	for _, add := range adds {
		add.counter.Add(add.delta)
	}
	return nil
}

// NewCollector registers the SFU metric set on the default registry and
// starts the counter batcher.
func NewCollector() *Collector {
	return &Collector{
		publishersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_publishers_active",
			Help: "Number of live publisher sessions",
		}),
		subscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_subscribers_active",
			Help: "Number of live subscriber sessions",
		}),
		rtpPacketsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_rtp_packets_forwarded_total",
			Help: "RTP packets read from publishers and fanned out",
		}),
		pliSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_pli_sent_total",
			Help: "Picture Loss Indications written to publisher connections",
		}),
		consumerLagEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_consumer_lag_events_total",
			Help: "Times a subscriber consumer observed a sequence gap",
		}),
		consumerLagPackets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sfu_consumer_lag_packets_total",
			Help: "Total packets skipped by lagging subscriber consumers",
		}),
		sdpExchangeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sfu_sdp_exchange_duration_seconds",
			Help:    "Duration of offer/answer exchanges",
			Buckets: prometheus.DefBuckets,
		}),
		wsSessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfu_websocket_sessions_active",
			Help: "Open signaling WebSocket sessions by role",
		}, []string{"role"}),
		batcher: batch.New(256, 5*time.Second, applyCounterAdds),
	}
}

// RTPPacketsForwarded, PLISent, and ConsumerLagged form the stats-sink
// contract called from the forwarding hot path; each enqueues a batched
// increment rather than touching the counter inline.
func (c *Collector) RTPPacketsForwarded(n int) {
	c.batcher.Add(counterAdd{counter: c.rtpPacketsForwarded, delta: float64(n)})
}

func (c *Collector) PLISent() {
	c.batcher.Add(counterAdd{counter: c.pliSentTotal, delta: 1})
}

func (c *Collector) ConsumerLagged(gap uint64) {
	c.batcher.Add(counterAdd{counter: c.consumerLagEvents, delta: 1})
	c.batcher.Add(counterAdd{counter: c.consumerLagPackets, delta: float64(gap)})
}

// PublisherCountChanged and SubscriberCountChanged track admission and
// removal; gauges are cheap enough to update inline.
func (c *Collector) PublisherCountChanged(delta int) {
	c.publishersActive.Add(float64(delta))
}

func (c *Collector) SubscriberCountChanged(delta int) {
	c.subscribersActive.Add(float64(delta))
}

// ObserveSDPExchange records one offer/answer round trip.
func (c *Collector) ObserveSDPExchange(d time.Duration) {
	c.sdpExchangeDuration.Observe(d.Seconds())
}

// WebSocketSessionOpened and WebSocketSessionClosed track signaling
// sockets by role ("grabber" or "player").
func (c *Collector) WebSocketSessionOpened(role string) {
	c.wsSessionsActive.WithLabelValues(role).Inc()
}

func (c *Collector) WebSocketSessionClosed(role string) {
	c.wsSessionsActive.WithLabelValues(role).Dec()
}

// Close flushes and stops the counter batcher.
func (c *Collector) Close() {
	c.batcher.Stop()
}
