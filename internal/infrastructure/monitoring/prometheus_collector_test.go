package monitoring

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// promauto registers on the default registry, so the whole package shares
// one collector instance across tests.
var (
	testCollectorOnce sync.Once
	testCollector     *Collector
)

func getCollector() *Collector {
	testCollectorOnce.Do(func() {
		testCollector = NewCollector()
	})
	return testCollector
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	assert.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	assert.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollector_GaugesTrackCounts(t *testing.T) {
	c := getCollector()

	c.PublisherCountChanged(1)
	c.PublisherCountChanged(1)
	c.PublisherCountChanged(-1)
	assert.Equal(t, float64(1), gaugeValue(t, c.publishersActive))

	c.SubscriberCountChanged(1)
	assert.Equal(t, float64(1), gaugeValue(t, c.subscribersActive))
}

func TestCollector_HotPathCountersFlushThroughBatcher(t *testing.T) {
	c := getCollector()

	c.RTPPacketsForwarded(100)
	c.PLISent()
	c.ConsumerLagged(42)

	assert.NoError(t, c.batcher.Flush(context.Background()))

	assert.GreaterOrEqual(t, counterValue(t, c.rtpPacketsForwarded), float64(100))
	assert.GreaterOrEqual(t, counterValue(t, c.pliSentTotal), float64(1))
	assert.GreaterOrEqual(t, counterValue(t, c.consumerLagEvents), float64(1))
	assert.GreaterOrEqual(t, counterValue(t, c.consumerLagPackets), float64(42))
}

func TestCollector_WebSocketSessionGauge(t *testing.T) {
	c := getCollector()

	c.WebSocketSessionOpened("player")
	c.WebSocketSessionOpened("player")
	c.WebSocketSessionClosed("player")

	g, err := c.wsSessionsActive.GetMetricWithLabelValues("player")
	assert.NoError(t, err)
	assert.Equal(t, float64(1), gaugeValue(t, g))
}
