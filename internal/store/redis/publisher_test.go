package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/metrics"
)

type recordedWrite struct {
	assetID string
	payload string
}

type fakeRedis struct {
	mu     sync.Mutex
	fail   bool
	writes []recordedWrite
}

func (f *fakeRedis) write(_ context.Context, assetID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.writes = append(f.writes, recordedWrite{assetID: assetID, payload: string(payload)})
	return nil
}

func (f *fakeRedis) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeRedis) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedWrite(nil), f.writes...)
}

func newTestPublisher(t *testing.T, cfg Config) (*Publisher, *fakeRedis, *fakeClock, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	p := newPublisher(cfg, WithMetrics(m))
	fr := &fakeRedis{}
	p.write = fr.write
	clk := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	p.cb.now = clk.Now
	return p, fr, clk, m
}

func gaugeValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	case out.Counter != nil:
		return out.Counter.GetValue()
	}
	return 0
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "sig:latest:PUMP1", LatestKey("PUMP1"))
	assert.Equal(t, "pub:sig:PUMP1", Channel("PUMP1"))
}

func TestPublish_WritesJSON(t *testing.T) {
	p, fr, _, _ := newTestPublisher(t, Config{})

	require.NoError(t, p.Publish(context.Background(), "A", map[string]any{"direction": "BUY", "confidence": 72.5}))

	writes := fr.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, "A", writes[0].assetID)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(writes[0].payload), &got))
	assert.Equal(t, "BUY", got["direction"])
	assert.Equal(t, 72.5, got["confidence"])
}

func TestPublish_MarshalError(t *testing.T) {
	p, fr, _, _ := newTestPublisher(t, Config{})
	err := p.Publish(context.Background(), "A", make(chan int))
	require.Error(t, err)
	assert.Empty(t, fr.snapshot())
}

func TestPublish_BuffersWhileOpenAndFlushesOnClose(t *testing.T) {
	p, fr, clk, m := newTestPublisher(t, Config{MaxFailures: 2, ResetTimeout: time.Second})
	ctx := context.Background()

	fr.setFail(true)
	assert.Error(t, p.Publish(ctx, "A", 1))
	assert.Error(t, p.Publish(ctx, "A", 2))
	require.Equal(t, StateOpen, p.Breaker().CurrentState())
	assert.Equal(t, 1.0, gaugeValue(t, m.PublishCircuitState))
	assert.Equal(t, 1.0, gaugeValue(t, m.PublishCircuitTrips))

	// Rejected by the open breaker: buffered, not an error.
	require.NoError(t, p.Publish(ctx, "A", 3))
	require.NoError(t, p.Publish(ctx, "B", 4))
	assert.Equal(t, 2, p.PendingCount())

	fr.setFail(false)
	clk.Advance(2 * time.Second)
	require.NoError(t, p.Publish(ctx, "C", 5))
	assert.Equal(t, StateClosed, p.Breaker().CurrentState())

	require.Eventually(t, func() bool { return len(fr.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	writes := fr.snapshot()
	assert.Equal(t, "C", writes[0].assetID)
	assert.Equal(t, recordedWrite{assetID: "A", payload: "3"}, writes[1])
	assert.Equal(t, recordedWrite{assetID: "B", payload: "4"}, writes[2])
	assert.Equal(t, 0, p.PendingCount())
}

func TestPublish_BufferDropsOldest(t *testing.T) {
	p, fr, _, m := newTestPublisher(t, Config{MaxFailures: 1, ResetTimeout: time.Hour, MaxBuffer: 2})
	ctx := context.Background()

	fr.setFail(true)
	assert.Error(t, p.Publish(ctx, "A", 0))
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Publish(ctx, "A", i))
	}
	assert.Equal(t, 2, p.PendingCount())
	assert.Equal(t, 1.0, gaugeValue(t, m.PublishDroppedDecision))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "2", string(p.buffer[0].payload))
	assert.Equal(t, "3", string(p.buffer[1].payload))
}
