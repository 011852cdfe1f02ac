package feedsim

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/collector"
	"signalengine/internal/model"
	"signalengine/internal/series"
)

func TestNew_RequiresAssets(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestStep_ProducesValidObservations(t *testing.T) {
	s, err := New(Config{Assets: []string{"A", "B"}, Seed: 7, Volatility: 0.05})
	require.NoError(t, err)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	var lastBuys, lastSells int64
	for i := 0; i < 50; i++ {
		recs := s.Step()
		require.Len(t, recs, 2)
		assert.Equal(t, "A", recs[0].AssetID)
		assert.Equal(t, "B", recs[1].AssetID)

		obs, err := recs[0].Observation("")
		require.NoError(t, err)
		require.NoError(t, obs.Validate())
		assert.True(t, obs.ObservedAt.Equal(t0))
		assert.GreaterOrEqual(t, obs.BuyCount, lastBuys, "counts are cumulative")
		assert.GreaterOrEqual(t, obs.SellCount, lastSells)
		lastBuys, lastSells = obs.BuyCount, obs.SellCount
	}
}

func TestStep_SameSeedSameWalk(t *testing.T) {
	a, _ := New(Config{Assets: []string{"A"}, Seed: 42})
	b, _ := New(Config{Assets: []string{"A"}, Seed: 42})
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Step()[0].Price, b.Step()[0].Price)
	}
}

func TestHandler_StreamsRecords(t *testing.T) {
	s, err := New(Config{Assets: []string{"SIM1"}, Interval: 5 * time.Millisecond, Seed: 1})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var rec model.ObservationRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "SIM1", rec.AssetID)
	assert.Greater(t, rec.Price, 0.0)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSimulatorFeedsCollector(t *testing.T) {
	s, err := New(Config{Assets: []string{"SIM1", "SIM2"}, Interval: 5 * time.Millisecond, Seed: 3})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// A zero store interval is replaced by the default, so use a tiny one.
	store := series.NewStore(series.Config{Capacity: 10, Interval: time.Nanosecond})
	col := collector.New(nil, store, collector.Config{})
	feed, err := collector.NewWSFeed(collector.FeedConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		TrackOnFirstSight: true,
	}, col, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return store.Len("SIM1") >= 2 && store.Len("SIM2") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"SIM1", "SIM2"}, col.Tracked())
}

func TestSimulatorFeedsPollingCollector(t *testing.T) {
	s, err := New(Config{Assets: []string{"SIM1"}, Seed: 5})
	require.NoError(t, err)
	srv := httptest.NewServer(s.LatestHandler("/"))
	defer srv.Close()

	src, err := collector.NewHTTPSource(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "SIM1")
	require.Error(t, err, "nothing simulated yet")

	store := series.NewStore(series.Config{Capacity: 10, Interval: time.Nanosecond})
	col := collector.New(src, store, collector.Config{})
	col.Track("SIM1")

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return at }
		want := s.Step()[0]

		sw := col.CollectOnce(context.Background())
		require.Equal(t, 1, sw.Recorded)
		obs := store.Snapshot("SIM1")
		assert.Equal(t, want.Price, obs[len(obs)-1].Price)
	}
	assert.Equal(t, 3, store.Len("SIM1"))
}
