package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
	"signalengine/internal/series"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memJournal struct {
	mu   sync.Mutex
	obs  []model.Observation
	fail bool
}

func (j *memJournal) Append(_ context.Context, o model.Observation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	j.obs = append(j.obs, o)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.obs)
}

// clockSource returns observations whose timestamps advance by step per fetch.
type clockSource struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	price map[string]float64
	err   map[string]error
}

func (s *clockSource) Fetch(_ context.Context, assetID string) (model.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err[assetID]; err != nil {
		return model.Observation{}, err
	}
	s.now = s.now.Add(s.step)
	return model.Observation{AssetID: assetID, Price: s.price[assetID], Volume: 1, ObservedAt: s.now}, nil
}

func newStore() *series.Store {
	return series.NewStore(series.Config{Capacity: 10, Interval: 15 * time.Second})
}

func TestTrackUntrack(t *testing.T) {
	st := newStore()
	c := New(nil, st, Config{})

	assert.True(t, c.Track("B"))
	assert.True(t, c.Track("A"))
	assert.False(t, c.Track("A"))
	assert.Equal(t, []string{"A", "B"}, c.Tracked())

	_, err := c.Ingest(context.Background(), model.Observation{AssetID: "A", Price: 1, ObservedAt: t0})
	require.NoError(t, err)
	require.Equal(t, 1, st.Len("A"))

	c.Untrack("A", true)
	assert.Equal(t, []string{"B"}, c.Tracked())
	assert.Equal(t, 0, st.Len("A"))
}

func TestCollectOnce_OutcomesAndJournal(t *testing.T) {
	st := newStore()
	j := &memJournal{}
	src := &clockSource{
		now:   t0,
		step:  20 * time.Second,
		price: map[string]float64{"A": 1.5, "Z": 0},
		err:   map[string]error{"E": errors.New("tracker down")},
	}
	c := New(src, st, Config{FetchTimeout: time.Second}, WithJournal(j))
	c.Track("A")
	c.Track("E")
	c.Track("Z") // zero price is rejected

	sw := c.CollectOnce(context.Background())
	assert.Equal(t, Sweep{Recorded: 1, Rejected: 1, Failed: 1}, sw)
	assert.Equal(t, 1, st.Len("A"))
	assert.Equal(t, 0, st.Len("Z"))
	assert.Equal(t, 1, j.len(), "only recorded observations are journaled")
}

func TestCollectOnce_RateLimitedNotJournaled(t *testing.T) {
	st := newStore()
	j := &memJournal{}
	src := &clockSource{now: t0, step: 5 * time.Second, price: map[string]float64{"A": 2}}
	c := New(src, st, Config{}, WithJournal(j))
	c.Track("A")

	assert.Equal(t, Sweep{Recorded: 1}, c.CollectOnce(context.Background()))
	assert.Equal(t, Sweep{RateLimited: 1}, c.CollectOnce(context.Background()))
	assert.Equal(t, 1, st.Len("A"))
	assert.Equal(t, 1, j.len())
}

func TestIngest_JournalFailureKeepsOutcome(t *testing.T) {
	st := newStore()
	c := New(nil, st, Config{}, WithJournal(&memJournal{fail: true}))

	out, err := c.Ingest(context.Background(), model.Observation{AssetID: "A", Price: 1, ObservedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, series.OutcomeRecorded, out)
	assert.Equal(t, 1, st.Len("A"))
}

func TestCollectOnce_FetchTimeout(t *testing.T) {
	st := newStore()
	src := FuncSource(func(ctx context.Context, assetID string) (model.Observation, error) {
		<-ctx.Done()
		return model.Observation{}, ctx.Err()
	})
	c := New(src, st, Config{FetchTimeout: 10 * time.Millisecond})
	c.Track("SLOW")

	start := time.Now()
	sw := c.CollectOnce(context.Background())
	assert.Equal(t, 1, sw.Failed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCollectOnce_FetchesConcurrentlyOutsideLocks(t *testing.T) {
	st := newStore()
	var inFlight, peak int32
	src := FuncSource(func(ctx context.Context, assetID string) (model.Observation, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		// A reader must never be blocked by an in-flight fetch.
		_ = st.Snapshot(assetID)
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return model.Observation{AssetID: assetID, Price: 1, ObservedAt: t0}, nil
	})
	c := New(src, st, Config{Concurrency: 4})
	for _, id := range []string{"A", "B", "C", "D"} {
		c.Track(id)
	}

	sw := c.CollectOnce(context.Background())
	assert.Equal(t, 4, sw.Recorded)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newStore()
	src := &clockSource{now: t0, step: 15 * time.Second, price: map[string]float64{"A": 1}}
	c := New(src, st, Config{Interval: 5 * time.Millisecond})
	c.Track("A")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return st.Len("A") >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NoSource(t *testing.T) {
	c := New(nil, newStore(), Config{})
	assert.Error(t, c.Run(context.Background()))
}

func TestWSFeed_StreamsRecords(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msgs := []string{
			`{"asset_id":"PUMP1","timestamp":"2024-03-01T12:00:00Z","price":0.0012,"volume":530,"buy_count":14,"sell_count":3}`,
			`not json`,
			`{"timestamp":"2024-03-01T12:00:15Z","price":1}`,
			`{"asset_id":"PUMP1","timestamp":"2024-03-01T12:00:15Z","price":0.0013,"volume":10,"buy_count":1,"sell_count":0}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	st := newStore()
	c := New(nil, st, Config{})
	feed, err := NewWSFeed(FeedConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), TrackOnFirstSight: true}, c, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return st.Len("PUMP1") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"PUMP1"}, c.Tracked())

	snap := st.Snapshot("PUMP1")
	assert.Equal(t, int64(14), snap[0].BuyCount)
	assert.Equal(t, 0.0013, snap[1].Price)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestWSFeed_ReconnectsWithBackoff(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(nil, newStore(), Config{})
	feed, err := NewWSFeed(FeedConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 10 * time.Millisecond,
	}, c, nil)
	require.NoError(t, err)

	var reconnects int32
	feed.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&reconnects), int32(2))
}

func TestNewWSFeed_RejectsHTTP(t *testing.T) {
	_, err := NewWSFeed(FeedConfig{URL: "http://example.com"}, New(nil, newStore(), Config{}), nil)
	assert.Error(t, err)
}
