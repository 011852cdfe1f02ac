// Package gateway streams engine decisions to WebSocket clients and serves
// the latest decision per asset, missed-envelope backfill and open positions
// over REST.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalengine/internal/metrics"
)

const (
	defaultReplayCap  = 500
	defaultSendBuffer = 256
)

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-asset seq for gap detection
}

// Hub fans decisions out to connected clients. It satisfies the engine's
// publisher port, so it can sit next to (or instead of) the Redis publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string]latestEntry
	seq     int64

	// Per-asset monotonic sequence numbers for gap detection
	assetSeqs map[string]int64

	// Per-asset replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replayCap  int

	prom *metrics.Metrics
	log  *slog.Logger
	now  func() time.Time
}

// Option customises a Hub.
type Option func(*Hub)

// WithReplayCapacity sets how many envelopes are kept per asset for backfill.
func WithReplayCapacity(n int) Option { return func(h *Hub) { h.replayCap = n } }

// WithMetrics exports client counts and drops.
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.prom = m } }

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		latest:     make(map[string]latestEntry),
		assetSeqs:  make(map[string]int64),
		replayBufs: make(map[string]*ReplayBuffer),
		replayCap:  defaultReplayCap,
		log:        slog.Default().With(slog.String("component", "gateway")),
		now:        time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish marshals v and broadcasts it for assetID.
func (h *Hub) Publish(_ context.Context, assetID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway publish %s: marshal: %w", assetID, err)
	}
	h.Broadcast(assetID, data)
	return nil
}

// Broadcast wraps data in an envelope and sends it to every client
// subscribed to assetID. Slow clients lose the envelope rather than
// blocking the caller.
//
//	{"asset_id":"PUMP1","data":{...},"ts":"...","seq":17,"asset_seq":4}
func (h *Hub) Broadcast(assetID string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.assetSeqs[assetID]++
	assetSeq := h.assetSeqs[assetID]
	h.latest[assetID] = latestEntry{Data: data, TS: now, Seq: assetSeq}
	h.seq++
	seq := h.seq
	rb, ok := h.replayBufs[assetID]
	if !ok {
		rb = NewReplayBuffer(h.replayCap)
		h.replayBufs[assetID] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(make([]byte, 0, len(assetID)+len(data)+128), assetID, data, now, seq, assetSeq)
	rb.Push(assetSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(assetID) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			if h.prom != nil {
				h.prom.GatewayDropped.Inc()
			}
		}
	}
}

// appendEnvelope hand-builds the envelope; data is already JSON.
func appendEnvelope(buf []byte, assetID string, data []byte, ts time.Time, seq, assetSeq int64) []byte {
	id, _ := json.Marshal(assetID)
	buf = append(buf, `{"asset_id":`...)
	buf = append(buf, id...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"asset_seq":`...)
	buf = strconv.AppendInt(buf, assetSeq, 10)
	buf = append(buf, '}')
	return buf
}

// Attach registers an upgraded connection and starts its pumps. Latest
// decisions newer than since are sent first; a zero since sends all.
func (h *Hub) Attach(conn *websocket.Conn, since time.Time) *Client {
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.GatewayClients.Set(float64(count))
	}
	h.log.Info("ws client connected", slog.Int("clients", count))

	c.sendInitialState(since)
	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.GatewayClients.Set(float64(count))
	}
	h.log.Info("ws client disconnected", slog.Int("clients", count))
}

// Latest returns the most recent decision per asset.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Missed returns buffered envelopes for assetID with asset_seq in [from, to].
func (h *Hub) Missed(assetID string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[assetID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// AssetSeq returns the current sequence number for an asset.
func (h *Hub) AssetSeq(assetID string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.assetSeqs[assetID]
}

// Assets lists every asset a decision was broadcast for.
func (h *Hub) Assets() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.latest))
	for k := range h.latest {
		out = append(out, k)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
