// Package feedsim serves simulated observations over WebSocket, in the
// shape the collector's WSFeed consumes, for running the engine without a
// real price tracker.
//
//	{"asset_id":"SIM1","timestamp":"...","price":0.0012,"volume":530,"buy_count":14,"sell_count":3}
package feedsim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalengine/internal/model"
)

// Config configures a Simulator.
type Config struct {
	Assets     []string
	Interval   time.Duration // time between observations per asset; default 1s
	StartPrice float64       // default 0.001
	Drift      float64       // mean per-step relative change, e.g. 0.002
	Volatility float64       // per-step relative stddev; default 0.01
	Seed       int64         // 0 uses the current time
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.StartPrice <= 0 {
		c.StartPrice = 0.001
	}
	if c.Volatility <= 0 {
		c.Volatility = 0.01
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

type asset struct {
	id        string
	price     float64
	buyCount  int64
	sellCount int64
}

// Simulator random-walks a price per asset and broadcasts one observation
// per asset each interval to every connected client.
type Simulator struct {
	cfg    Config
	rng    *rand.Rand
	assets []*asset

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	latest  map[string]model.ObservationRecord

	log *slog.Logger
	now func() time.Time
}

// New creates a Simulator. At least one asset is required.
func New(cfg Config) (*Simulator, error) {
	if len(cfg.Assets) == 0 {
		return nil, errors.New("feedsim: no assets configured")
	}
	cfg.defaults()
	s := &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		clients: make(map[*websocket.Conn]chan []byte),
		latest:  make(map[string]model.ObservationRecord),
		log:     slog.Default().With(slog.String("component", "feedsim")),
		now:     time.Now,
	}
	for _, id := range cfg.Assets {
		s.assets = append(s.assets, &asset{id: id, price: cfg.StartPrice})
	}
	return s, nil
}

// Step advances every asset by one observation and returns them.
func (s *Simulator) Step() []model.ObservationRecord {
	now := s.now().UTC()
	out := make([]model.ObservationRecord, 0, len(s.assets))
	for _, a := range s.assets {
		change := s.cfg.Drift + s.rng.NormFloat64()*s.cfg.Volatility
		a.price *= 1 + change
		if a.price <= 0 {
			a.price = s.cfg.StartPrice * 0.01
		}

		// Rising prices attract more buyers.
		trades := int64(s.rng.Intn(20) + 1)
		buys := trades / 2
		if change > 0 {
			buys = trades * 3 / 4
		}
		a.buyCount += buys
		a.sellCount += trades - buys

		out = append(out, model.Observation{
			AssetID:    a.id,
			Price:      a.price,
			Volume:     float64(trades) * a.price * 1000,
			BuyCount:   a.buyCount,
			SellCount:  a.sellCount,
			ObservedAt: now,
		}.Record())
	}

	s.mu.Lock()
	for _, rec := range out {
		s.latest[rec.AssetID] = rec
	}
	s.mu.Unlock()
	return out
}

// Run broadcasts a step every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range s.Step() {
				b, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				s.broadcast(b)
			}
		}
	}
}

func (s *Simulator) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()
	return ch
}

func (s *Simulator) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	if ch, ok := s.clients[conn]; ok {
		close(ch)
		delete(s.clients, conn)
	}
	s.mu.Unlock()
}

func (s *Simulator) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

// Clients returns the number of connected clients.
func (s *Simulator) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Handler upgrades to WebSocket and streams observations until the client
// goes away.
func (s *Simulator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("upgrade failed", slog.Any("error", err))
			return
		}
		s.log.Info("client connected", slog.String("remote", r.RemoteAddr))

		ch := s.register(conn)
		defer func() {
			s.unregister(conn)
			conn.Close()
			s.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
		}()

		// Detect client close; the write loop alone would not notice.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// LatestHandler answers GET <prefix><asset> with the asset's most recent
// observation record, for polling collectors.
func (s *Simulator) LatestHandler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, prefix)
		s.mu.RLock()
		rec, ok := s.latest[id]
		s.mu.RUnlock()
		if !ok {
			http.Error(w, "unknown asset", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// ListenAndServe serves /ws, /observations/<asset> and /health on addr and runs the generator
// until ctx is cancelled.
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.Handler())
	mux.HandleFunc("/observations/", s.LatestHandler("/observations/"))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"feedsim"}`))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go s.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", addr), slog.Int("assets", len(s.assets)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
