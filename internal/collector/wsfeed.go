package collector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

// FeedConfig configures a WSFeed.
type FeedConfig struct {
	// URL of the observation WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// TrackOnFirstSight adds unseen assets to the collector's tracked set.
	TrackOnFirstSight bool
}

func (c *FeedConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSFeed reads JSON observation records from a WebSocket and pushes them
// into a Collector. Each message is one model.ObservationRecord carrying
// asset_id:
//
//	{"asset_id":"PUMP1","timestamp":"2024-03-01T12:00:00Z","price":0.0012,"volume":530,"buy_count":14,"sell_count":3}
type WSFeed struct {
	cfg  FeedConfig
	col  *Collector
	prom *metrics.Metrics
	log  *slog.Logger

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// NewWSFeed creates a feed. Returns an error if the URL is unparseable.
func NewWSFeed(cfg FeedConfig, col *Collector, m *metrics.Metrics) (*WSFeed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed url must use ws or wss")
	}
	return &WSFeed{
		cfg:  cfg,
		col:  col,
		prom: m,
		log:  slog.Default().With(slog.String("component", "wsfeed")),
	}, nil
}

// Run connects and streams observations until ctx is cancelled,
// reconnecting with exponential backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := f.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn("disconnected, reconnecting", slog.Any("error", err), slog.Duration("delay", delay))
		if f.prom != nil {
			f.prom.FeedReconnects.Inc()
		}
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or cancel.
// A nil error means ctx was cancelled.
func (f *WSFeed) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()

	f.log.Info("connected", slog.String("url", f.cfg.URL))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		f.handle(ctx, raw)
	}
}

func (f *WSFeed) handle(ctx context.Context, raw []byte) {
	var rec model.ObservationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		f.log.Warn("parse error", slog.Any("error", err))
		return
	}
	if rec.AssetID == "" {
		f.log.Warn("skipping record with empty asset_id")
		return
	}
	obs, err := rec.Observation("")
	if err != nil {
		f.log.Warn("bad record", slog.String("asset", rec.AssetID), slog.Any("error", err))
		return
	}
	if f.cfg.TrackOnFirstSight {
		f.col.Track(obs.AssetID)
	}
	// Rejections are already logged and counted by the store path.
	_, _ = f.col.Ingest(ctx, obs)
}
