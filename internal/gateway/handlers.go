package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"signalengine/internal/risk"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PositionLister supplies the position view served on /api/positions.
type PositionLister interface {
	Snapshots() []risk.Snapshot
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the gateway routes on mux. positions may be nil.
//
//	GET /ws?last_ts=<RFC3339Nano>                       decision stream
//	GET /api/decisions/latest                           latest decision per asset
//	GET /api/decisions/missed?asset=X&from=N&to=M       envelope backfill
//	GET /api/positions                                  position book
func RegisterRoutes(mux *http.ServeMux, hub *Hub, positions PositionLister) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if v := r.URL.Query().Get("last_ts"); v != "" {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				since = t
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", slog.Any("error", err))
			return
		}
		hub.Attach(conn, since)
	})

	mux.HandleFunc("/api/decisions/latest", func(w http.ResponseWriter, r *http.Request) {
		if asset := r.URL.Query().Get("asset"); asset != "" {
			d, ok := hub.Latest()[asset]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no decision for " + asset})
				return
			}
			writeJSON(w, http.StatusOK, d)
			return
		}
		writeJSON(w, http.StatusOK, hub.Latest())
	})

	mux.HandleFunc("/api/decisions/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		asset := q.Get("asset")
		from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
		to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
		if asset == "" || errFrom != nil || errTo != nil || from > to {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "asset, from and to are required, from <= to"})
			return
		}
		envs := hub.Missed(asset, from, to)
		out := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"asset_id":    asset,
			"current_seq": hub.AssetSeq(asset),
			"envelopes":   out,
		})
	})

	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		if positions == nil {
			writeJSON(w, http.StatusOK, []risk.Snapshot{})
			return
		}
		snaps := positions.Snapshots()
		if snaps == nil {
			snaps = []risk.Snapshot{}
		}
		writeJSON(w, http.StatusOK, snaps)
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": hub.ClientCount(),
			"assets":  len(hub.Assets()),
		})
	})
}

// Serve runs the gateway HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, hub *Hub, positions PositionLister) error {
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, positions)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		hub.log.Info("gateway listening", slog.String("addr", addr))
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
