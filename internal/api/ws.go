package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"screener_go/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type rowsMessage struct {
	Type    string                `json:"type"`
	Version uint64                `json:"version"`
	Spec    domain.FilterSortSpec `json:"spec"`
	Rows    []domain.Ticker       `json:"rows"`
}

// handleRows pushes the current projection on connect, then again whenever
// the store or the view spec changed, at most once per push interval.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendErrorResponse(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WS upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	id, changes := s.store.Watch()
	defer s.store.Unwatch(id)

	closed := make(chan struct{})
	go readPump(conn, closed)

	push := time.NewTicker(s.pushInterval)
	defer push.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var lastSpec domain.FilterSortSpec
	pending := true
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-changes:
			pending = true
		case <-push.C:
			spec := s.view.Spec()
			if !pending && spec == lastSpec {
				continue
			}
			pending = false
			lastSpec = spec

			msg := rowsMessage{Type: "rows", Version: s.store.Version(), Spec: spec, Rows: s.store.Project(spec)}
			if limit > 0 && len(msg.Rows) > limit {
				msg.Rows = msg.Rows[:limit]
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("WS push failed", slog.Any("error", err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and signals when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
