// Package api exposes the screener state over HTTP JSON and a WebSocket row push.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"screener_go/internal/chart"
	"screener_go/internal/domain"
	"screener_go/internal/view"

	"github.com/gorilla/websocket"
)

// TickerSource is the read side of the ticker store.
type TickerSource interface {
	Get(symbol string) (domain.Ticker, bool)
	Project(spec domain.FilterSortSpec) []domain.Ticker
	Watch() (int, <-chan struct{})
	Unwatch(id int)
	Len() int
	Version() uint64
}

// Server serves the screener API.
type Server struct {
	store        TickerSource
	view         *view.State
	pushInterval time.Duration
	stats        func() any

	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer builds the routes. pushInterval bounds the WebSocket push rate.
func NewServer(store TickerSource, v *view.State, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = 250 * time.Millisecond
	}
	s := &Server{
		store:        store,
		view:         v,
		pushInterval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	return s
}

// SetStats adds extra counters to /api/health.
func (s *Server) SetStats(fn func() any) {
	s.stats = fn
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickers", s.handleTickers)
	mux.HandleFunc("GET /api/tickers/{symbol}", s.handleTicker)
	mux.HandleFunc("GET /api/view", s.handleGetView)
	mux.HandleFunc("POST /api/view", s.handlePatchView)
	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("DELETE /api/select", s.handleClearSelect)
	mux.HandleFunc("GET /api/chart", s.handleChart)
	mux.HandleFunc("GET /ws/rows", s.handleRows)
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API listening", "addr", addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		slog.Info("API stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"tickers": s.store.Len(),
		"version": s.store.Version(),
		"segment": s.view.Snapshot().Segment,
	}
	if s.stats != nil {
		resp["sequencer"] = s.stats()
	}
	sendJSONResponse(w, http.StatusOK, resp)
}

// handleTickers starts from the view's spec; query parameters override it
// for this request only.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	spec, limit, err := specFromQuery(s.view.Spec(), r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows := s.store.Project(spec)
	total := len(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	sendJSONResponse(w, http.StatusOK, map[string]any{
		"total":   total,
		"version": s.store.Version(),
		"rows":    rows,
	})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	t, ok := s.store.Get(symbol)
	if !ok {
		sendErrorResponse(w, fmt.Sprintf("No ticker for %s", symbol), http.StatusNotFound)
		return
	}
	sendJSONResponse(w, http.StatusOK, t)
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handlePatchView(w http.ResponseWriter, r *http.Request) {
	var p view.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		sendErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	// A segment switch runs to completion even if the client goes away.
	if err := s.view.Apply(context.WithoutCancel(r.Context()), p); err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sendJSONResponse(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.view.Select(r.Context(), req.Symbol); err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sendJSONResponse(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleClearSelect(w http.ResponseWriter, r *http.Request) {
	s.view.ClearSelection()
	sendJSONResponse(w, http.StatusOK, s.view.Snapshot())
}

type chartResponse struct {
	State     chart.State      `json:"state"`
	Selection *chart.Selection `json:"selection,omitempty"`
	Candles   []domain.Candle  `json:"candles"`
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	ch := s.view.Chart()
	resp := chartResponse{State: ch.State(), Candles: ch.Series()}
	if sel, ok := ch.Selection(); ok {
		resp.Selection = &sel
	}
	if resp.Candles == nil {
		resp.Candles = []domain.Candle{}
	}
	sendJSONResponse(w, http.StatusOK, resp)
}

func specFromQuery(base domain.FilterSortSpec, r *http.Request) (domain.FilterSortSpec, int, error) {
	q := r.URL.Query()
	spec := base

	if q.Has("q") {
		spec.SearchQuery = q.Get("q")
	}
	if v := q.Get("sort"); v != "" {
		f, err := domain.ParseSortField(v)
		if err != nil {
			return spec, 0, err
		}
		spec.SortField = f
	}
	if v := q.Get("dir"); v != "" {
		d, err := domain.ParseSortDirection(v)
		if err != nil {
			return spec, 0, err
		}
		spec.SortDirection = d
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return spec, 0, fmt.Errorf("invalid limit %q", v)
		}
		limit = n
	}
	return spec, limit, nil
}

func sendJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", slog.Any("error", err))
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	sendJSONResponse(w, status, map[string]string{"error": message})
}
