package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/types"
)

type Dependencies struct {
	Logger   *slog.Logger
	Addr     string
	Ledger   store.Ledger
	Gate     *service.GateService
	Evidence *evidence.Store
	Clock    clock.Clock

	// Optional surfaces; a nil value disables the matching routes.
	LiveView *service.LiveView
	Hub      *Hub
	Metrics  http.Handler

	// BaseContext outlives single requests; live view runs under it.
	BaseContext context.Context
}

// Server is the operator dashboard API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	ledger     store.Ledger
	gate       *service.GateService
	evidence   *evidence.Store
	clock      clock.Clock
	liveView   *service.LiveView
	hub        *Hub
	baseCtx    context.Context
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		ledger:   d.Ledger,
		gate:     d.Gate,
		evidence: d.Evidence,
		clock:    d.Clock,
		liveView: d.LiveView,
		hub:      d.Hub,
		baseCtx:  d.BaseContext,
	}

	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/inside", s.handleInside)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/force_exit", s.handleForceExit)
	mux.HandleFunc("GET /image/{filename}", s.handleImage)
	mux.HandleFunc("GET /live", s.handleLiveFrame)
	mux.HandleFunc("POST /v1/live/start", s.handleLiveStart)
	mux.HandleFunc("POST /v1/live/stop", s.handleLiveStop)
	if d.Hub != nil {
		mux.HandleFunc("GET /v1/events", d.Hub.ServeWS)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.liveView != nil {
		s.liveView.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := store.HistoryQuery{
		Search:  r.URL.Query().Get("search"),
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}.Normalize()

	page, err := store.ListHistory(r.Context(), s.ledger, q)
	if err != nil {
		s.storeError(w, "history", err)
		return
	}
	respond(w, r, http.StatusOK, historyResponse(page, q.Search, s.clock.Now()))
}

func (s *Server) handleInside(w http.ResponseWriter, r *http.Request) {
	recs, err := store.ListInside(r.Context(), s.ledger, strings.TrimSpace(r.URL.Query().Get("search")))
	if err != nil {
		s.storeError(w, "inside", err)
		return
	}
	respond(w, r, http.StatusOK, types.InsideResponse{
		Records: recordViews(recs, s.clock.Now()),
		Count:   len(recs),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}
	now := s.clock.Now()
	since, ok := periodStart(now, period)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_period", "period must be day, week or month")
		return
	}

	st, err := store.CountStats(r.Context(), s.ledger, since)
	if err != nil {
		s.storeError(w, "stats", err)
		return
	}
	respond(w, r, http.StatusOK, types.StatsResponse{
		Period:   period,
		Since:    since.UTC().Format(time.RFC3339),
		Entries:  st.Entries,
		Exits:    st.Exits,
		Failures: st.Failures,
	})
}

func (s *Server) handleForceExit(w http.ResponseWriter, r *http.Request) {
	var req types.ForceExitRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.RecordID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_record_id", "record_id must be positive")
		return
	}

	ok, err := s.gate.ForceExit(r.Context(), req.RecordID)
	if err != nil {
		s.storeError(w, "force_exit", err)
		return
	}
	if !ok {
		respond(w, r, http.StatusConflict, types.ForceExitResponse{RecordID: req.RecordID, Reason: "not_inside"})
		return
	}
	respond(w, r, http.StatusOK, types.ForceExitResponse{OK: true, RecordID: req.RecordID})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.evidence == nil {
		writeError(w, http.StatusNotFound, "not_found", "image not found")
		return
	}
	ref := r.PathValue("filename")
	data, err := s.evidence.Read(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "image not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=86400")
	if captured, ok := evidence.ParseTime(ref); ok {
		w.Header().Set("Last-Modified", captured.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLiveFrame(w http.ResponseWriter, r *http.Request) {
	if s.liveView == nil {
		writeError(w, http.StatusServiceUnavailable, "live_view_unavailable", "live view is not available in this process")
		return
	}
	data, err := os.ReadFile(s.liveView.Path())
	if err != nil {
		writeError(w, http.StatusNotFound, "no_frame", "no live frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if s.liveView == nil {
		writeError(w, http.StatusServiceUnavailable, "live_view_unavailable", "live view is not available in this process")
		return
	}
	started := s.liveView.Start(s.baseCtx)
	respond(w, r, http.StatusOK, types.LiveViewResponse{OK: started, Running: true})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if s.liveView == nil {
		writeError(w, http.StatusServiceUnavailable, "live_view_unavailable", "live view is not available in this process")
		return
	}
	s.liveView.Stop()
	respond(w, r, http.StatusOK, types.LiveViewResponse{OK: true, Running: false})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrStoreUnavailable) {
		s.logger.Warn("dashboard.store_unavailable", "op", op, "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "ledger is busy, retry shortly")
		return
	}
	s.logger.Error("dashboard.error", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

// periodStart returns the beginning of the day, week (Monday) or month
// containing now, in now's location.
func periodStart(now time.Time, period string) (time.Time, bool) {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch period {
	case "day":
		return day, true
	case "week":
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case "month":
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location()), true
	default:
		return time.Time{}, false
	}
}
