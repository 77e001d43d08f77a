// Package api serves primd's control API over a Unix socket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/dispatch"
	"github.com/sekia-ai/primbus/internal/metrics"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 64 << 10
)

// Robots is the robot registry view the API needs.
type Robots interface {
	Robots() []protocol.RobotInfo
	Count() int
}

// Dispatcher publishes primitives.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg primitive.Message) (dispatch.Result, error)
	Dispatched() int64
	Types() []string
}

// History reads back journaled primitives.
type History interface {
	Recent(ctx context.Context, n int) ([]protocol.HistoryEntry, error)
}

// Behaviors is the behavior engine view the API needs.
type Behaviors interface {
	Behaviors() []protocol.BehaviorInfo
	Count() int
	ReloadAll() error
}

// Server serves the primd control API.
type Server struct {
	socketPath string
	robots     Robots
	dispatcher Dispatcher
	history    History
	startedAt  time.Time
	behaviors  Behaviors
	reload     func() error
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates an API server. history may be nil when the journal is disabled.
func New(socketPath string, robots Robots, d Dispatcher, history History, startedAt time.Time, logger zerolog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		robots:     robots,
		dispatcher: d,
		history:    history,
		startedAt:  startedAt,
		logger:     logger.With().Str("component", "api").Logger(),
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// SetReloader enables POST /api/v1/config/reload. Call before Start.
func (s *Server) SetReloader(fn func() error) { s.reload = fn }

// SetBehaviors enables the behavior routes. Call before Start.
func (s *Server) SetBehaviors(b Behaviors) { s.behaviors = b }

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/robots", s.handleRobots)
	mux.HandleFunc("GET /api/v1/primitives/types", s.handleTypes)
	mux.HandleFunc("POST /api/v1/primitives", s.handleDispatch)
	mux.HandleFunc("GET /api/v1/primitives/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/behaviors", s.handleBehaviors)
	mux.HandleFunc("POST /api/v1/behaviors/reload", s.handleBehaviorsReload)
	mux.HandleFunc("POST /api/v1/config/reload", s.handleReload)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start begins listening on the Unix socket. Blocks until Shutdown.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	os.Chmod(s.socketPath, 0600)

	s.logger.Info().Str("socket", s.socketPath).Msg("API server listening")
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	behaviorCount := 0
	if s.behaviors != nil {
		behaviorCount = s.behaviors.Count()
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:         "ok",
		Uptime:         time.Since(s.startedAt).Truncate(time.Second).String(),
		NATSRunning:    true,
		StartedAt:      s.startedAt,
		RobotCount:     s.robots.Count(),
		PrimitiveTypes: len(s.dispatcher.Types()),
		Dispatched:     s.dispatcher.Dispatched(),
		BehaviorCount:  behaviorCount,
	})
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.RobotsResponse{Robots: s.robots.Robots()})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.PrimitiveTypesResponse{Types: s.dispatcher.Types()})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var msg primitive.Message
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorKindBadRequest, "invalid primitive message: "+err.Error())
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), msg)
	if err != nil {
		var pubErr *dispatch.PublishError
		switch {
		case errors.As(err, &pubErr):
			s.logger.Error().Err(err).Msg("dispatch failed")
			writeError(w, http.StatusBadGateway, protocol.ErrorKindPublish, err.Error())
		case errors.Is(err, primitive.ErrUnknownPrimitive):
			writeError(w, http.StatusNotFound, protocol.ErrorKind(err), err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, protocol.ErrorKind(err), err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, protocol.DispatchResponse{
		ID:      res.ID,
		Subject: res.Subject,
		Name:    res.Name,
		RobotID: res.RobotID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorKindUnavailable, "primitive journal not enabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, protocol.ErrorKindBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("read journal")
		writeError(w, http.StatusInternalServerError, protocol.ErrorKindUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.HistoryResponse{Entries: entries})
}

func (s *Server) handleBehaviors(w http.ResponseWriter, r *http.Request) {
	resp := protocol.BehaviorsResponse{Behaviors: []protocol.BehaviorInfo{}}
	if s.behaviors != nil {
		resp.Behaviors = s.behaviors.Behaviors()
		slices.SortFunc(resp.Behaviors, func(a, b protocol.BehaviorInfo) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBehaviorsReload(w http.ResponseWriter, r *http.Request) {
	if s.behaviors == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorKindUnavailable, "behavior engine not enabled")
		return
	}
	if err := s.behaviors.ReloadAll(); err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrorKindReload, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.ReloadResponse{Status: "reloaded"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorKindUnavailable, "config reload not supported")
		return
	}
	if err := s.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrorKindReload, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.ReloadResponse{Status: "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg, Kind: kind})
}
