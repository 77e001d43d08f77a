// Package web serves primd's browser dashboard: system status, registered
// robots, loaded behaviors, and a live feed of dispatched primitives.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

//go:embed static templates
var content embed.FS

const feedSize = 50

// Config holds web dashboard settings passed to New.
type Config struct {
	Listen   string
	Username string // HTTP Basic Auth username (empty = no auth).
	Password string // HTTP Basic Auth password (empty = no auth).
}

// Robots is the robot registry view the dashboard renders.
type Robots interface {
	Robots() []protocol.RobotInfo
	Count() int
}

// Behaviors is the behavior engine view the dashboard renders and reloads.
type Behaviors interface {
	Behaviors() []protocol.BehaviorInfo
	Count() int
	ReloadAll() error
}

// Server serves the web dashboard on a TCP port.
type Server struct {
	listen     string
	robots     Robots
	behaviors  Behaviors
	nc         *nats.Conn
	sub        *nats.Subscription
	startedAt  time.Time
	httpServer *http.Server
	logger     zerolog.Logger
	templates  *template.Template
	feed       *Feed
	username   string
	password   string
}

// New creates a web dashboard server. behaviors may be nil when the engine
// is disabled.
func New(cfg Config, robots Robots, behaviors Behaviors, nc *nats.Conn, startedAt time.Time, logger zerolog.Logger) *Server {
	s := &Server{
		listen:    cfg.Listen,
		robots:    robots,
		behaviors: behaviors,
		nc:        nc,
		startedAt: startedAt,
		logger:    logger.With().Str("component", "web").Logger(),
		feed:      NewFeed(feedSize),
		username:  cfg.Username,
		password:  cfg.Password,
	}

	funcMap := template.FuncMap{
		"join": strings.Join,
		"floats": func(v []float64) string {
			parts := make([]string, len(v))
			for i, f := range v {
				parts[i] = fmt.Sprintf("%g", f)
			}
			return strings.Join(parts, ", ")
		},
		"bools": func(v []bool) string {
			parts := make([]string, len(v))
			for i, b := range v {
				parts[i] = fmt.Sprint(b)
			}
			return strings.Join(parts, ", ")
		},
	}

	tmplFS, _ := fs.Sub(content, "templates")
	s.templates = template.Must(
		template.New("").Funcs(funcMap).ParseFS(tmplFS, "*.html", "partials/*.html"),
	)

	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /web/static/", http.StripPrefix("/web/static/",
		http.FileServer(http.FS(staticFS))))

	mux.HandleFunc("GET /web", s.handleDashboard)
	mux.HandleFunc("GET /web/partials/status", s.handlePartialStatus)
	mux.HandleFunc("GET /web/partials/robots", s.handlePartialRobots)
	mux.HandleFunc("GET /web/partials/behaviors", s.handlePartialBehaviors)
	mux.HandleFunc("POST /web/behaviors/reload", s.handleBehaviorsReload)
	mux.HandleFunc("GET /web/primitives/stream", s.handlePrimitiveStream)

	s.httpServer = &http.Server{
		Handler:           s.securityMiddleware(csrfMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the dashboard routes wrapped in the security middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// securityMiddleware sets security headers and enforces optional Basic Auth.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	authEnabled := s.username != "" && s.password != ""
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		if authEnabled {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				h.Set("WWW-Authenticate", `Basic realm="primbus"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Start subscribes to dispatched primitives and serves on TCP. Blocks until
// Shutdown or error.
func (s *Server) Start() error {
	if s.nc != nil {
		sub, err := s.nc.Subscribe(protocol.SubjectPrimitivesAll, s.handlePrimitive)
		if err != nil {
			return fmt.Errorf("subscribe primitives: %w", err)
		}
		s.sub = sub
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.logger.Info().Str("listen", s.listen).Msg("web UI listening")
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return s.httpServer.Shutdown(ctx)
}

// handlePrimitive adds a dispatched primitive to the feed. Records that do not
// parse are still shown, flagged as unreadable.
func (s *Server) handlePrimitive(msg *nats.Msg) {
	row := PrimitiveRow{
		Time:    time.Now().Format("15:04:05.000"),
		Subject: msg.Subject,
	}
	if msg.Header != nil {
		row.ID = msg.Header.Get(protocol.HeaderMsgID)
	}
	var m primitive.Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		row.Invalid = true
	} else {
		row.Message = m
	}
	s.feed.Publish(row)
}
