package web

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// DashboardData is the top-level template data for the dashboard page.
type DashboardData struct {
	CSRFToken  string
	Status     StatusData
	Robots     []protocol.RobotInfo
	Behaviors  BehaviorsData
	Primitives []PrimitiveRow
}

// StatusData holds system status for the template.
type StatusData struct {
	Status        string
	Uptime        string
	StartedAt     time.Time
	RobotCount    int
	BehaviorCount int
}

// BehaviorsData is nil-safe template data for the behaviors panel.
type BehaviorsData struct {
	Enabled bool
	List    []protocol.BehaviorInfo
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		CSRFToken:  csrfToken(r),
		Status:     s.buildStatus(),
		Robots:     s.robots.Robots(),
		Behaviors:  s.buildBehaviors(),
		Primitives: s.feed.Recent(),
	}
	s.render(w, "layout", data)
}

func (s *Server) handlePartialStatus(w http.ResponseWriter, r *http.Request) {
	s.render(w, "status", s.buildStatus())
}

func (s *Server) handlePartialRobots(w http.ResponseWriter, r *http.Request) {
	s.render(w, "robots", s.robots.Robots())
}

func (s *Server) handlePartialBehaviors(w http.ResponseWriter, r *http.Request) {
	s.render(w, "behaviors", s.buildBehaviors())
}

func (s *Server) handleBehaviorsReload(w http.ResponseWriter, r *http.Request) {
	if s.behaviors == nil {
		http.Error(w, "behavior engine not enabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.behaviors.ReloadAll(); err != nil {
		s.logger.Error().Err(err).Msg("reload behaviors")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "behaviors", s.buildBehaviors())
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("render")
	}
}

func (s *Server) buildStatus() StatusData {
	behaviorCount := 0
	if s.behaviors != nil {
		behaviorCount = s.behaviors.Count()
	}
	return StatusData{
		Status:        "ok",
		Uptime:        time.Since(s.startedAt).Truncate(time.Second).String(),
		StartedAt:     s.startedAt,
		RobotCount:    s.robots.Count(),
		BehaviorCount: behaviorCount,
	}
}

func (s *Server) buildBehaviors() BehaviorsData {
	if s.behaviors == nil {
		return BehaviorsData{}
	}
	list := s.behaviors.Behaviors()
	slices.SortFunc(list, func(a, b protocol.BehaviorInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return BehaviorsData{Enabled: true, List: list}
}
