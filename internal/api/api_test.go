package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/dispatch"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

type fakeRobots struct{ robots []protocol.RobotInfo }

func (f *fakeRobots) Robots() []protocol.RobotInfo { return f.robots }
func (f *fakeRobots) Count() int                   { return len(f.robots) }

// fakeDispatcher validates against the real default registry and records
// what would have been published.
type fakeDispatcher struct {
	sent       []primitive.Primitive
	publishErr error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg primitive.Message) (dispatch.Result, error) {
	p, err := primitive.Decode(msg)
	if err != nil {
		return dispatch.Result{}, err
	}
	subject := protocol.SubjectPrimitives(p.RobotID())
	if f.publishErr != nil {
		return dispatch.Result{}, &dispatch.PublishError{Subject: subject, Err: f.publishErr}
	}
	f.sent = append(f.sent, p)
	return dispatch.Result{ID: "id-1", Subject: subject, Name: p.Name(), RobotID: p.RobotID()}, nil
}

func (f *fakeDispatcher) Dispatched() int64 { return int64(len(f.sent)) }
func (f *fakeDispatcher) Types() []string   { return primitive.Names() }

type fakeHistory struct {
	entries []protocol.HistoryEntry
	lastN   int
}

func (f *fakeHistory) Recent(_ context.Context, n int) ([]protocol.HistoryEntry, error) {
	f.lastN = n
	if n < len(f.entries) {
		return f.entries[len(f.entries)-n:], nil
	}
	return f.entries, nil
}

func newTestServer(d *fakeDispatcher, h History) *Server {
	robots := &fakeRobots{robots: []protocol.RobotInfo{{Name: "robot-3", RobotID: 3, Status: "running"}}}
	return New("", robots, d, h, time.Now(), zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestStatus(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, nil)
	rec := do(t, s, "GET", "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp protocol.StatusResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ok" || resp.RobotCount != 1 || resp.PrimitiveTypes < 1 {
		t.Fatalf("status = %+v", resp)
	}
}

func TestRobotsAndTypes(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, nil)

	var robots protocol.RobotsResponse
	json.NewDecoder(do(t, s, "GET", "/api/v1/robots", "").Body).Decode(&robots)
	if len(robots.Robots) != 1 || robots.Robots[0].RobotID != 3 {
		t.Fatalf("robots = %+v", robots)
	}

	var types protocol.PrimitiveTypesResponse
	json.NewDecoder(do(t, s, "GET", "/api/v1/primitives/types", "").Body).Decode(&types)
	found := false
	for _, n := range types.Types {
		if n == primitive.MoveName {
			found = true
		}
	}
	if !found {
		t.Fatalf("types = %v, missing Move", types.Types)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		pubErr   error
		wantCode int
		wantKind string
	}{
		{"move", `{"name":"Move","robot_id":3,"parameters":[1.0,2.0,0.5],"flags":[true,false]}`, nil, http.StatusAccepted, ""},
		{"unknown", `{"name":"Teleport","robot_id":1,"parameters":[],"flags":[]}`, nil, http.StatusNotFound, protocol.ErrorKindUnknownPrimitive},
		{"malformed", `{"name":"Move","robot_id":2,"parameters":[1.0],"flags":[]}`, nil, http.StatusUnprocessableEntity, protocol.ErrorKindMalformed},
		{"bad json", `{"name":`, nil, http.StatusBadRequest, protocol.ErrorKindBadRequest},
		{"unknown field", `{"name":"Move","robot":3}`, nil, http.StatusBadRequest, protocol.ErrorKindBadRequest},
		{"publish failure", `{"name":"Move","robot_id":3,"parameters":[1,2,3],"flags":[false,false]}`, errors.New("nats: connection closed"), http.StatusBadGateway, protocol.ErrorKindPublish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{publishErr: tt.pubErr}
			rec := do(t, newTestServer(d, nil), "POST", "/api/v1/primitives", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantKind == "" {
				var resp protocol.DispatchResponse
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Subject != "primbus.primitives.3" || resp.Name != "Move" {
					t.Fatalf("resp = %+v", resp)
				}
				if len(d.sent) != 1 {
					t.Fatalf("sent %d primitives", len(d.sent))
				}
				return
			}
			var resp protocol.ErrorResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q (%s)", resp.Kind, tt.wantKind, resp.Error)
			}
			if len(d.sent) != 0 {
				t.Fatalf("primitive sent despite error")
			}
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := &fakeHistory{entries: []protocol.HistoryEntry{
		{Sequence: 1, Message: primitive.Message{Name: "Move", RobotID: 1}},
		{Sequence: 2, Message: primitive.Message{Name: "Move", RobotID: 2}},
	}}
	s := newTestServer(&fakeDispatcher{}, h)

	rec := do(t, s, "GET", "/api/v1/primitives/history?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp protocol.HistoryResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Sequence != 2 {
		t.Fatalf("entries = %+v", resp.Entries)
	}

	do(t, s, "GET", "/api/v1/primitives/history", "")
	if h.lastN != defaultHistoryLimit {
		t.Errorf("default limit = %d", h.lastN)
	}
	do(t, s, "GET", "/api/v1/primitives/history?limit=100000", "")
	if h.lastN != maxHistoryLimit {
		t.Errorf("clamped limit = %d", h.lastN)
	}

	if rec := do(t, s, "GET", "/api/v1/primitives/history?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d", rec.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	rec := do(t, newTestServer(&fakeDispatcher{}, nil), "GET", "/api/v1/primitives/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(&fakeDispatcher{}, nil), "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestConfigReload(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, nil)
	if rec := do(t, s, "POST", "/api/v1/config/reload", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without reloader: code = %d", rec.Code)
	}

	calls := 0
	s.SetReloader(func() error { calls++; return nil })
	if rec := do(t, s, "POST", "/api/v1/config/reload", ""); rec.Code != http.StatusOK {
		t.Fatalf("reload: code = %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("reloader called %d times", calls)
	}

	s.SetReloader(func() error { return errors.New("bad toml") })
	rec := do(t, s, "POST", "/api/v1/config/reload", "")
	var er protocol.ErrorResponse
	json.NewDecoder(rec.Body).Decode(&er)
	if rec.Code != http.StatusInternalServerError || er.Kind != protocol.ErrorKindReload {
		t.Fatalf("failed reload: code = %d, kind = %q", rec.Code, er.Kind)
	}
}

type fakeBehaviors struct {
	infos     []protocol.BehaviorInfo
	reloads   int
	reloadErr error
}

func (f *fakeBehaviors) Behaviors() []protocol.BehaviorInfo { return f.infos }
func (f *fakeBehaviors) Count() int                         { return len(f.infos) }
func (f *fakeBehaviors) ReloadAll() error {
	f.reloads++
	return f.reloadErr
}

func TestBehaviorsEndpoints(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, nil)

	var empty protocol.BehaviorsResponse
	json.NewDecoder(do(t, s, "GET", "/api/v1/behaviors", "").Body).Decode(&empty)
	if empty.Behaviors == nil || len(empty.Behaviors) != 0 {
		t.Fatalf("disabled engine: %+v", empty)
	}
	if rec := do(t, s, "POST", "/api/v1/behaviors/reload", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("reload without engine: code = %d", rec.Code)
	}

	fb := &fakeBehaviors{infos: []protocol.BehaviorInfo{{Name: "wall"}, {Name: "home"}}}
	s.SetBehaviors(fb)

	var resp protocol.BehaviorsResponse
	json.NewDecoder(do(t, s, "GET", "/api/v1/behaviors", "").Body).Decode(&resp)
	if len(resp.Behaviors) != 2 || resp.Behaviors[0].Name != "home" {
		t.Fatalf("behaviors = %+v, want sorted by name", resp.Behaviors)
	}

	var status protocol.StatusResponse
	json.NewDecoder(do(t, s, "GET", "/api/v1/status", "").Body).Decode(&status)
	if status.BehaviorCount != 2 {
		t.Fatalf("behavior_count = %d", status.BehaviorCount)
	}

	if rec := do(t, s, "POST", "/api/v1/behaviors/reload", ""); rec.Code != http.StatusOK || fb.reloads != 1 {
		t.Fatalf("reload: code = %d, reloads = %d", rec.Code, fb.reloads)
	}
}
