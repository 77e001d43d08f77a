package web

import (
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/natsserver"
	"github.com/sekia-ai/primbus/internal/registry"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

type fakeBehaviors struct {
	reloads int
}

func (f *fakeBehaviors) Behaviors() []protocol.BehaviorInfo {
	return []protocol.BehaviorInfo{{Name: "return-home", Patterns: []string{"primbus.heartbeat.*"}, Handlers: 1}}
}
func (f *fakeBehaviors) Count() int { return 1 }
func (f *fakeBehaviors) ReloadAll() error {
	f.reloads++
	return nil
}

func setupTest(t *testing.T, cfg Config, b Behaviors) (*Server, *nats.Conn) {
	t.Helper()

	srv, err := natsserver.New(natsserver.Config{StoreDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Shutdown)
	nc := srv.Conn()

	reg, err := registry.New(nc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.Close)

	return New(cfg, reg, b, nc, time.Now(), zerolog.Nop()), nc
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestDashboardRenders(t *testing.T) {
	srv, _ := setupTest(t, Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, html := get(t, ts, "/web")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	for _, want := range []string{"primbus Dashboard", "System Status", "Registered Robots", "Behaviors", "Live Primitives", `name="csrf-token"`} {
		if !strings.Contains(html, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestPartials(t *testing.T) {
	tests := []struct {
		path      string
		behaviors Behaviors
		want      string
	}{
		{"/web/partials/status", nil, "System Status"},
		{"/web/partials/robots", nil, "No robots registered"},
		{"/web/partials/behaviors", nil, "Behavior engine disabled"},
		{"/web/partials/behaviors", &fakeBehaviors{}, "return-home"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			srv, _ := setupTest(t, Config{}, tt.behaviors)
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()

			code, body := get(t, ts, tt.path)
			if code != http.StatusOK {
				t.Fatalf("expected 200, got %d", code)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("expected %q in %s", tt.want, body)
			}
		})
	}
}

func TestStaticAssets(t *testing.T) {
	srv, _ := setupTest(t, Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/web/static/style.css", "/web/static/dashboard.js"} {
		if code, _ := get(t, ts, path); code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, code)
		}
	}
}

func TestLiveFeedRecordsPrimitives(t *testing.T) {
	srv, nc := setupTest(t, Config{}, nil)
	sub, err := nc.Subscribe(protocol.SubjectPrimitivesAll, srv.handlePrimitive)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	msg := nats.NewMsg(protocol.SubjectPrimitives(3))
	msg.Header.Set(protocol.HeaderMsgID, "abc")
	msg.Data = []byte(`{"name":"Move","robot_id":3,"parameters":[1,2,0.5],"flags":[true,false]}`)
	nc.PublishMsg(msg)
	nc.Publish(protocol.SubjectPrimitives(4), []byte("garbage"))
	nc.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(srv.feed.Recent()) < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	rows := srv.feed.Recent()
	if len(rows) != 2 {
		t.Fatalf("feed rows = %d", len(rows))
	}
	if rows[0].ID != "abc" || rows[0].Message.Name != "Move" || rows[0].Invalid {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if !rows[1].Invalid {
		t.Errorf("row 1 should be invalid: %+v", rows[1])
	}

	html, err := srv.renderRow(rows[0])
	if err != nil {
		t.Fatalf("renderRow: %v", err)
	}
	if strings.Contains(html, "\n") || !strings.Contains(html, "1, 2, 0.5") || !strings.Contains(html, "true, false") {
		t.Errorf("rendered row = %q", html)
	}
}

func TestFeed(t *testing.T) {
	f := NewFeed(5)

	ch, unsub, err := f.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	f.Publish(PrimitiveRow{ID: "first"})
	select {
	case row := <-ch:
		if row.ID != "first" {
			t.Errorf("unexpected row: %+v", row)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for row")
	}

	for i := 0; i < 10; i++ {
		f.Publish(PrimitiveRow{ID: "flood"})
	}
	recent := f.Recent()
	if len(recent) != 5 {
		t.Errorf("expected 5 recent rows, got %d", len(recent))
	}
}

func TestFeedMinimumSize(t *testing.T) {
	f := NewFeed(0)
	f.Publish(PrimitiveRow{ID: "a"})
	f.Publish(PrimitiveRow{ID: "b"})
	if recent := f.Recent(); len(recent) != 1 || recent[0].ID != "b" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestRenderRowError(t *testing.T) {
	srv, _ := setupTest(t, Config{}, nil)
	srv.templates = template.Must(template.New("").Parse(`{{define "primitive_row"}}{{.Missing}}{{end}}`))

	if html, err := srv.renderRow(PrimitiveRow{ID: "x"}); err == nil {
		t.Fatalf("expected error, got %q", html)
	}
}

func TestFeedClientLimit(t *testing.T) {
	f := NewFeed(5)

	unsubs := make([]func(), 0, maxSSEClients)
	for i := 0; i < maxSSEClients; i++ {
		_, unsub, err := f.Subscribe()
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		unsubs = append(unsubs, unsub)
	}

	if _, _, err := f.Subscribe(); err != ErrTooManyClients {
		t.Fatalf("expected ErrTooManyClients, got %v", err)
	}

	unsubs[0]()
	_, unsub, err := f.Subscribe()
	if err != nil {
		t.Fatalf("subscribe after unsub: %v", err)
	}
	unsub()
	for _, fn := range unsubs[1:] {
		fn()
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := setupTest(t, Config{Username: "admin", Password: "secret"}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/web")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}

	for _, tc := range []struct {
		pass string
		want int
	}{
		{"wrong", http.StatusUnauthorized},
		{"secret", http.StatusOK},
	} {
		req, _ := http.NewRequest("GET", ts.URL+"/web", nil)
		req.SetBasicAuth("admin", tc.pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("password %q: got %d, want %d", tc.pass, resp.StatusCode, tc.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := setupTest(t, Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/web")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	checks := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
	}
	for header, want := range checks {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCSRF(t *testing.T) {
	fb := &fakeBehaviors{}
	srv, _ := setupTest(t, Config{}, fb)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/web")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if len(cookie.Value) != 64 {
		t.Errorf("expected 64-char token, got %d chars", len(cookie.Value))
	}

	req, _ := http.NewRequest("POST", ts.URL+"/web/behaviors/reload", nil)
	req.AddCookie(cookie)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden || fb.reloads != 0 {
		t.Fatalf("POST without token: code %d, reloads %d", resp.StatusCode, fb.reloads)
	}

	req, _ = http.NewRequest("POST", ts.URL+"/web/behaviors/reload", nil)
	req.AddCookie(cookie)
	req.Header.Set(csrfHeader, cookie.Value)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || fb.reloads != 1 {
		t.Fatalf("POST with token: code %d, reloads %d", resp.StatusCode, fb.reloads)
	}
}
