package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/natsserver"
	"github.com/sekia-ai/primbus/internal/robotagent"
	"github.com/sekia-ai/primbus/internal/secrets"
	"github.com/sekia-ai/primbus/internal/server"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func getJSON(t *testing.T, client *http.Client, path string, v any) {
	t.Helper()
	resp, err := client.Get("http://primd" + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

func TestEndToEnd(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "primd.sock")

	cfg := server.Config{
		Server: server.ServerConfig{Socket: socketPath},
		NATS:   server.NATSConfig{DataDir: filepath.Join(tmpDir, "nats")},
		Journal: server.JournalConfig{
			Enabled:    true,
			MaxMsgs:    100,
			MaxAge:     time.Hour,
			Duplicates: time.Minute,
		},
		Security: server.SecurityConfig{CommandSecret: "shared"},
	}

	d := server.NewDaemon(cfg, zerolog.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("daemon exited: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	// Wait for socket to appear.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	client := unixClient(socketPath)

	var status protocol.StatusResponse
	getJSON(t, client, "/api/v1/status", &status)
	if status.Status != "ok" || !status.NATSRunning {
		t.Fatalf("status = %+v", status)
	}
	if status.RobotCount != 0 {
		t.Fatalf("expected 0 robots, got %d", status.RobotCount)
	}

	var types protocol.PrimitiveTypesResponse
	getJSON(t, client, "/api/v1/primitives/types", &types)
	if len(types.Types) == 0 || types.Types[0] != primitive.MoveName {
		t.Fatalf("types = %v", types.Types)
	}

	// Connect a robot agent that records what it executes.
	executed := make(chan primitive.Primitive, 4)
	ra := robotagent.NewTestAgent(d.NATSClientURL(), d.NATSConnectOpts(), 3, "shared",
		robotagent.ExecutorFunc(func(_ context.Context, p primitive.Primitive) error {
			executed <- p
			return nil
		}), zerolog.Nop())
	agentErr := make(chan error, 1)
	go func() { agentErr <- ra.Run() }()
	select {
	case <-ra.Ready():
	case err := <-agentErr:
		t.Fatalf("agent exited: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not become ready")
	}

	var robots protocol.RobotsResponse
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		getJSON(t, client, "/api/v1/robots", &robots)
		if len(robots.Robots) == 1 && robots.Robots[0].Status == "running" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(robots.Robots) != 1 {
		t.Fatalf("expected 1 robot, got %d", len(robots.Robots))
	}
	if robots.Robots[0].RobotID != 3 || robots.Robots[0].Name != "robot-3" {
		t.Fatalf("robot = %+v", robots.Robots[0])
	}

	// Dispatch a Move through the API.
	body := `{"name":"Move","robot_id":3,"parameters":[1.0,2.0,0.5],"flags":[true,false]}`
	resp, err := client.Post("http://primd/api/v1/primitives", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var dr protocol.DispatchResponse
	json.NewDecoder(resp.Body).Decode(&dr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch status = %d", resp.StatusCode)
	}
	if dr.ID == "" || dr.Subject != protocol.SubjectPrimitives(3) {
		t.Fatalf("dispatch response = %+v", dr)
	}

	select {
	case p := <-executed:
		want := primitive.NewMove(3, primitive.MoveParams{
			Destination:      primitive.Point{X: 1, Y: 2},
			FinalOrientation: 0.5,
			Dribbler:         true,
		})
		if !primitive.Equal(p, want) {
			t.Fatalf("executed %+v, want %+v", primitive.Encode(p), primitive.Encode(want))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("robot did not execute the primitive")
	}

	// Unknown primitives never reach the bus.
	resp, err = client.Post("http://primd/api/v1/primitives", "application/json",
		bytes.NewBufferString(`{"name":"Teleport","robot_id":3,"parameters":[],"flags":[]}`))
	if err != nil {
		t.Fatalf("dispatch unknown: %v", err)
	}
	var er protocol.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&er)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || er.Kind != protocol.ErrorKindUnknownPrimitive {
		t.Fatalf("unknown primitive: status %d, kind %q", resp.StatusCode, er.Kind)
	}

	var history protocol.HistoryResponse
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		getJSON(t, client, "/api/v1/primitives/history?limit=5", &history)
		if len(history.Entries) == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(history.Entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history.Entries))
	}
	if e := history.Entries[0]; e.ID != dr.ID || e.Message.Name != "Move" || e.Message.RobotID != 3 {
		t.Fatalf("history entry = %+v", e)
	}

	ra.Stop()
	<-agentErr

	d.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("daemon error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primd.toml")
	content := `
[nats]
port = 4333

[journal]
max_msgs = 50

[web]
listen = "127.0.0.1:8080"
username = "admin"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NATS.Port != 4333 || cfg.NATS.Host != "127.0.0.1" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if !cfg.Journal.Enabled || cfg.Journal.MaxMsgs != 50 {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	if cfg.Journal.MaxAge != 24*time.Hour || cfg.Journal.Duplicates != 2*time.Minute {
		t.Errorf("journal durations = %v / %v", cfg.Journal.MaxAge, cfg.Journal.Duplicates)
	}
	if cfg.Server.Socket == "" {
		t.Error("socket default is empty")
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Web.Username != "admin" {
		t.Errorf("web = %+v", cfg.Web)
	}
	if cfg.Behaviors.Enabled || cfg.Behaviors.HandlerTimeout != 2*time.Second || !cfg.Behaviors.HotReload {
		t.Errorf("behaviors = %+v", cfg.Behaviors)
	}
}

func TestLoadConfigRobotAccounts(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(secrets.EnvAgeKey, identity.String())
	sealed, err := secrets.Encrypt("keeper-pw", identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "primd.toml")
	content := `
[nats]
host = "0.0.0.0"

[[nats.robots]]
name = "keeper"
robot_id = 1
password = "` + sealed + `"

[[nats.robots]]
name = "striker"
robot_id = 9
password = "striker-pw"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := []natsserver.RobotAccount{
		{Name: "keeper", RobotID: 1, Password: "keeper-pw"},
		{Name: "striker", RobotID: 9, Password: "striker-pw"},
	}
	if !slices.Equal(cfg.NATS.Robots, want) {
		t.Errorf("robots = %+v, want %+v", cfg.NATS.Robots, want)
	}
}
