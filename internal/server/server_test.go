package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-jaw/internal/config"
	"github.com/teslashibe/go-jaw/internal/health"
	"github.com/teslashibe/go-jaw/internal/metrics"
	"github.com/teslashibe/go-jaw/internal/protocol"
	"github.com/teslashibe/go-jaw/internal/status"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

func setupTestServer(t *testing.T) (*Server, Deps) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Port = 9010

	logger := slog.Default()
	deps := Deps{
		Tracker: status.NewTracker("pir", status.DefaultTrackerConfig(), logger),
		Health:  health.NewChecker("test", logger),
		Metrics: metrics.New(),
		Store:   config.NewStaticStore(cfg),
	}
	deps.Health.SetComponent("actuator", true, "")

	return New(cfg.Server, deps, logger), deps
}

func getJSON(t *testing.T, s *Server, path string, want int, v interface{}) {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		t.Errorf("GET %s: expected status %d, got %d", path, want, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to parse JSON: %v (%s)", err, body)
	}
}

func TestServer_Health(t *testing.T) {
	server, deps := setupTestServer(t)

	var st health.Status
	getJSON(t, server, "/health", 200, &st)
	if st.Version != "test" || st.Status != "ok" {
		t.Errorf("unexpected health %+v", st)
	}

	deps.Health.SetComponent("actuator", false, "usb gone")
	getJSON(t, server, "/health", 503, &st)
	if st.Status != "degraded" {
		t.Errorf("status = %s, want degraded", st.Status)
	}
}

func TestServer_Status(t *testing.T) {
	server, deps := setupTestServer(t)

	deps.Tracker.PhaseChanged(trigger.PhaseVocal)

	var snap status.Snapshot
	getJSON(t, server, "/api/status", 200, &snap)
	if snap.Phase != trigger.PhaseVocal {
		t.Errorf("phase = %s, want vocal", snap.Phase)
	}
	if snap.Trigger != "pir" || snap.VocalCycles != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	var history []status.PhaseChange
	getJSON(t, server, "/api/status/history", 200, &history)
	if len(history) != 1 || history[0].Phase != trigger.PhaseVocal {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestServer_Config(t *testing.T) {
	server, _ := setupTestServer(t)

	var result map[string]map[string]interface{}
	getJSON(t, server, "/api/config", 200, &result)

	cfg := result["config"]
	serverCfg := cfg["server"].(map[string]interface{})
	if serverCfg["port"].(float64) != 9010 {
		t.Errorf("expected port 9010, got %v", serverCfg["port"])
	}
	if _, ok := result["reload"]; !ok {
		t.Error("expected reload stats")
	}
}

func TestServer_Stats(t *testing.T) {
	server, _ := setupTestServer(t)

	var result map[string]interface{}
	getJSON(t, server, "/api/stats", 200, &result)
	if result["websocket_clients"].(float64) != 0 {
		t.Errorf("websocket_clients = %v", result["websocket_clients"])
	}
	if _, ok := result["tracker"]; !ok {
		t.Error("expected tracker stats")
	}
}

func TestServer_Metrics(t *testing.T) {
	server, deps := setupTestServer(t)
	deps.Metrics.ActuatorUpdated(12)

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{
		"go_jaw_actuator_updates_total 1",
		"go_jaw_target_angle_degrees 12",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("expected %q in response", metric)
		}
	}
}

func TestServer_Unavailable(t *testing.T) {
	server := New(config.Default().Server, Deps{}, nil)

	getJSON(t, server, "/api/status", 503, nil)
	getJSON(t, server, "/api/config", 503, nil)
	getJSON(t, server, "/health", 200, nil)
}

func TestServer_Stream_UpgradeRequired(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/stream", nil)
	resp, err := server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 426 {
		t.Errorf("expected status 426, got %d", resp.StatusCode)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return msg
}

func TestServer_Stream(t *testing.T) {
	server, deps := setupTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go server.app.Listener(ln)
	defer server.app.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.WSHub().Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for deps.Tracker.Stats().SubscriberCount == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	url := "ws://" + ln.Addr().String() + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The pong proves the connection is registered with the hub
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != protocol.TypePong {
		t.Fatalf("type = %s, want pong", msg.Type)
	}

	deps.Tracker.PhaseChanged(trigger.PhaseAmbient)

	msg := readMessage(t, conn)
	phase, err := msg.GetPhase()
	if err != nil {
		t.Fatalf("GetPhase: %v", err)
	}
	if phase.Phase != "ambient" || phase.AmbientCycles != 1 || phase.Trigger != "pir" {
		t.Errorf("unexpected phase %+v", phase)
	}

	conn.WriteJSON(map[string]string{"type": "get_stats"})
	if msg := readMessage(t, conn); msg.Type != protocol.TypeStats {
		t.Errorf("type = %s, want stats", msg.Type)
	}

	conn.WriteJSON(map[string]string{"type": "dance"})
	if msg := readMessage(t, conn); msg.Type != protocol.TypeError {
		t.Errorf("type = %s, want error", msg.Type)
	}
}
