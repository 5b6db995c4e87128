package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/ValentinKolb/dNet/sock/transport/tcp"
)

// startMonitor starts a tcp server with one connected client behind a test monitor
func startMonitor(t *testing.T) (*httptest.Server, transport.IServer, uint64) {
	t.Helper()

	s := tcp.NewTCPServer()
	if err := s.Start(common.DefaultServerConfig("127.0.0.1:0")); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	c := tcp.NewTCPClient()
	if err := c.Connect(common.DefaultClientConfig(s.Addr().String())); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.JoinGroup("room"); err != nil {
		t.Fatalf("Failed to join: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(s.GroupMembers("room")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Client did not join")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts := httptest.NewServer(NewMonitor(s, true).Handler())
	t.Cleanup(ts.Close)
	return ts, s, s.ClientIDs()[0]
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestMetricsRoute(t *testing.T) {
	ts, _, _ := startMonitor(t)

	code, body := get(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	for _, name := range []string{"dnet_connections_accepted_total 1", "dnet_clients 1", "dnet_groups 1"} {
		if !strings.Contains(body, name) {
			t.Errorf("Metric %q missing in:\n%s", name, body)
		}
	}
}

func TestStatsRoute(t *testing.T) {
	ts, _, _ := startMonitor(t)

	code, body := get(t, ts.URL+"/stats")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var stats transport.ServerStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("Invalid json: %v", err)
	}
	if !stats.Running || stats.Clients != 1 || stats.Groups != 1 || stats.PoolOutstanding != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestClientRoutes(t *testing.T) {
	ts, s, id := startMonitor(t)

	code, body := get(t, ts.URL+"/clients")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var clients []ClientInfo
	if err := json.Unmarshal([]byte(body), &clients); err != nil {
		t.Fatalf("Invalid json: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != id || len(clients[0].Groups) != 1 || clients[0].Groups[0] != "room" {
		t.Errorf("Unexpected clients: %+v", clients)
	}

	code, body = get(t, ts.URL+"/groups/room")
	if code != http.StatusOK || strings.TrimSpace(body) != fmt.Sprintf("[%d]", id) {
		t.Errorf("Unexpected members: %d %s", code, body)
	}
	_, body = get(t, ts.URL+"/groups/unknown")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("Expected empty member list, got %s", body)
	}

	for path, want := range map[string]int{
		"/clients/abc":               http.StatusBadRequest,
		"/clients/999":               http.StatusNotFound,
		fmt.Sprintf("/clients/%d", id): http.StatusNoContent,
	} {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("DELETE %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was not closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	_, s, _ := startMonitor(t)

	m := NewMonitor(s, false)
	if err := m.Stop(context.Background()); err != common.ErrNotRunning {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if err := m.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start monitor: %v", err)
	}
	if err := m.Start("127.0.0.1:0"); err != common.ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	code, _ := get(t, "http://"+m.Addr().String()+"/stats")
	if code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Failed to stop monitor: %v", err)
	}
	if m.Addr() != nil {
		t.Errorf("Address must be nil after stop")
	}
}
