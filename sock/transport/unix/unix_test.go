package unix

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestRoundTrip verifies request and response over a unix socket with every framing type
func TestRoundTrip(t *testing.T) {
	for _, typ := range []framing.Type{framing.TypeSimple, framing.TypeHeader, framing.TypeEndMark, framing.TypeVarint} {
		t.Run(string(typ), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dnet.sock")

			s := NewUnixServer()
			s.RegisterHandler(func(msg transport.Message) {
				if err := s.SendMessage(msg.ClientID, append([]byte("re:"), msg.Data...)); err != nil {
					t.Errorf("Failed to answer: %v", err)
				}
			})
			cfg := common.DefaultServerConfig(path)
			cfg.Framing.Type = typ
			if err := s.Start(cfg); err != nil {
				t.Fatalf("Failed to start server: %v", err)
			}
			defer s.Stop()

			var mu sync.Mutex
			var replies []string
			c := NewUnixClient()
			c.RegisterHandler(func(msg transport.Message) {
				mu.Lock()
				replies = append(replies, string(msg.Data))
				mu.Unlock()
			})
			ccfg := common.DefaultClientConfig(path)
			ccfg.Framing.Type = typ
			if err := c.Connect(ccfg); err != nil {
				t.Fatalf("Failed to connect: %v", err)
			}
			defer c.Close()

			for _, m := range []string{"one", "two", "three"} {
				if err := c.SendMessage([]byte(m)); err != nil {
					t.Fatalf("Failed to send %q: %v", m, err)
				}
			}

			waitFor(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(replies) == 3
			}, "missing replies")

			mu.Lock()
			defer mu.Unlock()
			for i, want := range []string{"re:one", "re:two", "re:three"} {
				if replies[i] != want {
					t.Errorf("Reply %d: expected %q, got %q", i, want, replies[i])
				}
			}
		})
	}
}

// TestStaleSocket verifies that a leftover socket file does not block a restart
func TestStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnet.sock")
	cfg := common.DefaultServerConfig(path)

	for i := 0; i < 2; i++ {
		s := NewUnixServer()
		if err := s.Start(cfg); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if got := s.Addr().String(); got != path {
			t.Errorf("Expected address %s, got %s", path, got)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}
}

// TestConnectMissingSocket verifies the error for a socket nobody listens on
func TestConnectMissingSocket(t *testing.T) {
	c := NewUnixClient()
	cfg := common.DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock"))
	err := c.Connect(cfg)
	if err == nil {
		_ = c.Close()
		t.Fatal("Expected connect to fail")
	}
	if errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected a connect error, got timeout: %v", err)
	}
}

// TestRestart verifies that a stopped server accepts clients again on the same path
func TestRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnet.sock")
	cfg := common.DefaultServerConfig(path)

	s := NewUnixServer()
	var received sync.WaitGroup
	s.RegisterHandler(func(transport.Message) { received.Done() })

	for i := 0; i < 2; i++ {
		if err := s.Start(cfg); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}

		c := NewUnixClient()
		if err := c.Connect(common.DefaultClientConfig(path)); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
		received.Add(1)
		if err := c.SendMessage([]byte("hello")); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}

		done := make(chan struct{})
		go func() {
			received.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("Round %d: message not delivered", i)
		}

		_ = c.Close()
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}
}
