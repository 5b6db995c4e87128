package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/http")

// ClientInfo describes one connected client
type ClientInfo struct {
	ID         uint64   `json:"id"`
	RemoteAddr string   `json:"remote_addr"`
	Groups     []string `json:"groups,omitempty"`
}

// Monitor serves the monitoring routes of one server
type Monitor struct {
	server transport.IServer
	debug  bool

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewMonitor creates a monitor for server. With debug every request is logged.
func NewMonitor(server transport.IServer, debug bool) *Monitor {
	return &Monitor{
		server: server,
		debug:  debug,
	}
}

// Handler returns the routes of the monitor
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()

	routes := map[string]http.HandlerFunc{
		"GET /metrics":         m.handleMetrics,
		"GET /stats":           m.handleStats,
		"GET /clients":         m.handleClients,
		"DELETE /clients/{id}": m.handleCloseClient,
		"GET /groups/{name}":   m.handleGroup,
	}
	for pattern, handler := range routes {
		if m.debug {
			mux.HandleFunc(pattern, loggerMiddleware(handler))
		} else {
			mux.HandleFunc(pattern, handler)
		}
	}
	return mux
}

// Start listens on endpoint and serves in the background
func (m *Monitor) Start(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer != nil {
		return common.ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}

	m.listener = listener
	m.httpServer = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Monitor stopped: %v", err)
		}
	}(m.httpServer)

	Logger.Infof("Starting monitor on %s", listener.Addr())
	return nil
}

// Addr returns the address of the monitor or nil if it is not running
func (m *Monitor) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop shuts the monitor down, waiting for running requests until ctx is done
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer == nil {
		return common.ErrNotRunning
	}
	err := m.httpServer.Shutdown(ctx)
	m.httpServer = nil
	m.listener = nil
	return err
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (m *Monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m.server.Metrics().WritePrometheus(w)
}

func (m *Monitor) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.server.Stats())
}

func (m *Monitor) handleClients(w http.ResponseWriter, _ *http.Request) {
	ids := m.server.ClientIDs()
	clients := make([]ClientInfo, 0, len(ids))
	for _, id := range ids {
		addr, ok := m.server.RemoteAddr(id)
		if !ok {
			continue // closed in the meantime
		}
		clients = append(clients, ClientInfo{
			ID:         id,
			RemoteAddr: addr,
			Groups:     m.server.ClientGroups(id),
		})
	}
	writeJSON(w, clients)
}

func (m *Monitor) handleCloseClient(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid client id", http.StatusBadRequest)
		return
	}

	switch err := m.server.CloseClient(id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, common.ErrClientUnknown), errors.Is(err, common.ErrClientNotConnected):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func (m *Monitor) handleGroup(w http.ResponseWriter, r *http.Request) {
	members := m.server.GroupMembers(r.PathValue("name"))
	if members == nil {
		members = []uint64{}
	}
	writeJSON(w, members)
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Errorf("Failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
