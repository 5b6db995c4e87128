package base

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/lib/util"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/base")

// acceptBackoff is the pause after a failed Accept to avoid a busy loop on e.g. EMFILE
const acceptBackoff = 10 * time.Millisecond

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Server
// -----------------------------------------------------------

// Server implements transport.IServer independent of the specific transport medium
type Server struct {
	connector IServerConnector

	// lifecycle, guarded by mu
	mu         sync.Mutex
	running    atomic.Bool
	config     common.ServerConfig
	spliter    framing.PacketSpliter
	acceptDone chan struct{}

	// read without mu, so callbacks running during Stop can not block it
	listener atomic.Pointer[net.Listener]
	pool     atomic.Pointer[ContextPool]

	handlersMu sync.RWMutex
	handlers   []*ClientsHandler

	allClients   *xsync.MapOf[uint64, *ClientContext]
	groups       *xsync.MapOf[string, *xsync.MapOf[uint64, struct{}]]
	clientGroups *xsync.MapOf[uint64, []string]
	nextID       atomic.Uint64

	onMessage transport.MessageHandleFunc
	onStatus  transport.StatusHandleFunc
	filter    transport.MessageFilterFunc

	metrics *common.Metrics
	traffic atomic.Pointer[common.TrafficStats]
}

// NewServer creates a stopped server using the given connector
func NewServer(connector IServerConnector) *Server {
	s := &Server{
		connector:    connector,
		allClients:   xsync.NewMapOf[uint64, *ClientContext](),
		groups:       xsync.NewMapOf[string, *xsync.MapOf[uint64, struct{}]](),
		clientGroups: xsync.NewMapOf[uint64, []string](),
		metrics:      common.NewMetrics(),
	}
	s.traffic.Store(common.NewTrafficStats())
	s.traffic.Load().Stop()

	s.metrics.Gauge("dnet_clients", func() float64 { return float64(s.allClients.Size()) })
	s.metrics.Gauge("dnet_groups", func() float64 { return float64(s.groups.Size()) })
	s.metrics.Gauge("dnet_handlers", func() float64 { return float64(s.HandlerCount()) })
	s.metrics.Gauge("dnet_pool_outstanding", func() float64 {
		if pool := s.pool.Load(); pool != nil {
			return float64(pool.Outstanding())
		}
		return 0
	})
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServer)
// --------------------------------------------------------------------------

func (s *Server) RegisterHandler(handler transport.MessageHandleFunc) {
	s.onMessage = handler
}

func (s *Server) RegisterStatusHandler(handler transport.StatusHandleFunc) {
	s.onStatus = handler
}

func (s *Server) RegisterFilter(filter transport.MessageFilterFunc) {
	s.filter = filter
}

func (s *Server) Start(config common.ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return common.ErrAlreadyRunning
	}
	if err := config.Validate(); err != nil {
		return err
	}
	spliter, err := framing.New(config.Framing)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}

	listener, err := s.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.config = config
	s.spliter = spliter
	s.listener.Store(&listener)
	s.pool.Store(NewContextPool(config.MaxClientCount, config.Conn))
	s.traffic.Store(common.NewTrafficStats())
	s.allClients.Clear()
	s.groups.Clear()
	s.clientGroups.Clear()

	s.handlersMu.Lock()
	s.handlers = make([]*ClientsHandler, 0, config.InitHandlerCount)
	for i := 0; i < config.InitHandlerCount; i++ {
		s.handlers = append(s.handlers, s.newHandler(i))
	}
	s.handlersMu.Unlock()

	s.running.Store(true)
	s.acceptDone = make(chan struct{})
	go s.acceptLoop(listener, s.acceptDone)

	Logger.Infof("Starting %s server on %s with %d handlers (framing: %s, max clients: %d)",
		s.connector.GetName(), listener.Addr(), config.InitHandlerCount, spliter.Name(), config.MaxClientCount)
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return common.ErrNotRunning
	}

	var result *multierror.Error

	listener := *s.listener.Load()
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("failed to close listener: %w", err))
	}
	<-s.acceptDone

	s.handlersMu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.handlersMu.Unlock()

	for _, h := range handlers {
		if err := h.Stop(s.config.StopTimeout); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.pool.Load().Clear()
	s.allClients.Clear()
	s.groups.Clear()
	s.clientGroups.Clear()
	s.traffic.Load().Stop()

	Logger.Infof("Stopped %s server on %s", s.connector.GetName(), listener.Addr())
	return result.ErrorOrNil()
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

func (s *Server) Addr() net.Addr {
	listener := s.listener.Load()
	if !s.running.Load() || listener == nil {
		return nil
	}
	return (*listener).Addr()
}

func (s *Server) SendMessage(clientID uint64, data []byte) error {
	if !s.running.Load() {
		return common.ErrNotRunning
	}
	ctx, ok := s.allClients.Load(clientID)
	if !ok {
		return fmt.Errorf("%w: %d", common.ErrClientUnknown, clientID)
	}
	h, err := s.handlerFor(ctx, clientID)
	if err != nil {
		return err
	}
	return h.send(ctx, clientID, data)
}

func (s *Server) SendMessageAsync(clientIDs []uint64, data []byte) *transport.PendingSends {
	pending := transport.NewPendingSends()
	for _, id := range clientIDs {
		id := id
		pending.Go(id, func() error {
			return s.SendMessage(id, data)
		})
	}
	return pending
}

func (s *Server) SendGroupMessageAsync(groups []string, data []byte) *transport.PendingSends {
	return s.SendMessageAsync(s.membersOf(groups), data)
}

func (s *Server) BroadcastMessage(data []byte) *transport.PendingSends {
	return s.SendMessageAsync(s.ClientIDs(), data)
}

func (s *Server) CloseClient(clientID uint64) error {
	if !s.running.Load() {
		return common.ErrNotRunning
	}
	ctx, ok := s.allClients.Load(clientID)
	if !ok {
		return fmt.Errorf("%w: %d", common.ErrClientUnknown, clientID)
	}
	if !ctx.close(clientID) {
		return fmt.Errorf("%w: %d", common.ErrClientNotConnected, clientID)
	}
	return nil
}

func (s *Server) CloseClients(clientIDs []uint64) {
	for _, id := range clientIDs {
		_ = s.CloseClient(id)
	}
}

func (s *Server) ClientIDs() []uint64 {
	ids := make([]uint64, 0, s.allClients.Size())
	s.allClients.Range(func(id uint64, _ *ClientContext) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func (s *Server) ClientCount() int {
	return s.allClients.Size()
}

func (s *Server) HandlerCount() int {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers)
}

func (s *Server) GroupMembers(group string) []uint64 {
	members, ok := s.groups.Load(group)
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, members.Size())
	members.Range(func(id uint64, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func (s *Server) ClientGroups(clientID uint64) []string {
	groups, ok := s.clientGroups.Load(clientID)
	if !ok {
		return nil
	}
	return slices.Clone(groups)
}

func (s *Server) RemoteAddr(clientID uint64) (string, bool) {
	ctx, ok := s.allClients.Load(clientID)
	if !ok {
		return "", false
	}
	addr := ctx.RemoteAddr()
	if !ctx.matches(clientID) {
		return "", false
	}
	return addr, true
}

func (s *Server) SetTag(clientID uint64, tag any) error {
	ctx, ok := s.allClients.Load(clientID)
	if !ok || !ctx.setTag(clientID, tag) {
		return fmt.Errorf("%w: %d", common.ErrClientUnknown, clientID)
	}
	return nil
}

func (s *Server) Tag(clientID uint64) (any, bool) {
	ctx, ok := s.allClients.Load(clientID)
	if !ok {
		return nil, false
	}
	return ctx.getTag(clientID)
}

func (s *Server) Stats() transport.ServerStats {
	s.handlersMu.RLock()
	loads := make([]int, len(s.handlers))
	loadValues := make([]float64, len(s.handlers))
	for i, h := range s.handlers {
		loads[i] = h.ClientCount()
		loadValues[i] = float64(loads[i])
	}
	s.handlersMu.RUnlock()

	stats := transport.ServerStats{
		Running:      s.running.Load(),
		Clients:      s.allClients.Size(),
		Handlers:     len(loads),
		Groups:       s.groups.Size(),
		HandlerLoads: loads,
		Distribution: util.NewDistributionStats(loadValues),
		Traffic:      s.traffic.Load().Snapshot(),
	}
	if pool := s.pool.Load(); pool != nil {
		stats.PoolOutstanding = pool.Outstanding()
		stats.PoolCapacity = pool.Capacity()
	}
	return stats
}

func (s *Server) Metrics() *common.Metrics {
	return s.metrics
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.handlerOwner)
// --------------------------------------------------------------------------

func (s *Server) nextClientID() uint64 {
	return s.nextID.Add(1)
}

func (s *Server) clientOpened(_ *ClientsHandler, ctx *ClientContext, clientID uint64) {
	s.allClients.Store(clientID, ctx)
	s.metrics.ConnectionsAccepted.Inc()
}

func (s *Server) clientClosed(_ *ClientsHandler, _ *ClientContext, clientID uint64) {
	s.allClients.Delete(clientID)
	s.metrics.ConnectionsClosed.Inc()
}

func (s *Server) cleanup(_ *ClientsHandler, clientID uint64) {
	groups, ok := s.clientGroups.LoadAndDelete(clientID)
	if !ok {
		return
	}
	for _, g := range groups {
		s.removeMember(g, clientID)
	}
}

func (s *Server) statusChanged(ev transport.StatusEvent) {
	if s.onStatus != nil {
		s.onStatus(ev)
	}
}

func (s *Server) dispatch(h *ClientsHandler, clientID uint64, data []byte) {
	s.metrics.MessagesReceived.Inc()

	if s.config.EnableGroup && common.ControlMark(data) != common.ControlNone {
		ctrl, err := common.ParseControl(data)
		if err != nil {
			Logger.Warningf("Dropping control message of client %d: %v", clientID, err)
			return
		}
		switch ctrl.Kind {
		case common.ControlJoin:
			s.joinGroups(clientID, ctrl.Groups)
		case common.ControlTransmit:
			s.relay(clientID, ctrl)
		}
		return
	}

	msg := transport.Message{HandlerID: h.id, ClientID: clientID, Data: data}
	if s.filter != nil && s.filter(msg) {
		return
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (s *Server) acceptLoop(listener net.Listener, done chan struct{}) {
	defer close(done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(acceptBackoff)
			continue
		}

		if err := s.connector.UpgradeConnection(conn, s.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			s.metrics.ConnectionsRejected.Inc()
			_ = conn.Close()
			continue
		}

		h := s.selectHandler()
		if _, err := h.AddNewClient(conn); err != nil {
			s.metrics.ConnectionsRejected.Inc()
			if errors.Is(err, common.ErrPoolExhausted) {
				Logger.Errorf("Rejecting connection from %s: %v", conn.RemoteAddr(), err)
			} else {
				Logger.Warningf("Rejecting connection from %s: %v", conn.RemoteAddr(), err)
			}
			_ = conn.Close()
		}
	}
}

// selectHandler returns the least loaded shard. If even that shard reached the configured
// load, a new shard is created. Shards are never removed while the server runs.
func (s *Server) selectHandler() *ClientsHandler {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	var best *ClientsHandler
	bestLoad := 0
	for _, h := range s.handlers {
		load := h.ClientCount()
		if best == nil || load < bestLoad {
			best, bestLoad = h, load
		}
	}

	if best == nil || bestLoad >= s.config.MaxHandlerClientCount {
		best = s.newHandler(len(s.handlers))
		s.handlers = append(s.handlers, best)
		Logger.Infof("All handlers reached %d clients, started handler %d", s.config.MaxHandlerClientCount, best.id)
	}
	return best
}

// newHandler creates and starts a shard, the caller must hold handlersMu
func (s *Server) newHandler(id int) *ClientsHandler {
	h := newClientsHandler(id, s, s.pool.Load(), s.spliter, s.config.Conn, s.metrics, s.traffic.Load())
	_ = h.Start()
	return h
}

// handlerFor returns the shard owning ctx
func (s *Server) handlerFor(ctx *ClientContext, clientID uint64) (*ClientsHandler, error) {
	ctx.mu.RLock()
	id, handlerID := ctx.id, ctx.handlerID
	ctx.mu.RUnlock()
	if id != clientID {
		return nil, fmt.Errorf("%w: %d", common.ErrClientUnknown, clientID)
	}

	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if handlerID < 0 || handlerID >= len(s.handlers) {
		return nil, common.ErrNotRunning
	}
	return s.handlers[handlerID], nil
}

// joinGroups replaces the group membership of a client. It runs on the client's shard worker.
func (s *Server) joinGroups(clientID uint64, groups []string) {
	if _, ok := s.allClients.Load(clientID); !ok {
		return
	}

	old, _ := s.clientGroups.Load(clientID)
	for _, g := range old {
		if !slices.Contains(groups, g) {
			s.removeMember(g, clientID)
		}
	}
	for _, g := range groups {
		s.groups.Compute(g, func(members *xsync.MapOf[uint64, struct{}], loaded bool) (*xsync.MapOf[uint64, struct{}], bool) {
			if !loaded {
				members = xsync.NewMapOf[uint64, struct{}]()
			}
			members.Store(clientID, struct{}{})
			return members, false
		})
	}

	if len(groups) == 0 {
		s.clientGroups.Delete(clientID)
	} else {
		s.clientGroups.Store(clientID, slices.Clone(groups))
	}
	Logger.Debugf("Client %d joined groups %v", clientID, groups)
}

// removeMember removes a client from a group and deletes the group once it is empty
func (s *Server) removeMember(group string, clientID uint64) {
	s.groups.Compute(group, func(members *xsync.MapOf[uint64, struct{}], loaded bool) (*xsync.MapOf[uint64, struct{}], bool) {
		if !loaded {
			return members, true
		}
		members.Delete(clientID)
		return members, members.Size() == 0
	})
}

// membersOf returns the union of the members of groups, each id once
func (s *Server) membersOf(groups []string) []uint64 {
	seen := make(map[uint64]struct{})
	var ids []uint64
	for _, g := range groups {
		members, ok := s.groups.Load(g)
		if !ok {
			continue
		}
		members.Range(func(id uint64, _ struct{}) bool {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
			return true
		})
	}
	slices.Sort(ids)
	return ids
}

// relay forwards a group transmit message. It runs on the sender's shard worker and writes
// synchronously, so relays to the same recipient keep their order.
func (s *Server) relay(senderID uint64, ctrl common.Control) {
	if !s.config.AllowCrossGroupMessage {
		joined, _ := s.clientGroups.Load(senderID)
		for _, g := range ctrl.Groups {
			if !slices.Contains(joined, g) {
				Logger.Debugf("Client %d may not send to group %s, dropping relay", senderID, g)
				return
			}
		}
	}

	delivered := 0
	for _, id := range s.membersOf(ctrl.Groups) {
		if id == senderID && !ctrl.Loopback {
			continue
		}
		if err := s.SendMessage(id, ctrl.Payload); err != nil {
			Logger.Debugf("Relay from client %d to client %d failed: %v", senderID, id, err)
			continue
		}
		delivered++
	}
	s.metrics.GroupRelays.Inc()
	Logger.Debugf("Relayed message of client %d to %d members of %v", senderID, delivered, ctrl.Groups)
}
