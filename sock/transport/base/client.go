package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
)

// clientPoolSize allows the context of a closing connection to be returned while the
// reconnect already acquired the next one
const clientPoolSize = 2

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection, honoring the deadline of ctx
	Connect(ctx context.Context, config common.ClientConfig) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Client
// -----------------------------------------------------------

// Client implements transport.IClient. It runs a shard of one connection, so messages and
// status changes are delivered in order on a single worker exactly like on the server.
type Client struct {
	connector IClientConnector

	// lifecycle, guarded by mu
	mu      sync.Mutex
	config  common.ClientConfig
	handler *ClientsHandler
	pool    *ContextPool

	// running is true between Connect and Close and keeps the reconnect loop alive
	running       atomic.Bool
	status        atomic.Int32
	autoReconnect atomic.Bool

	// current connection
	current   atomic.Pointer[ClientContext]
	currentID atomic.Uint64
	nextID    atomic.Uint64

	// reconnect supervisor
	lostCh  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup

	groupsMu sync.RWMutex
	groups   []string

	onMessage transport.MessageHandleFunc
	onStatus  transport.StatusHandleFunc
	filter    transport.MessageFilterFunc

	metrics *common.Metrics
	traffic atomic.Pointer[common.TrafficStats]
}

// NewClient creates a closed client using the given connector
func NewClient(connector IClientConnector) *Client {
	return &Client{
		connector: connector,
		metrics:   common.NewMetrics(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClient)
// --------------------------------------------------------------------------

func (c *Client) RegisterHandler(handler transport.MessageHandleFunc) {
	c.onMessage = handler
}

func (c *Client) RegisterStatusHandler(handler transport.StatusHandleFunc) {
	c.onStatus = handler
}

func (c *Client) RegisterFilter(filter transport.MessageFilterFunc) {
	c.filter = filter
}

func (c *Client) Connect(config common.ClientConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return common.ErrAlreadyRunning
	}
	if err := config.Validate(); err != nil {
		return err
	}
	spliter, err := framing.New(config.Framing)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	c.config = config
	c.pool = NewContextPool(clientPoolSize, config.Conn)
	traffic := common.NewTrafficStats()
	c.traffic.Store(traffic)
	c.handler = newClientsHandler(0, c, c.pool, spliter, config.Conn, c.metrics, traffic)
	if err := c.handler.Start(); err != nil {
		return err
	}
	c.autoReconnect.Store(config.AutoReconnect)
	c.lostCh = make(chan struct{}, 1)
	c.closeCh = make(chan struct{})
	c.running.Store(true)

	c.wg.Add(1)
	go c.supervise(c.lostCh, c.closeCh)

	err = c.dial(false)
	if err == nil {
		Logger.Infof("Connected to %s using %s transport", config.Endpoint, c.connector.GetName())
		return nil
	}

	if c.autoReconnect.Load() {
		Logger.Warningf("Failed to connect to %s, retrying every %s: %v", config.Endpoint, c.reconnectInterval(), err)
		c.connectionLost()
		return err
	}

	c.running.Store(false)
	close(c.closeCh)
	c.wg.Wait()
	_ = c.handler.Stop(config.StopTimeout)
	traffic.Stop()
	return err
}

func (c *Client) ConnectAsync(config common.ClientConfig, callback func(err error)) {
	go func() {
		err := c.Connect(config)
		if callback != nil {
			callback(err)
		}
	}()
}

// Close stops the reconnect loop and closes the connection. It waits up to
// ClientConfig.StopTimeout for pending callbacks. Close must not be called from the
// client's own message or status handler, the wait would always run into the timeout.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.CompareAndSwap(true, false) {
		return common.ErrNotRunning
	}
	close(c.closeCh)

	// wait for a running reconnect attempt
	c.wg.Wait()

	err := c.handler.Stop(c.config.StopTimeout)
	c.current.Store(nil)
	c.currentID.Store(0)
	c.status.Store(int32(transport.StatusClosed))
	c.traffic.Load().Stop()

	Logger.Infof("Closed connection to %s", c.config.Endpoint)
	return err
}

func (c *Client) Status() transport.ClientStatus {
	return transport.ClientStatus(c.status.Load())
}

// SetAutoReconnect changes the reconnect behavior while the client is not connected.
// Enabling it on a disconnected, not closed client starts reconnecting right away.
func (c *Client) SetAutoReconnect(enabled bool) error {
	if c.Status() == transport.StatusConnected {
		return common.ErrAlreadyConnected
	}
	c.autoReconnect.Store(enabled)
	if enabled && c.running.Load() && c.currentID.Load() == 0 {
		c.connectionLost()
	}
	return nil
}

func (c *Client) JoinGroup(groups ...string) error {
	msg, err := common.MakeJoinGroupMessage(groups)
	if err != nil {
		return err
	}
	if err := c.SendMessage(msg); err != nil {
		return err
	}

	c.groupsMu.Lock()
	c.groups = slices.Clone(groups)
	c.groupsMu.Unlock()
	return nil
}

func (c *Client) Groups() []string {
	c.groupsMu.RLock()
	defer c.groupsMu.RUnlock()
	return slices.Clone(c.groups)
}

func (c *Client) SendMessage(data []byte) error {
	if !c.running.Load() {
		return common.ErrNotRunning
	}
	ctx := c.current.Load()
	id := c.currentID.Load()
	if ctx == nil || id == 0 {
		return common.ErrClientNotConnected
	}
	return c.handler.send(ctx, id, data)
}

func (c *Client) SendMessageAsync(data []byte) *transport.PendingSends {
	pending := transport.NewPendingSends()
	pending.Go(c.currentID.Load(), func() error {
		return c.SendMessage(data)
	})
	return pending
}

func (c *Client) SendGroupMessage(groups []string, data []byte, loopback bool) error {
	msg, err := common.MakeGroupMessage(groups, data, loopback)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// ClientID returns the local id of the current connection (0 if not connected)
func (c *Client) ClientID() uint64 {
	return c.currentID.Load()
}

// Metrics returns the prometheus metrics of the client
func (c *Client) Metrics() *common.Metrics {
	return c.metrics
}

// Traffic returns a snapshot of the traffic statistics of the client
func (c *Client) Traffic() common.TrafficSnapshot {
	traffic := c.traffic.Load()
	if traffic == nil {
		return common.TrafficSnapshot{}
	}
	return traffic.Snapshot()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.handlerOwner)
// --------------------------------------------------------------------------

func (c *Client) nextClientID() uint64 {
	return c.nextID.Add(1)
}

func (c *Client) clientOpened(_ *ClientsHandler, ctx *ClientContext, clientID uint64) {
	c.current.Store(ctx)
	c.currentID.Store(clientID)
	c.status.Store(int32(transport.StatusConnected))
	c.metrics.ConnectionsAccepted.Inc()
}

func (c *Client) clientClosed(_ *ClientsHandler, _ *ClientContext, clientID uint64) {
	if !c.currentID.CompareAndSwap(clientID, 0) {
		return
	}
	c.current.Store(nil)
	c.status.Store(int32(transport.StatusClosed))
	c.metrics.ConnectionsClosed.Inc()

	if c.running.Load() {
		c.connectionLost()
	}
}

func (c *Client) cleanup(_ *ClientsHandler, _ uint64) {}

func (c *Client) statusChanged(ev transport.StatusEvent) {
	if c.onStatus != nil {
		c.onStatus(ev)
	}
}

func (c *Client) dispatch(h *ClientsHandler, clientID uint64, data []byte) {
	c.metrics.MessagesReceived.Inc()

	msg := transport.Message{HandlerID: h.id, ClientID: clientID, Data: data}
	if c.filter != nil && c.filter(msg) {
		return
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dial performs one connect attempt and registers the connection with the handler
func (c *Client) dial(reconnect bool) error {
	c.status.Store(int32(transport.StatusConnecting))
	c.handler.postStatus(transport.StatusEvent{Status: transport.StatusConnecting, RemoteAddr: c.config.Endpoint})

	conn, err := c.connect()
	if err != nil {
		c.status.Store(int32(transport.StatusClosed))
		c.handler.postStatus(transport.StatusEvent{Status: transport.StatusClosed, RemoteAddr: c.config.Endpoint})
		return err
	}

	if _, err := c.handler.AddNewClient(conn); err != nil {
		_ = conn.Close()
		c.status.Store(int32(transport.StatusClosed))
		c.handler.postStatus(transport.StatusEvent{Status: transport.StatusClosed, RemoteAddr: c.config.Endpoint})
		return err
	}

	if reconnect && c.config.RejoinGroupsOnReconnect {
		if groups := c.Groups(); len(groups) > 0 {
			if err := c.JoinGroup(groups...); err != nil {
				Logger.Warningf("Failed to rejoin groups %v: %v", groups, err)
			}
		}
	}
	return nil
}

// connect dials the endpoint and applies the connection settings
func (c *Client) connect() (net.Conn, error) {
	ctx := context.Background()
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.connector.Connect(ctx, c.config)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: connect to %s after %s: %v", common.ErrTimeout, c.config.Endpoint, c.config.ConnectTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.config.Endpoint, err)
	}

	if err := c.connector.UpgradeConnection(conn, c.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.config.Endpoint, err)
	}
	return conn, nil
}

// connectionLost wakes up the supervisor
func (c *Client) connectionLost() {
	select {
	case c.lostCh <- struct{}{}:
	default:
	}
}

// supervise waits for lost connections and, if auto reconnect is enabled, retries to connect
// with a fixed backoff until it succeeds, Close is called or auto reconnect is disabled.
func (c *Client) supervise(lostCh, closeCh chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-closeCh:
			return
		case <-lostCh:
		}

		if !c.autoReconnect.Load() || c.currentID.Load() != 0 {
			continue
		}
		Logger.Warningf("Connection to %s lost, reconnecting every %s", c.config.Endpoint, c.reconnectInterval())
		if c.reconnect(closeCh) {
			return
		}
	}
}

// reconnect retries to connect until it succeeds. It returns true if the client was closed.
func (c *Client) reconnect(closeCh chan struct{}) bool {
	interval := c.reconnectInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-closeCh:
			return true
		case <-timer.C:
		}

		if !c.running.Load() {
			return true
		}
		if !c.autoReconnect.Load() || c.currentID.Load() != 0 {
			return false
		}

		err := c.dial(true)
		if err == nil {
			Logger.Infof("Reconnected to %s after %d attempts", c.config.Endpoint, attempt)
			return false
		}
		Logger.Debugf("Reconnect attempt %d to %s failed: %v", attempt, c.config.Endpoint, err)
		timer.Reset(interval)
	}
}

func (c *Client) reconnectInterval() time.Duration {
	if c.config.ReconnectInterval > 0 {
		return c.config.ReconnectInterval
	}
	return common.DefaultReconnectInterval
}
