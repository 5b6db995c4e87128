package base

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/lib/util"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// handlerOwner is implemented by Server and Client and receives the events of their shards
type handlerOwner interface {
	// nextClientID returns a new unique connection id
	nextClientID() uint64
	// clientOpened is called before the first read of a new connection
	clientOpened(h *ClientsHandler, ctx *ClientContext, clientID uint64)
	// clientClosed is called by the read loop after the socket is closed,
	// before the context returns to the pool
	clientClosed(h *ClientsHandler, ctx *ClientContext, clientID uint64)
	// dispatch is called on the shard worker for every framed packet
	dispatch(h *ClientsHandler, clientID uint64, data []byte)
	// cleanup is called on the shard worker after all packets of a closed connection
	// were dispatched
	cleanup(h *ClientsHandler, clientID uint64)
	// statusChanged is called on the shard worker for every status change
	statusChanged(ev transport.StatusEvent)
}

// ClientsHandler owns a shard of connections. All messages and status changes of the shard
// are delivered on one ordered worker, so the owner's callbacks are never run concurrently
// for connections of the same shard.
type ClientsHandler struct {
	id      int
	owner   handlerOwner
	pool    *ContextPool
	spliter framing.PacketSpliter
	conf    common.ConnConf
	metrics *common.Metrics
	traffic *common.TrafficStats

	running   atomic.Bool
	clients   *xsync.MapOf[uint64, *ClientContext]
	scheduler *util.OrderedScheduler
	wg        sync.WaitGroup
}

// newClientsHandler creates a stopped shard
func newClientsHandler(id int, owner handlerOwner, pool *ContextPool, spliter framing.PacketSpliter,
	conf common.ConnConf, metrics *common.Metrics, traffic *common.TrafficStats) *ClientsHandler {
	return &ClientsHandler{
		id:      id,
		owner:   owner,
		pool:    pool,
		spliter: spliter,
		conf:    conf,
		metrics: metrics,
		traffic: traffic,
		clients: xsync.NewMapOf[uint64, *ClientContext](),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start clears the connection map and starts the shard worker
func (h *ClientsHandler) Start() error {
	if h.running.Load() {
		return common.ErrAlreadyRunning
	}
	h.clients.Clear()
	h.scheduler = util.NewOrderedScheduler(func(r any) {
		Logger.Errorf("Handler %d: recovered from panic in callback: %v\n%s", h.id, r, debug.Stack())
	})
	h.running.Store(true)
	return nil
}

// Stop closes all connections of the shard, waits for their read loops and drains the worker.
// It returns common.ErrTimeout if the worker did not finish within timeout (<= 0 waits forever).
func (h *ClientsHandler) Stop(timeout time.Duration) error {
	if !h.running.CompareAndSwap(true, false) {
		return common.ErrNotRunning
	}

	h.clients.Range(func(id uint64, ctx *ClientContext) bool {
		ctx.close(id)
		return true
	})
	h.wg.Wait()

	if !h.scheduler.Stop(timeout) {
		return fmt.Errorf("handler %d: %w waiting for %d pending tasks", h.id, common.ErrTimeout, h.scheduler.Pending())
	}
	return nil
}

// IsRunning returns true between Start and Stop
func (h *ClientsHandler) IsRunning() bool {
	return h.running.Load()
}

// ID returns the index of the shard
func (h *ClientsHandler) ID() int {
	return h.id
}

// ClientCount returns the number of connections of the shard
func (h *ClientsHandler) ClientCount() int {
	return h.clients.Size()
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// AddNewClient takes ownership of conn: it acquires a context from the pool, registers the
// connection, fires the connected event and starts reading. On error conn is not closed.
func (h *ClientsHandler) AddNewClient(conn net.Conn) (*ClientContext, error) {
	if !h.running.Load() {
		return nil, common.ErrNotRunning
	}

	ctx, err := h.pool.Get()
	if err != nil {
		return nil, err
	}

	id := h.owner.nextClientID()
	ctx.attach(id, h.id, conn)
	remote := ctx.RemoteAddr()

	h.clients.Store(id, ctx)
	h.owner.clientOpened(h, ctx, id)

	h.postStatus(transport.StatusEvent{
		HandlerID:  h.id,
		ClientID:   id,
		Status:     transport.StatusConnected,
		RemoteAddr: remote,
	})

	h.wg.Add(1)
	go h.readLoop(ctx, id, conn)

	Logger.Debugf("Handler %d: client %d connected from %s", h.id, id, remote)
	return ctx, nil
}

// CloseClient closes the connection with id. The closed event is fired by its read loop.
func (h *ClientsHandler) CloseClient(id uint64) error {
	ctx, ok := h.clients.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", common.ErrClientUnknown, id)
	}
	if !ctx.close(id) {
		return fmt.Errorf("%w: %d", common.ErrClientNotConnected, id)
	}
	return nil
}

// CloseClients closes all given connections of this shard, unknown ids are ignored
func (h *ClientsHandler) CloseClients(ids []uint64) {
	for _, id := range ids {
		_ = h.CloseClient(id)
	}
}

// readLoop reads from conn until it fails, frames the received bytes and posts every packet
// to the worker. It is the only place that removes a connection and returns its context.
func (h *ClientsHandler) readLoop(ctx *ClientContext, id uint64, conn net.Conn) {
	remote := ctx.RemoteAddr()
	defer func() {
		ctx.close(id)
		h.clients.Delete(id)
		h.owner.clientClosed(h, ctx, id)
		h.pool.Put(ctx)

		h.post(func() {
			h.owner.cleanup(h, id)
		}, func() {
			h.owner.cleanup(h, id)
		})
		h.postStatus(transport.StatusEvent{
			HandlerID:  h.id,
			ClientID:   id,
			Status:     transport.StatusClosed,
			RemoteAddr: remote,
		})

		Logger.Debugf("Handler %d: client %d (%s) disconnected", h.id, id, remote)
		h.wg.Done()
	}()

	queue := ctx.recvQueue
	for {
		n, err := conn.Read(ctx.ioBuf)
		if n > 0 {
			h.traffic.MarkReceived(n)
			h.metrics.BytesReceived.Add(n)
			ctx.recvSpeed.TryLimit(n)

			if werr := queue.Write(ctx.ioBuf[:n]); werr != nil {
				Logger.Warningf("Handler %d: client %d exceeded the receive buffer, closing: %v", h.id, id, werr)
				return
			}
			if !h.frame(queue, id) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Status() == transport.StatusConnected {
				Logger.Debugf("Handler %d: read from client %d failed: %v", h.id, id, err)
			}
			return
		}
	}
}

// frame splits the buffered window into packets and posts them to the worker.
// It returns false if the connection must be closed.
func (h *ClientsHandler) frame(queue *buffer.RingQueue, id uint64) bool {
	packets, endPos, err := h.spliter.GetPackets(queue.Bytes(), 0, queue.Len(), id)

	for _, p := range packets {
		data := p.Data
		h.traffic.ObservePacket(len(data))
		h.post(func() {
			h.owner.dispatch(h, id, data)
		}, nil)
	}
	if endPos > 0 {
		queue.Remove(endPos)
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, framing.ErrInvalidPacket):
		// protocol violation, the stream can not be resynchronized
		h.metrics.InvalidPackets.Inc()
		Logger.Warningf("Handler %d: invalid packet from client %d, closing: %v", h.id, id, err)
		return false
	default:
		Logger.Errorf("Handler %d: framing failed for client %d, discarding %d buffered bytes: %v", h.id, id, queue.Len(), err)
		queue.Reset()
		return true
	}
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// send frames data and writes it to the connection with id. Writes of one connection are
// serialized. A failed write closes the connection.
func (h *ClientsHandler) send(ctx *ClientContext, id uint64, data []byte) error {
	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()

	ctx.mu.RLock()
	conn, current := ctx.conn, ctx.id
	ctx.mu.RUnlock()
	if current != id || conn == nil {
		return fmt.Errorf("%w: %d", common.ErrClientUnknown, id)
	}
	if ctx.Status() != transport.StatusConnected {
		return fmt.Errorf("%w: %d", common.ErrClientNotConnected, id)
	}

	packet, err := h.spliter.MakePacket(data, ctx.sendBuf)
	if err != nil {
		return err
	}
	ctx.sendSpeed.TryLimit(len(packet))

	if h.conf.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.conf.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	n, err := conn.Write(packet)
	h.traffic.MarkSent(n)
	h.metrics.BytesSent.Add(n)
	if err != nil {
		ctx.close(id)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: write to client %d: %v", common.ErrTimeout, id, err)
		}
		return fmt.Errorf("%w: write to client %d failed: %v", common.ErrClientNotConnected, id, err)
	}
	h.metrics.MessagesSent.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// post runs task on the worker. If the worker is stopped, fallback runs synchronously instead.
func (h *ClientsHandler) post(task func(), fallback func()) {
	if h.scheduler.Post(task) {
		return
	}
	if fallback != nil {
		fallback()
	}
}

// postStatus fires a status event on the worker
func (h *ClientsHandler) postStatus(ev transport.StatusEvent) {
	h.post(func() {
		h.owner.statusChanged(ev)
	}, nil)
}
