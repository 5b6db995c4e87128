package base

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/speed"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
)

// ClientContext is the state of one connection. Contexts are pooled and reused, so every
// access from outside the read loop identifies the connection by its id and checks it
// against the context (see matches).
type ClientContext struct {
	// mu protects the identity of the context: id, conn, remoteAddr, tag
	mu         sync.RWMutex
	id         uint64
	handlerID  int
	conn       net.Conn
	remoteAddr string
	tag        any

	status atomic.Int32

	// slot of the io region in the pool arena, -1 if the context is not in use
	slot int
	// ioBuf is the region the read loop reads into
	ioBuf []byte

	// owned by the read loop
	recvQueue *buffer.RingQueue
	recvSpeed *speed.Controller

	// sendMu serializes the writes of a connection and protects sendBuf
	sendMu    sync.Mutex
	sendBuf   *buffer.DynamicBuffer
	sendSpeed *speed.Controller
}

// newClientContext allocates the buffers of a context
func newClientContext(conf common.ConnConf) *ClientContext {
	return &ClientContext{
		slot:      -1,
		recvQueue: buffer.NewRingQueue(conf.ReceiveBufferInitSize, conf.ReceiveBufferMaxSize),
		recvSpeed: speed.NewController(conf.ReceiveSpeedLimit),
		sendBuf:   buffer.NewDynamicBuffer(conf.SendBufferInitSize),
		sendSpeed: speed.NewController(conf.SendSpeedLimit),
	}
}

// attach binds the context to a new connection
func (c *ClientContext) attach(id uint64, handlerID int, conn net.Conn) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.id = id
	c.handlerID = handlerID
	c.conn = conn
	c.tag = nil
	if addr := conn.RemoteAddr(); addr != nil {
		c.remoteAddr = addr.String()
	} else {
		c.remoteAddr = ""
	}
	c.status.Store(int32(transport.StatusConnected))
}

// reset detaches the context from its connection. It waits for a running send to finish.
func (c *ClientContext) reset() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.id = 0
	c.handlerID = 0
	c.conn = nil
	c.remoteAddr = ""
	c.tag = nil
	c.status.Store(int32(transport.StatusClosed))

	c.recvQueue.Release()
	c.sendBuf.Release()
	c.recvSpeed.Reset()
	c.sendSpeed.Reset()
}

// ID returns the id of the connection the context currently belongs to (0 if unused)
func (c *ClientContext) ID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Status returns the connection state
func (c *ClientContext) Status() transport.ClientStatus {
	return transport.ClientStatus(c.status.Load())
}

// RemoteAddr returns the remote address. It is cached and stays available after the
// socket is closed, until the context is reset.
func (c *ClientContext) RemoteAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteAddr
}

// matches returns true if the context still belongs to the connection with id
func (c *ClientContext) matches(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id == id && id != 0
}

// close marks the context closed and closes its socket.
// It returns false if the context does not belong to id or is already closed.
func (c *ClientContext) close(id uint64) bool {
	c.mu.RLock()
	if c.id != id || id == 0 {
		c.mu.RUnlock()
		return false
	}
	conn := c.conn
	c.mu.RUnlock()

	for {
		old := c.status.Load()
		if old == int32(transport.StatusClosed) {
			return false
		}
		if c.status.CompareAndSwap(old, int32(transport.StatusClosed)) {
			break
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	return true
}

// setTag attaches user data if the context still belongs to id
func (c *ClientContext) setTag(id uint64, tag any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != id || id == 0 {
		return false
	}
	c.tag = tag
	return true
}

// getTag returns the user data if the context still belongs to id
func (c *ClientContext) getTag(id uint64) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id != id || id == 0 {
		return nil, false
	}
	return c.tag, true
}
