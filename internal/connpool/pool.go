// Package connpool is a minimal TCP connection pool: dial or accept
// connections, frame traffic with internal/wire, and deliver received
// messages and disconnect notifications through per-connection callbacks
// (spec.md §4.B, grounded on the OnReceive/OnDisconnected shape of
// original_source's TCPConnectionPool-derived Client/Server, and on the
// per-connection sender-goroutine pattern of mooncorn-dockyard's
// ConnectionStore).
package connpool

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/wire"
)

// sendQueueSize bounds the number of outgoing frames buffered per
// connection before Send starts returning an error.
const sendQueueSize = 64

type outgoing struct {
	msg     wire.Message
	payload []byte
}

// Connection is one established TCP connection, either accepted or dialed.
type Connection struct {
	ID         uint64
	RemoteAddr string

	conn     net.Conn
	sendCh   chan outgoing
	cancel   context.CancelFunc
	closedCh chan struct{}
	closeErr error
	mu       sync.Mutex
}

// Send enqueues a frame for asynchronous delivery. It never blocks on
// network I/O; it returns an error only if the connection's send queue
// is full or the connection already closed.
func (c *Connection) Send(msg wire.Message, payload []byte) error {
	select {
	case c.sendCh <- outgoing{msg: msg, payload: payload}:
		return nil
	case <-c.closedCh:
		return fmt.Errorf("connpool: connection %d closed", c.ID)
	default:
		return fmt.Errorf("connpool: connection %d send queue full", c.ID)
	}
}

// Close tears down the connection; OnDisconnect fires once the receive
// loop observes it.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	return c.conn.Close()
}

// Callbacks are invoked from the pool's internal goroutines. Handlers
// must not block for long; OnReceive runs on the connection's own
// receive goroutine so a slow handler only delays that one connection.
type Callbacks struct {
	OnReceive    func(c *Connection, frame wire.Frame)
	OnDisconnect func(c *Connection, err error)
}

// Pool manages a set of live connections sharing one set of callbacks.
type Pool struct {
	callbacks Callbacks
	dialer    net.Dialer

	mu      sync.Mutex
	conns   map[uint64]*Connection
	nextID  uint64
	closing bool
}

// New creates a pool. callbacks.OnReceive and OnDisconnect may be nil.
func New(callbacks Callbacks) *Pool {
	return &Pool{
		callbacks: callbacks,
		conns:     make(map[uint64]*Connection),
	}
}

// Dial opens an outbound connection and starts its receive loop.
func (p *Pool) Dial(ctx context.Context, addr string, timeout time.Duration) (*Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	nc, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return p.adopt(nc), nil
}

// Listen starts accepting inbound connections on addr until ctx is
// cancelled. Each accepted connection gets its own receive loop.
func (p *Pool) Listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("connpool: accept failed: %v", err)
				return err
			}
		}
		p.adopt(nc)
	}
}

func (p *Pool) adopt(nc net.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	c := &Connection{
		ID:         id,
		RemoteAddr: nc.RemoteAddr().String(),
		conn:       nc,
		sendCh:     make(chan outgoing, sendQueueSize),
		cancel:     cancel,
		closedCh:   make(chan struct{}),
	}

	p.mu.Lock()
	p.conns[id] = c
	p.mu.Unlock()

	go p.sendLoop(ctx, c)
	go p.receiveLoop(c)
	return c
}

func (p *Pool) sendLoop(ctx context.Context, c *Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-c.sendCh:
			if err := wire.WriteFrame(c.conn, out.msg, out.payload); err != nil {
				logger.Debug("connpool: write to %s failed: %v", c.RemoteAddr, err)
				c.cancel()
				c.conn.Close()
				return
			}
		}
	}
}

func (p *Pool) receiveLoop(c *Connection) {
	r := bufio.NewReader(c.conn)
	var retErr error
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			retErr = err
			break
		}
		if p.callbacks.OnReceive != nil {
			p.callbacks.OnReceive(c, frame)
		}
	}

	c.mu.Lock()
	c.closeErr = retErr
	c.mu.Unlock()
	close(c.closedCh)
	c.cancel()
	c.conn.Close()

	p.mu.Lock()
	delete(p.conns, c.ID)
	p.mu.Unlock()

	if p.callbacks.OnDisconnect != nil {
		p.callbacks.OnDisconnect(c, retErr)
	}
}

// Connections returns a snapshot of currently live connections.
func (p *Pool) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// CloseAll closes every live connection.
func (p *Pool) CloseAll() {
	for _, c := range p.Connections() {
		c.Close()
	}
}
