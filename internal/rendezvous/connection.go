package rendezvous

import (
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

const (
	// DefaultMTU is the default capacity of a connection's receive buffer.
	DefaultMTU = 64
	// DefaultKeepAliveInterval is the default TCP keep-alive probe interval.
	DefaultKeepAliveInterval = 200 * time.Millisecond

	// Appended to every outbound message.
	delimiter = "\r"
)

// ConnectionOptions are the per-connection tunables applied whenever a
// Connection is bound to a socket.
type ConnectionOptions struct {
	// MTU is the size of the receive buffer. A single read never returns more
	// than MTU bytes, so longer messages arrive split across several updates.
	MTU int
	// KeepAlive enables TCP keep-alive probes on accepted sockets.
	KeepAlive bool
	// KeepAliveInterval is the keep-alive probe period.
	KeepAliveInterval time.Duration
}

// DefaultConnectionOptions returns the options used when none are configured.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MTU:               DefaultMTU,
		KeepAlive:         true,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}
}

// connectionOwner is the part of a Server that a Connection reports back to.
type connectionOwner interface {
	requestReconnect(clientName string)
	removeConnection(c *Connection)
	recordEvent(kind EventKind, c *Connection, detail string)
}

// Connection is a named client bound to one accepted socket at a time. It runs
// a receive worker and a send worker and exchanges data with callers through
// two single-value slots: a newer message always replaces an unread older one.
type Connection struct {
	owner      connectionOwner
	serverName string
	opts       ConnectionOptions
	log        *activityLog
	metrics    *Metrics

	inbound  *slot
	outbound *slot

	// lifecycle serializes bind and closeConnection.
	lifecycle sync.Mutex
	workers   sync.WaitGroup

	mu          sync.Mutex
	name        string
	conn        net.Conn
	recvEnabled bool
	sendEnabled bool
	stop        chan struct{}
}

func newConnection(owner connectionOwner, serverName string, opts ConnectionOptions, logger logrus.FieldLogger, metrics *Metrics) *Connection {
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	return &Connection{
		owner:      owner,
		serverName: serverName,
		opts:       opts,
		log:        newActivityLog(logger),
		metrics:    metrics,
		inbound:    newSlot(),
		outbound:   newSlot(),
	}
}

// Name returns the client name the connection is currently registered under.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// ServerName returns the name of the Server that accepted the connection.
func (c *Connection) ServerName() string { return c.serverName }

// RemoteAddr returns the address of the peer on the current socket.
func (c *Connection) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Receiving reports whether the receive worker is enabled.
func (c *Connection) Receiving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvEnabled
}

// Sending reports whether the send worker is enabled.
func (c *Connection) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendEnabled
}

// Log returns the connection's activity log since it was last bound.
func (c *Connection) Log() string { return c.log.String() }

// ConsumeInbound calls handler with the latest unread message, if there is
// one, and marks it as read. It never blocks waiting for data. Calls must not
// be made concurrently from several goroutines.
func (c *Connection) ConsumeInbound(handler func(text string)) {
	data, ok := c.inbound.take()
	if !ok {
		return
	}

	text := decodeText(data)
	handler(text)
	c.log.infof("recv: %s", text)
}

// SendText queues text (plus the trailing delimiter) for transmission and
// returns immediately. A message that hasn't been sent yet is replaced.
func (c *Connection) SendText(text string) {
	encoded, err := unicode.UTF8.NewEncoder().String(text + delimiter)
	if err != nil {
		encoded = text + delimiter
	}
	c.outbound.store([]byte(encoded))
}

// Disconnect removes the connection from its Server's table and closes it.
// Unlike a connection dropped by the peer, it will not be reconnected.
func (c *Connection) Disconnect() {
	if c.owner != nil {
		c.owner.removeConnection(c)
	}
	c.closeConnection(false)
}

// bind (re)initializes the connection on conn and starts both workers. A
// connection that is still live is closed first.
func (c *Connection) bind(name string, conn net.Conn) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.shutdown(true)
	c.reset(name, conn)
	c.start()
}

// reset prepares the connection for a new socket. Workers left over from the
// previous socket are waited on before any state is replaced.
func (c *Connection) reset(name string, conn net.Conn) {
	c.workers.Wait()

	c.mu.Lock()
	c.name = name
	c.conn = conn
	c.recvEnabled = true
	c.sendEnabled = true
	c.stop = make(chan struct{})
	c.mu.Unlock()

	c.inbound.clear()
	c.outbound.clear()
	c.log.reset()

	c.configureKeepAlive(conn)
}

func (c *Connection) start() {
	c.mu.Lock()
	conn, stop := c.conn, c.stop
	c.mu.Unlock()

	c.workers.Add(2)
	go c.receiveLoop(conn, stop)
	go c.sendLoop(conn, stop)
}

func (c *Connection) configureKeepAlive(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcpConn.SetKeepAlive(c.opts.KeepAlive); err != nil {
		c.log.warnf("unable to configure keep-alive: %v", err)
		return
	}
	if c.opts.KeepAlive && c.opts.KeepAliveInterval > 0 {
		if err := tcpConn.SetKeepAlivePeriod(c.opts.KeepAliveInterval); err != nil {
			c.log.warnf("unable to set keep-alive interval: %v", err)
		}
	}
}

// receiveLoop reads from conn until it fails. Each read replaces the contents
// of the inbound slot.
func (c *Connection) receiveLoop(conn net.Conn, stop <-chan struct{}) {
	defer c.workers.Done()
	defer c.recoverWorker("receive")

	buffer := make([]byte, c.opts.MTU)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			c.inbound.store(buffer[:n])
			c.metrics.addReceived(c.serverName, n)
		}
		if err == nil {
			continue
		}

		select {
		case <-stop:
			// Closed on our end.
			return
		default:
		}
		c.peerLost(err)
		return
	}
}

// peerLost handles a receive-side failure: a reconnection for this name is
// scheduled ahead of everything else and the socket is released, but the
// Server's table entry is kept so the next accepted socket can rebind it.
func (c *Connection) peerLost(err error) {
	name := c.Name()
	c.log.warnf("%s disconnected: %v", name, err)
	c.metrics.incPeersLost(c.serverName)

	if c.owner != nil {
		c.owner.recordEvent(EventPeerLost, c, err.Error())
		c.owner.requestReconnect(name)
	}
	c.shutdown(true)
}

// sendLoop transmits the outbound slot whenever it's populated. Failed writes
// are logged and dropped without stopping the loop.
func (c *Connection) sendLoop(conn net.Conn, stop <-chan struct{}) {
	defer c.workers.Done()
	defer c.recoverWorker("send")

	for {
		select {
		case <-stop:
			return
		case <-c.outbound.ready:
		}

		select {
		case <-stop:
			return
		default:
		}

		data, ok := c.outbound.take()
		if !ok {
			continue
		}

		if _, err := conn.Write(data); err != nil {
			c.log.warnf("send failed: %v", err)
			c.metrics.incSendErrors(c.serverName)
			continue
		}
		c.metrics.addSent(c.serverName, len(data))
		c.log.infof("send: %s", data)
	}
}

// recoverWorker handles a panicking worker as a lost peer.
func (c *Connection) recoverWorker(worker string) {
	if err := recover(); err != nil {
		c.log.errorf("%s worker for %s panicked: %v\n%s", worker, c.Name(), err, debug.Stack())
		c.peerLost(fmt.Errorf("%s worker panic: %v", worker, err))
	}
}

// closeConnection releases the socket and waits for both workers to exit.
func (c *Connection) closeConnection(reuse bool) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.shutdown(reuse)
	c.workers.Wait()
}

// shutdown disables both workers and closes the socket without waiting for
// the workers, which makes it safe to call from the receive worker itself.
// When reuse is false the connection is being retired, so unread and unsent
// data is discarded too.
func (c *Connection) shutdown(reuse bool) {
	c.mu.Lock()
	if !c.recvEnabled && !c.sendEnabled {
		c.mu.Unlock()
		return
	}
	c.recvEnabled = false
	c.sendEnabled = false
	close(c.stop)
	conn := c.conn
	c.mu.Unlock()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// The peer may already be gone, in which case these fail harmlessly.
		_ = tcpConn.CloseRead()
		_ = tcpConn.CloseWrite()
	}
	if err := conn.Close(); err != nil {
		c.log.debugf("error closing socket: %v", err)
	}

	if reuse {
		c.log.infof("connection closed, waiting for reconnect")
	} else {
		c.inbound.clear()
		c.outbound.clear()
		c.log.infof("connection closed")
	}
}

func (c *Connection) rename(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// decodeText converts a received payload to a string, substituting U+FFFD for
// invalid UTF-8 such as a character split by the MTU boundary.
func decodeText(data []byte) string {
	text, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(text)
}
