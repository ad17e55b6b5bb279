// Package rendezvous implements a TCP server that binds inbound connections to
// client names registered ahead of time.
//
// Callers queue accept intents naming the clients they expect. Because clients
// can't be told apart by their network identity, each accepted socket is
// bound to the oldest queued name. A client that drops is transparently
// rebound: its Connection stays in the table and a reconnection intent for it
// jumps to the front of the queue.
package rendezvous

import (
	"container/list"
	"fmt"
	"net"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBindAddress = "0.0.0.0"
	DefaultPort        = 43208
	// DefaultAcceptPollInterval is how long the accept loop idles between
	// checks of an empty intent queue.
	DefaultAcceptPollInterval = 100 * time.Millisecond
	// DefaultBacklog is the connection table size used until StartListening
	// sets one.
	DefaultBacklog = 1
)

// Config is the address a Server listens on.
type Config struct {
	BindAddress string
	Port        int
}

// DefaultConfig returns a Config for 0.0.0.0:43208.
func DefaultConfig() Config {
	return Config{BindAddress: DefaultBindAddress, Port: DefaultPort}
}

// Address returns the host:port form of the Config.
func (c Config) Address() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// AcceptIntent is a queued request to bind the next inbound connection to
// ClientName. OnConnected, if set, is called from the accept loop with the
// resulting Connection.
type AcceptIntent struct {
	ClientName  string
	OnConnected func(c *Connection)

	// reconnect marks intents queued for a lost peer rather than by a caller.
	reconnect bool
}

// Option configures a Server at creation time.
type Option func(*Server)

// WithLogger sets the logger that activity is mirrored to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the collectors the Server and its Connections update.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithJournal sets where connection lifecycle events are recorded.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithConnectionOptions sets the tunables applied to every accepted socket.
func WithConnectionOptions(opts ConnectionOptions) Option {
	return func(s *Server) { s.connOpts = opts }
}

// WithAcceptPollInterval sets how often the accept loop checks an empty queue.
func WithAcceptPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

// Server accepts inbound TCP connections and binds them, in order, to the
// client names queued with RegisterAcceptIntent.
type Server struct {
	name         string
	config       Config
	logger       logrus.FieldLogger
	log          *activityLog
	metrics      *Metrics
	journal      Journal
	connOpts     ConnectionOptions
	pollInterval time.Duration

	// lifecycle serializes binding, StartListening and Stop.
	lifecycle  sync.Mutex
	acceptLoop sync.WaitGroup

	// mu guards everything below, including the queue and the table. It's
	// never held across network calls or while waiting on workers.
	mu          sync.Mutex
	listener    *net.TCPListener
	initialized bool
	listening   bool
	backlog     int
	intents     *list.List
	connections map[string]*Connection
	stopAccept  chan struct{}
	// notifying is set while the accept worker runs an OnConnected callback.
	notifying bool
}

// Create returns the Server registered under name, creating and binding one
// on cfg if there is none. A Server that was stopped with retain set is bound
// again on the Config it was created with. Port 0 binds an ephemeral port;
// only ports outside 0-65535 are rejected. The returned error wraps ErrBind
// if the address can't be used.
func Create(name string, cfg Config, opts ...Option) (*Server, error) {
	s, existed, err := servers.getOrCreate(name, func() (*Server, error) {
		s := newServer(name, cfg, opts...)
		if err := s.bind(); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	if existed {
		if err := s.bind(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newServer(name string, cfg Config, opts ...Option) *Server {
	s := &Server{
		name:         name,
		config:       cfg,
		logger:       logrus.StandardLogger(),
		connOpts:     DefaultConnectionOptions(),
		pollInterval: DefaultAcceptPollInterval,
		backlog:      DefaultBacklog,
		intents:      list.New(),
		connections:  make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultAcceptPollInterval
	}

	s.logger = s.logger.WithField("server", name)
	s.log = newActivityLog(s.logger)
	return s
}

// bind opens the listening socket unless the Server already has one.
func (s *Server) bind() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if initialized {
		s.log.infof("%s is already created", s.name)
		return nil
	}

	if s.config.Port < 0 || s.config.Port > 65535 {
		s.log.warnf("%s create error: invalid port %d", s.name, s.config.Port)
		return fmt.Errorf("%w: invalid port %d", ErrBind, s.config.Port)
	}

	addr, err := net.ResolveTCPAddr("tcp", s.config.Address())
	if err != nil {
		s.log.warnf("%s create error: %v", s.name, err)
		return fmt.Errorf("%w: resolving %s: %v", ErrBind, s.config.Address(), err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		s.log.warnf("%s create error: %v", s.name, err)
		return fmt.Errorf("%w: listening on %s: %v", ErrBind, s.config.Address(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.initialized = true
	s.listening = false
	s.intents.Init()
	s.connections = make(map[string]*Connection)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.log.infof("%s bound to %s", s.name, listener.Addr())
	return nil
}

// Name returns the Server's registry name.
func (s *Server) Name() string { return s.name }

// Config returns the address configuration the Server was created with.
func (s *Server) Config() Config { return s.config }

// Log returns the Server's activity log.
func (s *Server) Log() string { return s.log.String() }

// Addr returns the address of the listening socket, or nil if the Server
// isn't bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	return s.listener.Addr()
}

// Listening reports whether the accept loop is running.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Backlog returns the maximum number of named connections the Server admits.
func (s *Server) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog
}

// StartListening starts the accept loop and sets the maximum number of named
// connections. It does nothing if the loop is already running, and returns
// false if the Server isn't bound.
func (s *Server) StartListening(backlog int) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		s.log.warnf("%s is not created", s.name)
		return false
	}
	if s.listening {
		s.mu.Unlock()
		return true
	}
	if backlog < 1 {
		backlog = DefaultBacklog
	}
	s.backlog = backlog
	s.listening = true
	s.stopAccept = make(chan struct{})
	listener, stop := s.listener, s.stopAccept
	s.mu.Unlock()

	s.acceptLoop.Add(1)
	go s.runAcceptLoop(listener, stop)
	return true
}

// RegisterAcceptIntent queues clientName to be bound to a future inbound
// connection. Nothing is queued if clientName is already waiting or the
// connection table is full; the return value reports whether it was queued.
func (s *Server) RegisterAcceptIntent(clientName string, onConnected func(c *Connection)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.log.warnf("%s is not created", s.name)
		return false
	}
	if s.findIntentLocked(clientName) != nil {
		return false
	}
	if len(s.connections) >= s.backlog {
		s.log.infof("client table full, %s not queued", clientName)
		return false
	}

	s.intents.PushBack(&AcceptIntent{ClientName: clientName, OnConnected: onConnected})
	s.updateGaugesLocked()
	return true
}

// PendingIntents returns the queued client names in the order they will be bound.
func (s *Server) PendingIntents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, s.intents.Len())
	for e := s.intents.Front(); e != nil; e = e.Next() {
		names = append(names, e.Value.(*AcceptIntent).ClientName)
	}
	return names
}

// Connection returns the connection registered under clientName.
func (s *Server) Connection(clientName string) (*Connection, bool) {
	s.mu.Lock()
	c, ok := s.connections[clientName]
	s.mu.Unlock()

	if !ok {
		s.log.infof("%s not exists", clientName)
	}
	return c, ok
}

// Names returns the names in the connection table, sorted.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.connections))
	for name := range s.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rename moves c to newName in the connection table. It returns false if c
// isn't in the table under its current name or newName belongs to another
// connection. A reconnection still queued for c follows it to the new name.
func (s *Server) Rename(c *Connection, newName string) bool {
	s.mu.Lock()
	oldName := c.Name()
	if current, ok := s.connections[oldName]; !ok || current != c {
		s.mu.Unlock()
		s.log.infof("%s not exists", oldName)
		return false
	}
	if other, ok := s.connections[newName]; ok && other != c {
		s.mu.Unlock()
		s.log.warnf("cannot rename %s: %s already exists", oldName, newName)
		return false
	}

	delete(s.connections, oldName)
	s.connections[newName] = c
	c.rename(newName)
	if intent := s.findIntentLocked(oldName); intent != nil {
		intent.ClientName = newName
	}
	s.mu.Unlock()

	s.log.infof("renamed %s to %s", oldName, newName)
	s.recordEvent(EventRenamed, c, oldName)
	return true
}

// Stop shuts down the accept loop, disconnects every connection and closes
// the listening socket. With retain set the Server stays registered and a
// later Create binds it again; otherwise it's removed from the registry.
//
// Stop may be called from an OnConnected callback. It then returns without
// waiting for the accept loop, which exits once the callback returns.
func (s *Server) Stop(retain bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		s.log.warnf("%s is not running", s.name)
		return
	}
	s.initialized = false
	s.listening = false
	if s.stopAccept != nil {
		close(s.stopAccept)
		s.stopAccept = nil
	}
	listener := s.listener
	fromCallback := s.notifying
	connections := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		connections = append(connections, c)
	}
	s.intents.Init()
	s.mu.Unlock()

	for _, c := range connections {
		c.Disconnect()
	}
	if err := listener.Close(); err != nil {
		s.log.debugf("error closing listener: %v", err)
	}
	if !fromCallback {
		s.acceptLoop.Wait()
	}

	s.mu.Lock()
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.log.infof("%s disconnect completed", s.name)

	if !retain {
		servers.remove(s.name, s)
	}
}

// runAcceptLoop binds inbound connections to queued intents until stop is
// closed or the listener fails.
func (s *Server) runAcceptLoop(listener *net.TCPListener, stop <-chan struct{}) {
	defer s.acceptLoop.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.log.infof("%s stopped listening", s.name)
			return
		default:
		}

		if s.pendingCount() == 0 {
			select {
			case <-stop:
			case <-ticker.C:
			}
			continue
		}

		s.log.debugf("%s listening on %s", s.name, listener.Addr())
		conn, err := listener.AcceptTCP()
		if err != nil {
			select {
			case <-stop:
				s.log.infof("%s stopped listening", s.name)
			default:
				s.mu.Lock()
				s.listening = false
				s.mu.Unlock()
				s.log.errorf("%s accept stopped: %v", s.name, err)
			}
			return
		}

		s.accept(conn)
	}
}

// accept binds conn to the intent at the front of the queue, rebinding the
// existing Connection if the name is already in the table.
func (s *Server) accept(conn *net.TCPConn) {
	s.mu.Lock()
	front := s.intents.Front()
	if !s.initialized || front == nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	intent := s.intents.Remove(front).(*AcceptIntent)
	c, reconnecting := s.connections[intent.ClientName]
	if !reconnecting {
		c = newConnection(s, s.name, s.connOpts, s.logger.WithField("client", intent.ClientName), s.metrics)
		s.connections[intent.ClientName] = c
	}
	full := len(s.connections) >= s.backlog
	s.updateGaugesLocked()
	s.mu.Unlock()

	c.bind(intent.ClientName, conn)

	// Disconnect or Stop may have run between releasing mu and the bind.
	if !s.holds(c) {
		c.closeConnection(false)
		return
	}

	if reconnecting {
		s.log.infof("%s reconnected", intent.ClientName)
		s.metrics.incReconnected(s.name)
		s.recordEvent(EventReconnected, c, "")
	} else {
		s.metrics.incAccepted(s.name)
		s.recordEvent(EventAccepted, c, "")
	}
	s.log.infof("accepted client %s from %s", intent.ClientName, conn.RemoteAddr())

	if intent.OnConnected != nil {
		s.notifyConnected(intent, c)
	}
	if full {
		s.log.infof("client table full")
	}
}

// notifyConnected runs the intent's callback, keeping a panic in caller code
// from taking down the accept loop.
func (s *Server) notifyConnected(intent *AcceptIntent, c *Connection) {
	s.mu.Lock()
	s.notifying = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.notifying = false
		s.mu.Unlock()

		if err := recover(); err != nil {
			s.log.errorf("on-connected callback for %s panicked: %v\n%s", intent.ClientName, err, debug.Stack())
		}
	}()
	intent.OnConnected(c)
}

// requestReconnect queues clientName ahead of every other intent. An intent
// already queued for the name is moved to the front rather than duplicated.
func (s *Server) requestReconnect(clientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return
	}

	intent := &AcceptIntent{ClientName: clientName, reconnect: true}
	for e := s.intents.Front(); e != nil; e = e.Next() {
		if queued := e.Value.(*AcceptIntent); queued.ClientName == clientName {
			intent = queued
			s.intents.Remove(e)
			break
		}
	}
	s.intents.PushFront(intent)
	s.updateGaugesLocked()
}

// removeConnection drops c from the table if it's still registered there.
func (s *Server) removeConnection(c *Connection) {
	name := c.Name()

	s.mu.Lock()
	current, ok := s.connections[name]
	if ok && current == c {
		delete(s.connections, name)
		s.dropReconnectLocked(name)
		s.updateGaugesLocked()
	}
	s.mu.Unlock()

	if ok && current == c {
		s.log.infof("%s removed", name)
		s.recordEvent(EventDisconnected, c, "")
	}
}

func (s *Server) recordEvent(kind EventKind, c *Connection, detail string) {
	if s.journal == nil {
		return
	}

	err := s.journal.Record(Event{
		Time:       time.Now(),
		Server:     s.name,
		Client:     c.Name(),
		Kind:       kind,
		RemoteAddr: c.RemoteAddr(),
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warnf("failed to record %s event for %s: %v", kind, c.Name(), err)
	}
}

// holds reports whether c is still in the table of a running Server.
func (s *Server) holds(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return false
	}
	for _, current := range s.connections {
		if current == c {
			return true
		}
	}
	return false
}

// dropReconnectLocked removes a reconnect intent queued for a lost peer.
// Intents registered by callers are left alone.
func (s *Server) dropReconnectLocked(clientName string) {
	for e := s.intents.Front(); e != nil; e = e.Next() {
		if intent := e.Value.(*AcceptIntent); intent.ClientName == clientName && intent.reconnect {
			s.intents.Remove(e)
			return
		}
	}
}

func (s *Server) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents.Len()
}

func (s *Server) findIntentLocked(clientName string) *AcceptIntent {
	for e := s.intents.Front(); e != nil; e = e.Next() {
		if intent := e.Value.(*AcceptIntent); intent.ClientName == clientName {
			return intent
		}
	}
	return nil
}

func (s *Server) updateGaugesLocked() {
	s.metrics.setTable(s.name, len(s.connections), s.intents.Len())
}
