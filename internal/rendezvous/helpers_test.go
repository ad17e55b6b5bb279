package rendezvous

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var serverCount int64

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestServer creates a uniquely named Server on an ephemeral loopback port
// that is torn down when the test ends.
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	name := fmt.Sprintf("%s-%d", t.Name(), atomic.AddInt64(&serverCount, 1))
	opts = append([]Option{
		WithLogger(newTestLogger()),
		WithAcceptPollInterval(5 * time.Millisecond),
	}, opts...)

	s, err := Create(name, Config{BindAddress: "127.0.0.1", Port: 0}, opts...)
	if err != nil {
		t.Fatalf("error creating test server: %v", err)
	}
	t.Cleanup(func() { s.Stop(false) })
	return s
}

// dial connects to s as if from a remote client.
func dial(t *testing.T, s *Server) *net.TCPConn {
	t.Helper()

	conn, err := net.DialTCP("tcp", nil, s.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("error connecting to test server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// newSocketPair returns both ends of a loopback TCP connection.
func newSocketPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	defer listener.Close()

	client, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("error initializing test connection: %v", err)
	}
	server, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitForConnection waits until name is bound to a live socket on s.
func waitForConnection(t *testing.T, s *Server, name string) *Connection {
	t.Helper()

	var c *Connection
	waitFor(t, name+" to connect", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		var ok bool
		c, ok = s.connections[name]
		return ok && c.Receiving()
	})
	return c
}

// receiveText polls c until a message arrives.
func receiveText(t *testing.T, c *Connection) string {
	t.Helper()

	var text string
	waitFor(t, "inbound message", func() bool {
		received := false
		c.ConsumeInbound(func(s string) {
			text = s
			received = true
		})
		return received
	})
	return text
}

type fakeOwner struct {
	mu         sync.Mutex
	reconnects []string
	removed    []string
	events     []EventKind
}

func (o *fakeOwner) requestReconnect(clientName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects = append(o.reconnects, clientName)
}

func (o *fakeOwner) removeConnection(c *Connection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, c.Name())
}

func (o *fakeOwner) recordEvent(kind EventKind, c *Connection, detail string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, kind)
}

func (o *fakeOwner) reconnectRequests() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.reconnects...)
}

type memoryJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *memoryJournal) Record(e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *memoryJournal) kinds() []EventKind {
	j.mu.Lock()
	defer j.mu.Unlock()

	var kinds []EventKind
	for _, e := range j.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func logContains(log, line string) bool {
	return strings.Contains(log, line)
}
