package rendezvous

import "time"

// EventKind identifies a connection lifecycle transition.
type EventKind string

const (
	EventAccepted     EventKind = "accepted"
	EventReconnected  EventKind = "reconnected"
	EventPeerLost     EventKind = "peer_lost"
	EventDisconnected EventKind = "disconnected"
	EventRenamed      EventKind = "renamed"
)

// Event describes a single lifecycle transition of a named connection.
type Event struct {
	Time       time.Time
	Server     string
	Client     string
	Kind       EventKind
	RemoteAddr string
	// Detail carries kind-specific information, e.g. the previous name for
	// EventRenamed.
	Detail string
}

// Journal receives lifecycle events from a Server. Implementations are
// called from the Server's workers and must be safe for concurrent use.
// Errors are logged and otherwise ignored.
type Journal interface {
	Record(e Event) error
}
