package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnID identifies one transport session. Assigned at accept, never reused.
type ConnID string

// State is where a connection is in its presence lifecycle.
type State int

const (
	StateConnecting State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Identity is what a client declares about itself in authenticate.
type Identity struct {
	UserID   ID
	Username string
	Role     string
}

// Peer is the transport side of a connection.
//
// Both methods are called from the hub goroutine and must not block or call
// back into the relay synchronously.
type Peer interface {
	// Deliver queues one encoded envelope. It reports false if the frame
	// could not be queued, in which case the peer is expected to close itself.
	Deliver(frame []byte) bool
	// Close asks the transport to shut down. Teardown follows through the
	// normal disconnect path.
	Close(reason string)
}

// Connection is the registry record for one live transport session.
// Only the hub goroutine reads or writes it.
type Connection struct {
	ID              ConnID
	Identity        Identity
	State           State
	Privileged      bool
	ConnectedAt     time.Time
	AuthenticatedAt time.Time
	Rooms           map[string]struct{}

	peer Peer
}

// Authenticated reports whether the connection has declared an identity.
func (c *Connection) Authenticated() bool {
	return c.State == StateAuthenticated
}

// InRoom reports whether the connection is a member of room.
func (c *Connection) InRoom(room string) bool {
	_, ok := c.Rooms[room]
	return ok
}

// DuplicateSessionPolicy decides what happens to a connection whose userId is
// claimed by a newer connection.
type DuplicateSessionPolicy string

const (
	// DuplicateKeep leaves the older connection open and in its rooms; only
	// the registry mapping moves to the newer connection.
	DuplicateKeep DuplicateSessionPolicy = "keep"
	// DuplicateCycle closes the older connection.
	DuplicateCycle DuplicateSessionPolicy = "cycle"
)

// Options configure a Relay. Zero values fall back to package defaults.
type Options struct {
	AdminRoom        string
	PrivilegedRoles  []string
	DuplicateSession DuplicateSessionPolicy

	AllowedOrigins []string
	SendBuffer     int
	ReadLimit      int64
	PingPeriod     time.Duration
	WriteWait      time.Duration

	// Presence, when set, receives online/offline changes for mirroring.
	Presence PresenceStore
	// PresenceKey and PresenceChannel name the Redis hash and pub/sub channel.
	PresenceKey     string
	PresenceChannel string

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Relay wires the registry, room router, dispatcher and presence manager
// around one hub goroutine.
type Relay struct {
	opts       Options
	logger     *slog.Logger
	hub        *hub
	registry   *Registry
	router     *Router
	dispatcher *Dispatcher
	presence   *Presence
	mirror     *presenceMirror
	startedAt  time.Time
	now        func() time.Time

	// ctx is the parent of every client context; wg tracks live clients.
	ctx context.Context
	wg  sync.WaitGroup
}

type client struct {
	relay     *Relay
	id        ConnID
	conn      *websocket.Conn
	send      chan []byte
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}
