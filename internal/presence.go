package internal

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PresenceKind is the direction of a presence change.
type PresenceKind string

const (
	PresenceOnline  PresenceKind = "online"
	PresenceOffline PresenceKind = "offline"
)

// PresenceChange is emitted when a userId becomes reachable or unreachable.
type PresenceChange struct {
	Kind PresenceKind
	User UserInfo
}

// Presence owns the connect and disconnect transitions.
type Presence struct {
	hub       *hub
	registry  *Registry
	router    *Router
	adminRoom string
	clock     func() time.Time
	logger    *slog.Logger
}

// NewConnID returns a fresh connection id.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Connect registers a freshly accepted transport as an unauthenticated
// connection. It reports false if the relay has stopped.
func (p *Presence) Connect(id ConnID, peer Peer) bool {
	ok := p.hub.do(func() {
		p.registry.Register(id, peer, p.clock())
	})
	if ok {
		p.logger.Debug("connection registered", slog.String("connID", string(id)))
	}
	return ok
}

// Disconnect tears down a connection: registry entry, every room, and the
// admin-room notice when a privileged user goes offline. Calling it again for
// the same id does nothing and reports false.
func (p *Presence) Disconnect(id ConnID) bool {
	var gone Identity
	var found, privileged, current bool
	p.hub.do(func() {
		c, ok := p.registry.Lookup(id)
		if !ok {
			return
		}
		found, privileged = true, c.Privileged
		gone = c.Identity
		current = p.registry.IsCurrent(c)

		p.registry.Unregister(id)
		p.router.LeaveAll(c)

		if current {
			p.hub.emit(PresenceChange{Kind: PresenceOffline, User: infoOf(c)})
		}
		// A superseded session leaving does not take its user offline.
		if privileged && current {
			p.router.DeliverToRoom(p.adminRoom, EventAdminUserDisconnected, presenceNotice{
				UserID:    gone.UserID,
				Username:  gone.Username,
				Role:      gone.Role,
				Timestamp: formatTimestamp(p.clock()),
			}, id)
		}
	})
	if !found {
		return false
	}
	p.logger.Info("connection closed",
		slog.String("connID", string(id)),
		slog.String("userID", gone.UserID.String()),
		slog.Bool("privileged", privileged),
		slog.Bool("superseded", !gone.UserID.IsZero() && !current))
	return true
}
