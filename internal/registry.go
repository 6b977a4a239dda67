package internal

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated as another user")
	ErrEmptyUserID          = errors.New("empty user id")
)

// Registry maps transport connections to declared identities and back.
// It is not safe for concurrent use; the hub goroutine owns it.
type Registry struct {
	conns      map[ConnID]*Connection
	byUser     map[string]*Connection
	admins     map[string]*Connection
	privileged map[string]bool

	// version moves on every change so the hub knows when to republish
	// its snapshot.
	version uint64
}

func NewRegistry(privilegedRoles []string) *Registry {
	roles := make(map[string]bool, len(privilegedRoles))
	for _, r := range privilegedRoles {
		roles[r] = true
	}
	return &Registry{
		conns:      make(map[ConnID]*Connection),
		byUser:     make(map[string]*Connection),
		admins:     make(map[string]*Connection),
		privileged: roles,
	}
}

// IsPrivileged reports whether role grants admin-room membership.
func (r *Registry) IsPrivileged(role string) bool {
	return r.privileged[role]
}

// Register creates an unauthenticated record for a freshly accepted connection.
func (r *Registry) Register(id ConnID, peer Peer, now time.Time) *Connection {
	c := &Connection{
		ID:          id,
		State:       StateUnauthenticated,
		ConnectedAt: now,
		Rooms:       make(map[string]struct{}),
		peer:        peer,
	}
	r.conns[id] = c
	r.version++
	return c
}

// AuthResult describes the outcome of Authenticate.
type AuthResult struct {
	Conn *Connection
	// Superseded is the connection that held the userId mapping before, if
	// it was a different connection.
	Superseded *Connection
	// Repeat is true when the connection was already authenticated as the
	// same user.
	Repeat bool
}

// Authenticate attaches an identity to a registered connection and makes it
// the current connection for that userId.
func (r *Registry) Authenticate(id ConnID, ident Identity, now time.Time) (AuthResult, error) {
	c, ok := r.conns[id]
	if !ok {
		return AuthResult{}, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	userID := ident.UserID.String()
	if userID == "" {
		return AuthResult{}, ErrEmptyUserID
	}

	res := AuthResult{Conn: c}
	if c.Authenticated() {
		if c.Identity.UserID.String() != userID {
			return AuthResult{}, fmt.Errorf("%w: %s is %s", ErrAlreadyAuthenticated, id, c.Identity.UserID)
		}
		res.Repeat = true
		// Identity fields are immutable once set; only the index is refreshed.
		ident = c.Identity
	}

	if prev, ok := r.byUser[userID]; ok && prev != c {
		res.Superseded = prev
	}

	c.Identity = ident
	c.Privileged = r.privileged[ident.Role]
	if !res.Repeat {
		c.State = StateAuthenticated
		c.AuthenticatedAt = now
	}

	r.byUser[userID] = c
	if c.Privileged {
		r.admins[userID] = c
	} else {
		delete(r.admins, userID)
	}
	r.version++
	return res, nil
}

// Unregister removes a connection. The userId mapping is only cleared when it
// still points at this connection, so a stale disconnect of an older session
// cannot evict a newer one.
func (r *Registry) Unregister(id ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)

	if c.Authenticated() {
		userID := c.Identity.UserID.String()
		if r.byUser[userID] == c {
			delete(r.byUser, userID)
		}
		if r.admins[userID] == c {
			delete(r.admins, userID)
		}
	}
	c.State = StateClosed
	r.version++
	return c, true
}

// Lookup returns the live connection with the given id.
func (r *Registry) Lookup(id ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// current returns the connection currently mapped to userID.
func (r *Registry) current(userID string) (*Connection, bool) {
	c, ok := r.byUser[userID]
	return c, ok
}

// IsCurrent reports whether c is the connection mapped to its userId.
func (r *Registry) IsCurrent(c *Connection) bool {
	if !c.Authenticated() {
		return false
	}
	return r.byUser[c.Identity.UserID.String()] == c
}

// size is the number of live connections, authenticated or not.
func (r *Registry) size() int {
	return len(r.conns)
}

// Each calls fn for every live connection.
func (r *Registry) Each(fn func(*Connection)) {
	for _, c := range r.conns {
		fn(c)
	}
}

// UserInfo is the public view of an authenticated connection.
type UserInfo struct {
	UserID      ID
	Username    string
	Role        string
	ConnectedAt time.Time
}

func infoOf(c *Connection) UserInfo {
	return UserInfo{
		UserID:      c.Identity.UserID,
		Username:    c.Identity.Username,
		Role:        c.Identity.Role,
		ConnectedAt: c.AuthenticatedAt,
	}
}

// Snapshot is a point-in-time copy of the registry. It shares no memory with
// the registry.
type Snapshot struct {
	Users       []UserInfo
	Admins      []UserInfo
	Connections int
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Users:       make([]UserInfo, 0, len(r.byUser)),
		Admins:      make([]UserInfo, 0, len(r.admins)),
		Connections: len(r.conns),
	}
	for _, c := range r.byUser {
		s.Users = append(s.Users, infoOf(c))
	}
	for _, c := range r.admins {
		s.Admins = append(s.Admins, infoOf(c))
	}
	slices.SortFunc(s.Users, compareInfo)
	slices.SortFunc(s.Admins, compareInfo)
	return s
}

func compareInfo(a, b UserInfo) int {
	if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
		return c
	}
	return strings.Compare(a.UserID.String(), b.UserID.String())
}
