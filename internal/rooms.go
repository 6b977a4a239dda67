package internal

import (
	"encoding/json"
	"log/slog"
)

// Router keeps room membership and performs targeted and broadcast delivery.
// Like Registry, it is owned by the hub goroutine.
type Router struct {
	registry *Registry
	members  map[string]map[ConnID]*Connection
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		members:  make(map[string]map[ConnID]*Connection),
		logger:   logger.With(slog.String("component", "room_router")),
	}
}

// Join adds a live connection to room. It reports false if the connection is
// unknown or already a member.
func (rt *Router) Join(id ConnID, room string) bool {
	c, ok := rt.registry.Lookup(id)
	if !ok || c.InRoom(room) {
		return false
	}
	c.Rooms[room] = struct{}{}
	m := rt.members[room]
	if m == nil {
		m = make(map[ConnID]*Connection)
		rt.members[room] = m
	}
	m[id] = c
	rt.logger.Debug("joined room", slog.String("connID", string(id)), slog.String("room", room))
	return true
}

// Leave removes a connection from room. It reports false if it was not a member.
func (rt *Router) Leave(id ConnID, room string) bool {
	c, ok := rt.registry.Lookup(id)
	if !ok {
		return false
	}
	return rt.leave(c, room)
}

func (rt *Router) leave(c *Connection, room string) bool {
	if !c.InRoom(room) {
		return false
	}
	delete(c.Rooms, room)
	if m := rt.members[room]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(rt.members, room)
		}
	}
	rt.logger.Debug("left room", slog.String("connID", string(c.ID)), slog.String("room", room))
	return true
}

// LeaveAll drops c from every room it joined. It works on connections that
// have already been unregistered.
func (rt *Router) LeaveAll(c *Connection) {
	for room := range c.Rooms {
		rt.leave(c, room)
	}
}

// memberIDs returns the ids of the current members of room.
func (rt *Router) memberIDs(room string) []ConnID {
	m := rt.members[room]
	ids := make([]ConnID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// roomCount is the number of non-empty rooms.
func (rt *Router) roomCount() int {
	return len(rt.members)
}

// DeliverToRoom sends an event to every member of room except exclude, and
// returns how many members it reached.
func (rt *Router) DeliverToRoom(room, event string, payload any, exclude ConnID) int {
	m := rt.members[room]
	if len(m) == 0 {
		rt.logger.Debug("no members in room", slog.String("room", room), slog.String("event", event))
		return 0
	}
	frame, ok := rt.encode(event, payload)
	if !ok {
		return 0
	}
	n := 0
	for id, c := range m {
		if id == exclude {
			continue
		}
		if c.peer.Deliver(frame) {
			n++
		}
	}
	return n
}

// DeliverToConnection sends an event to one connection. Offline targets are
// not an error.
func (rt *Router) DeliverToConnection(id ConnID, event string, payload any) bool {
	c, ok := rt.registry.Lookup(id)
	if !ok {
		rt.logger.Debug("target offline", slog.String("connID", string(id)), slog.String("event", event))
		return false
	}
	frame, ok := rt.encode(event, payload)
	if !ok {
		return false
	}
	return c.peer.Deliver(frame)
}

// BroadcastExceptSender sends an event to every live connection but sender.
func (rt *Router) BroadcastExceptSender(sender ConnID, event string, payload any) int {
	frame, ok := rt.encode(event, payload)
	if !ok {
		return 0
	}
	n := 0
	rt.registry.Each(func(c *Connection) {
		if c.ID == sender {
			return
		}
		if c.peer.Deliver(frame) {
			n++
		}
	})
	return n
}

func (rt *Router) encode(event string, payload any) ([]byte, bool) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		rt.logger.Error("failed to encode envelope", slog.String("event", event), slog.Any("error", err))
		return nil, false
	}
	return frame, true
}
