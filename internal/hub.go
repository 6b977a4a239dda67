package internal

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
)

// hub is the single owner of registry and room state. Every mutation, and
// every delivery that reads membership, runs as an op on its goroutine.
type hub struct {
	ops      chan func()
	stopped  chan struct{}
	registry *Registry
	logger   *slog.Logger

	snapshot  atomic.Pointer[Snapshot]
	published uint64

	// changes feeds the presence mirror; nil when mirroring is off.
	changes chan PresenceChange
}

func newHub(registry *Registry, logger *slog.Logger) *hub {
	h := &hub{
		ops:      make(chan func()),
		stopped:  make(chan struct{}),
		registry: registry,
		logger:   logger.With(slog.String("component", "hub")),
	}
	h.publish()
	return h
}

// run processes ops until ctx is done.
func (h *hub) run(ctx context.Context) {
	defer close(h.stopped)
	h.logger.Debug("hub started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("hub stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

// do runs fn on the hub goroutine and waits for it, including the snapshot
// republish that follows a registry change. It reports false if the hub has
// stopped. fn must not call do.
func (h *hub) do(fn func()) bool {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
		if h.registry.version != h.published {
			h.publish()
		}
	}
	select {
	case h.ops <- op:
	case <-h.stopped:
		return false
	}
	<-done
	return true
}

func (h *hub) publish() {
	s := h.registry.Snapshot()
	h.snapshot.Store(&s)
	h.published = h.registry.version
}

// current returns a copy of the last published snapshot without touching the
// hub.
func (h *hub) current() Snapshot {
	s := *h.snapshot.Load()
	s.Users = slices.Clone(s.Users)
	s.Admins = slices.Clone(s.Admins)
	return s
}

// emit hands a presence change to the mirror without blocking.
func (h *hub) emit(change PresenceChange) {
	if h.changes == nil {
		return
	}
	select {
	case h.changes <- change:
	default:
		h.logger.Warn("presence mirror behind, dropping change",
			slog.String("userID", change.User.UserID.String()),
			slog.String("kind", string(change.Kind)))
	}
}
