package internal

import (
	"context"
	"log/slog"
	"time"
)

// NewRelay builds a relay. Nothing runs until Start.
func NewRelay(opts Options, logger *slog.Logger) *Relay {
	opts = opts.withDefaults()
	logger = logger.With(slog.String("component", "relay"))

	registry := NewRegistry(opts.PrivilegedRoles)
	h := newHub(registry, logger)
	router := NewRouter(registry, logger)

	r := &Relay{
		opts:      opts,
		logger:    logger,
		hub:       h,
		registry:  registry,
		router:    router,
		startedAt: opts.Now(),
		now:       opts.Now,
		ctx:       context.Background(),
	}
	r.dispatcher = newDispatcher(h, registry, router, opts, opts.Now, logger)
	r.presence = &Presence{
		hub:       h,
		registry:  registry,
		router:    router,
		adminRoom: opts.AdminRoom,
		clock:     opts.Now,
		logger:    logger.With(slog.String("component", "presence")),
	}

	if opts.Presence != nil {
		h.changes = make(chan PresenceChange, presenceChangesBuffer)
		r.mirror = &presenceMirror{
			store:   opts.Presence,
			key:     opts.PresenceKey,
			channel: opts.PresenceChannel,
			changes: h.changes,
			timeout: opts.WriteWait,
			clock:   opts.Now,
			logger:  logger.With(slog.String("component", "presence_mirror")),
		}
	}
	return r
}

func (o Options) withDefaults() Options {
	if o.AdminRoom == "" {
		o.AdminRoom = defaultAdminRoom
	}
	if o.PrivilegedRoles == nil {
		o.PrivilegedRoles = DefaultPrivilegedRoles
	}
	if o.DuplicateSession == "" {
		o.DuplicateSession = DuplicateKeep
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = bufSize
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = readLimit
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = pingPeriod
	}
	if o.WriteWait <= 0 {
		o.WriteWait = writeWait
	}
	if o.PresenceKey == "" {
		o.PresenceKey = "relay:presence"
	}
	if o.PresenceChannel == "" {
		o.PresenceChannel = "relay:presence:events"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Start launches the hub loop and, when configured, the presence mirror.
// Both stop when ctx is done.
func (r *Relay) Start(ctx context.Context) {
	r.ctx = ctx
	go r.hub.run(ctx)
	if r.mirror != nil {
		go r.mirror.run(ctx)
	}
	r.logger.Info("relay started",
		slog.String("adminRoom", r.opts.AdminRoom),
		slog.Any("privilegedRoles", r.opts.PrivilegedRoles),
		slog.String("duplicateSession", string(r.opts.DuplicateSession)),
		slog.Bool("presenceMirror", r.mirror != nil))
}

// Connect registers a transport that has just been accepted and returns its
// connection id, or "" if the relay has stopped.
func (r *Relay) Connect(peer Peer) ConnID {
	id := NewConnID()
	if !r.presence.Connect(id, peer) {
		return ""
	}
	return id
}

// Dispatch handles one inbound frame from a connection.
func (r *Relay) Dispatch(id ConnID, frame []byte) {
	r.dispatcher.Dispatch(id, frame)
}

// Disconnect runs presence teardown for id. Safe to call more than once.
func (r *Relay) Disconnect(id ConnID) bool {
	return r.presence.Disconnect(id)
}

// Snapshot returns the last published registry snapshot. It never waits on
// event dispatch.
func (r *Relay) Snapshot() Snapshot {
	return r.hub.current()
}

// Uptime is how long the relay has been running.
func (r *Relay) Uptime() time.Duration {
	return r.now().Sub(r.startedAt)
}

// Shutdown asks every live connection to close and waits for their
// teardown, or for ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	var peers []Peer
	r.hub.do(func() {
		r.registry.Each(func(c *Connection) {
			peers = append(peers, c.peer)
		})
	})
	r.logger.Info("closing connections", slog.Int("count", len(peers)))
	for _, p := range peers {
		p.Close("server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
