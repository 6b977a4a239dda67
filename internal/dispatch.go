package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var ErrRelayStopped = errors.New("relay stopped")

type handlerFunc func(d *Dispatcher, from ConnID, data json.RawMessage) error

// Dispatcher routes inbound envelopes to their event handler. It holds no
// state of its own beyond the routing table.
type Dispatcher struct {
	hub       *hub
	registry  *Registry
	router    *Router
	adminRoom string
	duplicate DuplicateSessionPolicy
	clock     func() time.Time
	logger    *slog.Logger
	handlers  map[string]handlerFunc

	// malformed frames are logged through this so one bad client cannot
	// flood the log.
	warnings rate.Sometimes
}

func newDispatcher(h *hub, registry *Registry, router *Router, opts Options, clock func() time.Time, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		hub:       h,
		registry:  registry,
		router:    router,
		adminRoom: opts.AdminRoom,
		duplicate: opts.DuplicateSession,
		clock:     clock,
		logger:    logger.With(slog.String("component", "dispatcher")),
		warnings:  rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	d.handlers = map[string]handlerFunc{
		EventAuthenticate:        handleAuthenticate,
		EventJoinRoom:            handleJoinRoom,
		EventLeaveRoom:           handleLeaveRoom,
		EventPrivateMessage:      handlePrivateMessage,
		EventNotification:        handleNotification,
		EventAdminAction:         handleAdminAction,
		EventProductUpdate:       handleProductUpdate,
		EventProductStatusChange: handleProductStatusChange,
		EventSendMessage:         handleSendMessage,
		EventMessagesRead:        handleMessagesRead,
		EventTyping:              handleTyping,
		EventAdminCreated:        adminListHandler("created"),
		EventAdminUpdated:        adminListHandler("updated"),
		EventAdminDeleted:        adminListHandler("deleted"),
	}
	return d
}

// Dispatch handles one frame received from a connection. Nothing is ever
// returned to the sender: bad frames, unknown events and offline targets all
// end here.
func (d *Dispatcher) Dispatch(from ConnID, frame []byte) {
	in, err := parseInbound(frame)
	if err != nil {
		d.warnings.Do(func() {
			d.logger.Warn("dropping malformed frame", slog.String("connID", string(from)), slog.Any("error", err))
		})
		return
	}

	handle, ok := d.handlers[in.Event]
	if !ok {
		d.logger.Debug("dropping unknown event", slog.String("connID", string(from)), slog.String("event", in.Event))
		return
	}

	if err := handle(d, from, in.Data); err != nil {
		level := slog.LevelDebug
		if errors.Is(err, ErrAlreadyAuthenticated) {
			level = slog.LevelWarn
		}
		d.logger.Log(context.Background(), level, "event dropped",
			slog.String("connID", string(from)),
			slog.String("event", in.Event),
			slog.Any("error", err))
	}
}

// within runs fn on the hub with the sender's live record. Events from a
// connection that has already been torn down are dropped.
func (d *Dispatcher) within(from ConnID, fn func(sender *Connection) error) error {
	var err error
	ok := d.hub.do(func() {
		sender, live := d.registry.Lookup(from)
		if !live {
			err = ErrUnknownConnection
			return
		}
		err = fn(sender)
	})
	if !ok {
		return ErrRelayStopped
	}
	return err
}

func (d *Dispatcher) timestamp() string {
	return formatTimestamp(d.clock())
}
