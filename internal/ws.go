package internal

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/coder/websocket"
)

// ServeWS upgrades to WS and registers the connection as unauthenticated.
// Also starts RW pumps per client.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, r.acceptOptions())
	if err != nil {
		r.logger.Warn("websocket accept failed",
			slog.String("remoteAddr", req.RemoteAddr),
			slog.String("origin", req.Header.Get("Origin")),
			slog.Any("error", err))
		return
	}
	conn.SetReadLimit(r.opts.ReadLimit)

	id := NewConnID()
	ctx, cancel := context.WithCancel(r.ctx)
	c := &client{
		relay:  r,
		id:     id,
		conn:   conn,
		send:   make(chan []byte, r.opts.SendBuffer),
		logger: r.logger.With(slog.String("connID", string(id))),
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(1)
	if !r.presence.Connect(id, c) {
		c.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	c.logger.Info("connection accepted", slog.String("remoteAddr", req.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

func (r *Relay) acceptOptions() *websocket.AcceptOptions {
	if slices.Contains(r.opts.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	// An empty list leaves coder/websocket's same-host check in place.
	return &websocket.AcceptOptions{OriginPatterns: originPatterns(r.opts.AllowedOrigins)}
}

// originPatterns turns configured origins such as "https://shop.example.com"
// into the host patterns coder/websocket matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				o = u.Host
			}
		}
		patterns = append(patterns, o)
	}
	return patterns
}
