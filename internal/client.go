package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Deliver queues a frame for the write pump. A client whose buffer is full
// is too slow to keep up and gets evicted.
func (c *client) Deliver(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send buffer full, evicting client")
		go c.close(websocket.StatusPolicyViolation, "send buffer full")
		return false
	}
}

// Close is called from the hub and must not block.
func (c *client) Close(reason string) {
	go c.close(websocket.StatusGoingAway, reason)
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.relay.presence.Disconnect(c.id)
		_ = c.conn.Close(code, reason)
		c.logger.Debug("transport closed", slog.String("reason", reason))
		c.relay.wg.Done()
	})
}

// readPump hands every frame from one client to the dispatcher, in order.
func (c *client) readPump() {
	defer c.close(websocket.StatusNormalClosure, "read loop closed")

	for {
		_, payload, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		c.relay.dispatcher.Dispatch(c.id, payload)
	}
}

// writePump sends outbound frames to the client's ws conn.
// Ticker is used for pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.relay.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close(websocket.StatusNormalClosure, "write loop closed")
	}()

	wait := c.relay.opts.WriteWait
	for {
		select {
		case <-c.ctx.Done():
			return

		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, wait)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.logger.Debug("write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, wait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("ping failed", slog.Any("error", err))
				return
			}
		}
	}
}
