package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrReservedRoom is returned for join and leave requests naming a room whose
// membership the relay manages itself.
var ErrReservedRoom = errors.New("room membership is managed by the relay")

// clientRoom returns the ad hoc room named by id. Personal rooms and the admin
// room follow authentication and cannot be joined or left on request.
func (d *Dispatcher) clientRoom(id ID) (string, error) {
	room := id.String()
	if room == d.adminRoom || strings.HasPrefix(room, personalRoomPrefix) {
		return "", fmt.Errorf("%w: %s", ErrReservedRoom, room)
	}
	return room, nil
}

func requireID(field string, id ID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}

func handleAuthenticate(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[authenticatePayload](data, "userId", "username", "role")
	if err != nil {
		return err
	}
	if err := requireID("userId", p.UserID); err != nil {
		return err
	}

	var res AuthResult
	err = d.within(from, func(*Connection) error {
		var err error
		res, err = d.registry.Authenticate(from, Identity{
			UserID:   p.UserID,
			Username: p.Username,
			Role:     p.Role,
		}, d.clock())
		if err != nil {
			return err
		}

		c := res.Conn
		d.router.Join(from, PersonalRoom(c.Identity.UserID.String()))
		if c.Privileged {
			d.router.Join(from, d.adminRoom)
		}

		if res.Superseded != nil {
			// The admin room follows the role of the current session.
			if !c.Privileged {
				d.router.Leave(res.Superseded.ID, d.adminRoom)
			}
			if d.duplicate == DuplicateCycle {
				res.Superseded.peer.Close("session replaced by a newer connection")
			}
		}
		if res.Repeat {
			return nil
		}

		d.hub.emit(PresenceChange{Kind: PresenceOnline, User: infoOf(c)})
		if c.Privileged {
			d.router.DeliverToRoom(d.adminRoom, EventAdminUserConnected, presenceNotice{
				UserID:    c.Identity.UserID,
				Username:  c.Identity.Username,
				Role:      c.Identity.Role,
				Timestamp: d.timestamp(),
			}, from)
		}
		return nil
	})
	if err != nil {
		return err
	}

	attrs := []any{
		slog.String("connID", string(from)),
		slog.String("userID", p.UserID.String()),
		slog.String("role", p.Role),
	}
	if res.Superseded != nil {
		attrs = append(attrs,
			slog.String("superseded", string(res.Superseded.ID)),
			slog.String("policy", string(d.duplicate)))
	}
	if !res.Repeat {
		d.logger.Info("user authenticated", attrs...)
	}
	return nil
}

func handleJoinRoom(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[roomPayload](data, "roomId")
	if err != nil {
		return err
	}
	if err := requireID("roomId", p.RoomID); err != nil {
		return err
	}
	room, err := d.clientRoom(p.RoomID)
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		d.router.Join(from, room)
		return nil
	})
}

func handleLeaveRoom(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[roomPayload](data, "roomId")
	if err != nil {
		return err
	}
	if err := requireID("roomId", p.RoomID); err != nil {
		return err
	}
	room, err := d.clientRoom(p.RoomID)
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		d.router.Leave(from, room)
		return nil
	})
}

func handlePrivateMessage(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[privateMessagePayload](data, "recipientId", "message", "senderId")
	if err != nil {
		return err
	}
	if err := requireID("recipientId", p.RecipientID); err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		d.router.DeliverToRoom(PersonalRoom(p.RecipientID.String()), EventPrivateMessage, privateMessageOut{
			SenderID:  p.SenderID,
			Message:   p.Message,
			Timestamp: d.timestamp(),
		}, "")
		return nil
	})
}

func handleNotification(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[notificationPayload](data, "type", "message")
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		out := notificationOut{
			Type:      p.Type,
			Message:   p.Message,
			Data:      p.Data,
			Timestamp: d.timestamp(),
		}
		if present(p.RecipientID) {
			d.router.DeliverToRoom(PersonalRoom(p.RecipientID.String()), EventNotification, out, "")
			return nil
		}
		d.router.BroadcastExceptSender(from, EventNotification, out)
		return nil
	})
}

func handleAdminAction(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[adminActionPayload](data, "type")
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		ts := d.timestamp()
		full, err := stamp(data, ts)
		if err != nil {
			return err
		}
		d.router.DeliverToRoom(d.adminRoom, EventAdminAction, full, "")
		if present(p.TargetUserID) {
			d.router.DeliverToRoom(PersonalRoom(p.TargetUserID.String()), EventAdminNotification, notificationOut{
				Type:      p.Type,
				Message:   adminNotice(p.Type),
				Data:      p.Data,
				Timestamp: ts,
			}, "")
		}
		return nil
	})
}

func handleProductUpdate(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[productUpdatePayload](data, "type", "productId")
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		ts := d.timestamp()
		full, err := stamp(data, ts)
		if err != nil {
			return err
		}
		d.router.DeliverToRoom(d.adminRoom, EventProductUpdate, full, "")
		if present(p.UserID) {
			d.router.DeliverToRoom(PersonalRoom(p.UserID.String()), EventProductNotification, productNotificationOut{
				Type:      p.Type,
				ProductID: p.ProductID,
				Message:   productNotice(p.Type),
				Data:      p.Data,
				Timestamp: ts,
			}, "")
		}
		return nil
	})
}

func handleProductStatusChange(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[productStatusChangePayload](data,
		"conversation_id", "product_id", "product_name", "status", "changed_by")
	if err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		full, err := stamp(data, d.timestamp())
		if err != nil {
			return err
		}
		if present(p.OtherUserID) {
			d.router.DeliverToRoom(PersonalRoom(p.OtherUserID.String()), EventProductStatusChanged, full, "")
		}
		d.router.DeliverToRoom(d.adminRoom, EventProductStatusUpdate, full, "")
		return nil
	})
}

func handleSendMessage(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[sendMessagePayload](data,
		"recipient_id", "conversation_id", "message_text", "sender_name", "sender_id")
	if err != nil {
		return err
	}
	if err := requireID("recipient_id", p.RecipientID); err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		full, err := stamp(data, d.timestamp())
		if err != nil {
			return err
		}
		d.router.DeliverToRoom(PersonalRoom(p.RecipientID.String()), EventNewMessage, full, "")
		return nil
	})
}

func handleMessagesRead(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[messagesReadPayload](data, "conversation_id", "reader_id")
	if err != nil {
		return err
	}
	if !present(p.OtherUserID) {
		return nil
	}
	return d.within(from, func(*Connection) error {
		d.router.DeliverToRoom(PersonalRoom(p.OtherUserID.String()), EventMessagesRead, messagesReadOut{
			ConversationID: p.ConversationID,
			ReaderID:       p.ReaderID,
			Timestamp:      d.timestamp(),
		}, "")
		return nil
	})
}

func handleTyping(d *Dispatcher, from ConnID, data json.RawMessage) error {
	p, err := decode[typingPayload](data, "conversation_id", "user_id", "typing")
	if err != nil {
		return err
	}
	if err := requireID("conversation_id", p.ConversationID); err != nil {
		return err
	}
	return d.within(from, func(*Connection) error {
		full, err := stamp(data, d.timestamp())
		if err != nil {
			return err
		}
		d.router.DeliverToRoom(ConversationRoom(p.ConversationID.String()), EventUserTyping, full, from)
		return nil
	})
}

// adminListHandler forwards admin account changes to the admin room so open
// admin panels can refresh their lists.
func adminListHandler(kind string) handlerFunc {
	return func(d *Dispatcher, from ConnID, data json.RawMessage) error {
		if len(data) == 0 || gjson.ParseBytes(data).Type == gjson.Null {
			return fmt.Errorf("%w: admin record", ErrMissingField)
		}
		return d.within(from, func(*Connection) error {
			d.router.DeliverToRoom(d.adminRoom, EventAdminListUpdate, adminListUpdateOut{
				Type:      kind,
				Data:      data,
				Timestamp: d.timestamp(),
			}, "")
			return nil
		})
	}
}
