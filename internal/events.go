package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Inbound event names.
const (
	EventAuthenticate        = "authenticate"
	EventJoinRoom            = "join_room"
	EventLeaveRoom           = "leave_room"
	EventPrivateMessage      = "private_message"
	EventNotification        = "notification"
	EventAdminAction         = "admin_action"
	EventProductUpdate       = "product_update"
	EventProductStatusChange = "product_status_change"
	EventSendMessage         = "send_message"
	EventMessagesRead        = "messages_read"
	EventTyping              = "typing"
	EventAdminCreated        = "admin_created"
	EventAdminUpdated        = "admin_updated"
	EventAdminDeleted        = "admin_deleted"
)

// Outbound event names that differ from their inbound trigger.
const (
	EventAdminUserConnected    = "admin_user_connected"
	EventAdminUserDisconnected = "admin_user_disconnected"
	EventAdminNotification     = "admin_notification"
	EventProductNotification   = "product_notification"
	EventProductStatusChanged  = "product_status_changed"
	EventProductStatusUpdate   = "product_status_update"
	EventNewMessage            = "new_message"
	EventUserTyping            = "user_typing"
	EventAdminListUpdate       = "admin_list_update"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidID         = errors.New("identifier must be a string or number")
)

// ID is a user, conversation, product or room identifier. Clients send these
// as JSON numbers or strings; the original form is echoed back on output.
type ID struct {
	raw string
}

func (id ID) String() string {
	if id.raw == "" {
		return ""
	}
	return gjson.Parse(id.raw).String()
}

// IsZero reports whether the id is absent, null or an empty string.
func (id ID) IsZero() bool {
	return id.String() == ""
}

func (id *ID) UnmarshalJSON(b []byte) error {
	res := gjson.ParseBytes(b)
	switch res.Type {
	case gjson.Null:
		id.raw = ""
		return nil
	case gjson.String, gjson.Number:
		id.raw = strings.TrimSpace(string(b))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidID, b)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == "" {
		return []byte("null"), nil
	}
	return []byte(id.raw), nil
}

// present reports whether an optional id was supplied with a usable value.
func present(id *ID) bool {
	return id != nil && !id.IsZero()
}

// Inbound is one decoded client frame.
type Inbound struct {
	Event string
	Data  json.RawMessage
}

// Envelope is the outbound wire form.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// parseInbound extracts the event name and payload from a raw frame.
func parseInbound(frame []byte) (Inbound, error) {
	if !gjson.ValidBytes(frame) {
		return Inbound{}, fmt.Errorf("%w: invalid json", ErrMalformedEnvelope)
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Inbound{}, fmt.Errorf("%w: not an object", ErrMalformedEnvelope)
	}
	event := root.Get("event")
	if event.Type != gjson.String || event.Str == "" {
		return Inbound{}, fmt.Errorf("%w: missing event name", ErrMalformedEnvelope)
	}
	in := Inbound{Event: event.Str}
	if data := root.Get("data"); data.Exists() {
		in.Data = json.RawMessage(data.Raw)
	}
	return in, nil
}

// decode checks that every required field is present and non-null, then
// unmarshals the payload into T.
func decode[T any](data json.RawMessage, required ...string) (T, error) {
	var v T
	if len(data) == 0 || !gjson.ParseBytes(data).IsObject() {
		return v, fmt.Errorf("%w: payload must be an object", ErrMalformedEnvelope)
	}
	for _, field := range required {
		res := gjson.GetBytes(data, field)
		if !res.Exists() || res.Type == gjson.Null {
			return v, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return v, nil
}

// stamp decodes a payload object and adds the server timestamp to it.
func stamp(data json.RawMessage, ts string) (map[string]any, error) {
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	out["timestamp"] = ts
	return out, nil
}

type authenticatePayload struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type roomPayload struct {
	RoomID ID `json:"roomId"`
}

type privateMessagePayload struct {
	RecipientID ID     `json:"recipientId"`
	Message     string `json:"message"`
	SenderID    ID     `json:"senderId"`
}

type notificationPayload struct {
	Type        string          `json:"type"`
	Message     string          `json:"message"`
	RecipientID *ID             `json:"recipientId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type adminActionPayload struct {
	Type         string          `json:"type"`
	TargetUserID *ID             `json:"targetUserId,omitempty"`
	AdminID      *ID             `json:"adminId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type productUpdatePayload struct {
	Type      string          `json:"type"`
	ProductID ID              `json:"productId"`
	UserID    *ID             `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type productStatusChangePayload struct {
	ConversationID ID  `json:"conversation_id"`
	ProductID      ID  `json:"product_id"`
	ProductName    any `json:"product_name"`
	Status         any `json:"status"`
	ChangedBy      ID  `json:"changed_by"`
	OtherUserID    *ID `json:"other_user_id,omitempty"`
}

type sendMessagePayload struct {
	RecipientID    ID  `json:"recipient_id"`
	ConversationID ID  `json:"conversation_id"`
	MessageText    any `json:"message_text"`
	SenderName     any `json:"sender_name"`
	SenderID       ID  `json:"sender_id"`
}

type messagesReadPayload struct {
	ConversationID ID  `json:"conversation_id"`
	ReaderID       ID  `json:"reader_id"`
	OtherUserID    *ID `json:"other_user_id,omitempty"`
}

type typingPayload struct {
	ConversationID ID   `json:"conversation_id"`
	UserID         ID   `json:"user_id"`
	Typing         bool `json:"typing"`
}

// Outbound payload shapes with fixed fields.

type presenceNotice struct {
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
}

type privateMessageOut struct {
	SenderID  ID     `json:"senderId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type notificationOut struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type productNotificationOut struct {
	Type      string          `json:"type"`
	ProductID ID              `json:"productId"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type messagesReadOut struct {
	ConversationID ID     `json:"conversation_id"`
	ReaderID       ID     `json:"reader_id"`
	Timestamp      string `json:"timestamp"`
}

type adminListUpdateOut struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// adminNotice is the message a user sees when an admin acts on their account.
func adminNotice(actionType string) string {
	switch strings.TrimSuffix(strings.TrimPrefix(actionType, "user_"), "_user") {
	case "suspended", "suspend", "banned", "ban":
		return "Your account has been suspended by an administrator"
	case "activated", "activate", "unbanned", "unban", "reactivated":
		return "Your account has been reactivated"
	case "warned", "warn", "warning":
		return "You have received a warning from an administrator"
	case "role_changed", "role_updated", "promoted", "demoted":
		return "Your account role has been changed"
	case "deleted", "delete":
		return "Your account has been deleted by an administrator"
	}
	return "An administrator performed an action on your account"
}

// productNotice is the message a seller sees when a product changes state.
func productNotice(updateType string) string {
	switch strings.TrimPrefix(updateType, "product_") {
	case "approved", "approve":
		return "Your product has been approved"
	case "rejected", "reject":
		return "Your product has been rejected"
	case "deleted", "removed", "delete", "remove":
		return "Your product has been removed"
	case "sold":
		return "Your product has been marked as sold"
	case "flagged", "reported":
		return "Your product has been flagged for review"
	}
	return "Your product has been updated"
}
