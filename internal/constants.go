package internal

import "time"

const (
	pingPeriod = 15 * time.Second
	writeWait  = 5 * time.Second
	bufSize    = 1024
	readLimit  = 64 << 10

	defaultAdminRoom   = "admin_room"
	personalRoomPrefix = "user_"
	conversationPrefix = "conversation_"

	// JavaScript's Date.toISOString layout, which the browser clients parse.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	presenceChangesBuffer = 256
)

// DefaultPrivilegedRoles are the roles that join the admin room.
var DefaultPrivilegedRoles = []string{"super_admin", "admin", "moderator", "support"}

// PersonalRoom is the room every authenticated connection of userID joins.
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// ConversationRoom is the room typing indicators for a conversation go to.
func ConversationRoom(conversationID string) string {
	return conversationPrefix + conversationID
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
