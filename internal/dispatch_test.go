package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_AdminAndUserRoundTrip(t *testing.T) {
	r := newTestRelay(t, Options{})

	watcherID, watcher := login(t, r, 100, "carol", "support")
	adminID, admin := login(t, r, 1, "alice", "admin")
	_, user := login(t, r, 2, "bob", "user")

	// Only the already-present privileged connection hears about alice.
	got := watcher.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventAdminUserConnected, got[0].Event)
	assert.EqualValues(t, 1, got[0].Data["userId"])
	assert.Equal(t, "alice", got[0].Data["username"])
	assert.Equal(t, "admin", got[0].Data["role"])
	assert.Equal(t, testTimestamp, got[0].Data["timestamp"])
	assert.Empty(t, admin.received(t), "no self notice")

	assert.ElementsMatch(t, []ConnID{watcherID, adminID}, members(t, r, defaultAdminRoom))

	s := r.Snapshot()
	assert.Len(t, s.Users, 3)
	assert.Len(t, s.Admins, 2)

	watcher.reset()
	emit(t, r, adminID, EventPrivateMessage, map[string]any{"recipientId": 2, "message": "hello bob", "senderId": 1})

	got = user.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventPrivateMessage, got[0].Event)
	assert.EqualValues(t, 1, got[0].Data["senderId"])
	assert.Equal(t, "hello bob", got[0].Data["message"])
	assert.Equal(t, testTimestamp, got[0].Data["timestamp"])
	assert.Empty(t, watcher.received(t))
	assert.Empty(t, admin.received(t))
}

func TestDispatch_StringAndNumberIDsShareRooms(t *testing.T) {
	r := newTestRelay(t, Options{})
	senderID, _ := login(t, r, "a", "a", "user")
	_, target := login(t, r, 42, "target", "user")

	emit(t, r, senderID, EventPrivateMessage, map[string]any{"recipientId": "42", "message": "m", "senderId": "a"})

	got := target.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Data["senderId"], "sender id echoed as sent")
}

func TestDispatch_Notification(t *testing.T) {
	r := newTestRelay(t, Options{})
	senderID, sender := login(t, r, 1, "alice", "admin")
	_, bob := login(t, r, 2, "bob", "user")
	_, anon := connect(t, r)
	sender.reset()

	emit(t, r, senderID, EventNotification, map[string]any{"type": "system", "message": "maintenance at noon"})

	assert.Empty(t, sender.received(t), "broadcast skips the sender")
	for _, p := range []*mockPeer{bob, anon} {
		got := p.received(t)
		require.Len(t, got, 1)
		assert.Equal(t, EventNotification, got[0].Event)
		assert.Equal(t, "system", got[0].Data["type"])
		assert.Equal(t, "maintenance at noon", got[0].Data["message"])
		assert.Equal(t, testTimestamp, got[0].Data["timestamp"])
	}

	bob.reset()
	anon.reset()
	emit(t, r, senderID, EventNotification, map[string]any{
		"type": "order", "message": "shipped", "recipientId": 2, "data": map[string]any{"orderId": 7},
	})

	got := bob.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"orderId": float64(7)}, got[0].Data["data"])
	assert.Empty(t, anon.received(t))
	assert.Empty(t, sender.received(t))
}

func TestDispatch_NoDeliveryBeforeAuthentication(t *testing.T) {
	r := newTestRelay(t, Options{})
	senderID, _ := login(t, r, 1, "alice", "user")
	lateID, late := connect(t, r)

	emit(t, r, senderID, EventPrivateMessage, map[string]any{"recipientId": 5, "message": "too early", "senderId": 1})
	emit(t, r, lateID, EventAuthenticate, map[string]any{"userId": 5, "username": "eve", "role": "user"})

	assert.Empty(t, late.received(t), "nothing is queued for offline users")

	emit(t, r, senderID, EventPrivateMessage, map[string]any{"recipientId": 5, "message": "now", "senderId": 1})
	assert.Equal(t, []string{EventPrivateMessage}, late.events(t))
}

func TestDispatch_DropsBadFrames(t *testing.T) {
	r := newTestRelay(t, Options{})
	senderID, sender := login(t, r, 1, "alice", "admin")
	_, other := login(t, r, 2, "bob", "admin")
	sender.reset()
	other.reset()

	frames := []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"does_not_exist","data":{}}`,
		`{"event":"private_message","data":{"message":"no recipient","senderId":1}}`,
		`{"event":"notification","data":"string payload"}`,
		`{"event":"admin_created"}`,
		`{"event":"admin_created","data":null}`,
		`{"event":"join_room","data":{"roomId":null}}`,
	}
	for _, f := range frames {
		r.Dispatch(senderID, []byte(f))
	}

	assert.Empty(t, sender.received(t))
	assert.Empty(t, other.received(t))

	// The connection is still usable afterwards.
	emit(t, r, senderID, EventNotification, map[string]any{"type": "t", "message": "m", "recipientId": 2})
	assert.Equal(t, []string{EventNotification}, other.events(t))
}

func TestDispatch_EventsFromUnknownConnectionAreDropped(t *testing.T) {
	r := newTestRelay(t, Options{})
	_, p := login(t, r, 1, "alice", "user")

	emit(t, r, "ghost", EventNotification, map[string]any{"type": "t", "message": "m"})
	assert.Empty(t, p.received(t))
}

func TestDispatch_JoinLeaveRoom(t *testing.T) {
	r := newTestRelay(t, Options{})
	id, _ := login(t, r, 1, "alice", "user")

	emit(t, r, id, EventJoinRoom, map[string]any{"roomId": "conversation_9"})
	emit(t, r, id, EventJoinRoom, map[string]any{"roomId": "conversation_9"})
	assert.Equal(t, []ConnID{id}, members(t, r, "conversation_9"))

	emit(t, r, id, EventJoinRoom, map[string]any{"roomId": 77})
	assert.Equal(t, []ConnID{id}, members(t, r, "77"))

	emit(t, r, id, EventLeaveRoom, map[string]any{"roomId": "conversation_9"})
	emit(t, r, id, EventLeaveRoom, map[string]any{"roomId": "conversation_9"})
	assert.Empty(t, members(t, r, "conversation_9"))
}

func TestDispatch_AdminAction(t *testing.T) {
	r := newTestRelay(t, Options{})
	adminID, admin := login(t, r, 1, "alice", "super_admin")
	_, target := login(t, r, 2, "bob", "user")
	admin.reset()

	emit(t, r, adminID, EventAdminAction, map[string]any{
		"type": "suspend_user", "targetUserId": 2, "adminId": 1, "data": map[string]any{"reason": "spam"},
	})

	got := admin.received(t)
	require.Len(t, got, 1, "admin room includes the acting admin")
	assert.Equal(t, EventAdminAction, got[0].Event)
	assert.Equal(t, "suspend_user", got[0].Data["type"])
	assert.EqualValues(t, 2, got[0].Data["targetUserId"])
	assert.Equal(t, testTimestamp, got[0].Data["timestamp"])

	got = target.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventAdminNotification, got[0].Event)
	assert.Equal(t, "Your account has been suspended by an administrator", got[0].Data["message"])
	assert.Equal(t, map[string]any{"reason": "spam"}, got[0].Data["data"])
}

func TestDispatch_ProductUpdate(t *testing.T) {
	r := newTestRelay(t, Options{})
	adminID, admin := login(t, r, 1, "alice", "admin")
	_, seller := login(t, r, 3, "sam", "seller")
	admin.reset()

	emit(t, r, adminID, EventProductUpdate, map[string]any{"type": "product_approved", "productId": 55, "userId": 3})

	assert.Equal(t, []string{EventProductUpdate}, admin.events(t))
	got := seller.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventProductNotification, got[0].Event)
	assert.EqualValues(t, 55, got[0].Data["productId"])
	assert.Equal(t, "Your product has been approved", got[0].Data["message"])

	seller.reset()
	admin.reset()
	emit(t, r, adminID, EventProductUpdate, map[string]any{"type": "product_edited", "productId": 55})
	assert.Equal(t, []string{EventProductUpdate}, admin.events(t))
	assert.Empty(t, seller.received(t))
}

func TestDispatch_ProductStatusChange(t *testing.T) {
	r := newTestRelay(t, Options{})
	_, admin := login(t, r, 1, "alice", "moderator")
	sellerID, _ := login(t, r, 3, "sam", "seller")
	_, buyer := login(t, r, 4, "bea", "user")
	admin.reset()

	emit(t, r, sellerID, EventProductStatusChange, map[string]any{
		"conversation_id": 12, "product_id": 55, "product_name": "Lamp", "status": "sold",
		"changed_by": 3, "other_user_id": 4,
	})

	got := buyer.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventProductStatusChanged, got[0].Event)
	assert.Equal(t, "Lamp", got[0].Data["product_name"])
	assert.Equal(t, testTimestamp, got[0].Data["timestamp"])

	got = admin.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventProductStatusUpdate, got[0].Event)
	assert.Equal(t, "sold", got[0].Data["status"])
}

func TestDispatch_SendMessageAndRead(t *testing.T) {
	r := newTestRelay(t, Options{})
	aliceID, alice := login(t, r, 1, "alice", "user")
	bobID, bob := login(t, r, 2, "bob", "user")

	emit(t, r, aliceID, EventSendMessage, map[string]any{
		"recipient_id": 2, "conversation_id": 12, "message_text": "is it available?",
		"sender_name": "alice", "sender_id": 1, "message_id": 900,
	})

	got := bob.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventNewMessage, got[0].Event)
	assert.Equal(t, "is it available?", got[0].Data["message_text"])
	assert.EqualValues(t, 900, got[0].Data["message_id"], "extra fields pass through")
	assert.Equal(t, testTimestamp, got[0].Data["timestamp"])
	assert.Empty(t, alice.received(t))

	emit(t, r, bobID, EventMessagesRead, map[string]any{"conversation_id": 12, "reader_id": 2})
	assert.Empty(t, alice.received(t), "no other_user_id means no delivery")

	emit(t, r, bobID, EventMessagesRead, map[string]any{"conversation_id": 12, "reader_id": 2, "other_user_id": 1})
	got = alice.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventMessagesRead, got[0].Event)
	assert.EqualValues(t, 12, got[0].Data["conversation_id"])
	assert.EqualValues(t, 2, got[0].Data["reader_id"])
}

func TestDispatch_TypingSkipsSender(t *testing.T) {
	r := newTestRelay(t, Options{})
	aliceID, alice := login(t, r, 1, "alice", "user")
	bobID, bob := login(t, r, 2, "bob", "user")
	_, outsider := login(t, r, 3, "carl", "user")

	room := ConversationRoom("12")
	emit(t, r, aliceID, EventJoinRoom, map[string]any{"roomId": room})
	emit(t, r, bobID, EventJoinRoom, map[string]any{"roomId": room})

	emit(t, r, aliceID, EventTyping, map[string]any{"conversation_id": 12, "user_id": 1, "typing": true})

	assert.Empty(t, alice.received(t))
	assert.Empty(t, outsider.received(t))
	got := bob.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserTyping, got[0].Event)
	assert.Equal(t, true, got[0].Data["typing"])
}

func TestDispatch_AdminListUpdates(t *testing.T) {
	r := newTestRelay(t, Options{})
	adminID, admin := login(t, r, 1, "alice", "super_admin")
	_, user := login(t, r, 2, "bob", "user")
	admin.reset()

	for event, kind := range map[string]string{
		EventAdminCreated: "created",
		EventAdminUpdated: "updated",
		EventAdminDeleted: "deleted",
	} {
		admin.reset()
		emit(t, r, adminID, event, map[string]any{"id": 9, "username": "newadmin"})

		got := admin.received(t)
		require.Len(t, got, 1, event)
		assert.Equal(t, EventAdminListUpdate, got[0].Event)
		assert.Equal(t, kind, got[0].Data["type"])
		assert.Equal(t, map[string]any{"id": float64(9), "username": "newadmin"}, got[0].Data["data"])
	}
	assert.Empty(t, user.received(t))
}

func TestDispatch_RepeatAuthenticateIsIdempotent(t *testing.T) {
	r := newTestRelay(t, Options{})
	_, watcher := login(t, r, 100, "carol", "admin")
	id, _ := login(t, r, 1, "alice", "admin")

	emit(t, r, id, EventAuthenticate, map[string]any{"userId": 1, "username": "alice", "role": "admin"})
	emit(t, r, id, EventAuthenticate, map[string]any{"userId": "1", "username": "renamed", "role": "user"})

	assert.Equal(t, []string{EventAdminUserConnected}, watcher.events(t))
	s := r.Snapshot()
	assert.Len(t, s.Admins, 2)
	for _, u := range s.Users {
		if u.UserID.String() == "1" {
			assert.Equal(t, "alice", u.Username)
		}
	}

	emit(t, r, id, EventAuthenticate, map[string]any{"userId": 2, "username": "bob", "role": "user"})
	assert.Len(t, r.Snapshot().Users, 2, "a second identity is rejected")
}

func TestDispatch_DuplicateSession(t *testing.T) {
	tests := []struct {
		name       string
		policy     DuplicateSessionPolicy
		wantClosed bool
	}{
		{name: "keep", policy: DuplicateKeep},
		{name: "cycle", policy: DuplicateCycle, wantClosed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(t, Options{DuplicateSession: tt.policy})
			senderID, _ := login(t, r, 1, "alice", "user")
			oldID, old := login(t, r, 9, "bob", "user")
			newID, fresh := login(t, r, 9, "bob", "user")

			s := r.Snapshot()
			require.Len(t, s.Users, 2, "one entry per user")

			var cur *Connection
			inspect(t, r, func() { cur, _ = r.registry.current("9") })
			assert.Equal(t, newID, cur.ID)

			emit(t, r, senderID, EventPrivateMessage, map[string]any{"recipientId": 9, "message": "hi", "senderId": 1})
			assert.Len(t, fresh.received(t), 1)

			if tt.wantClosed {
				assert.Equal(t, []string{"session replaced by a newer connection"}, old.closes())
				return
			}
			assert.Empty(t, old.closes())
			assert.Len(t, old.received(t), 1, "kept session stays in its rooms")

			// Closing the older session leaves the newer one mapped.
			require.True(t, r.Disconnect(oldID))
			assert.Len(t, r.Snapshot().Users, 2)
		})
	}
}

func TestDispatch_ManagedRoomsIgnoreClientRequests(t *testing.T) {
	r := newTestRelay(t, Options{})
	aliceID, _ := login(t, r, 1, "alice", "user")
	bobID, bob := login(t, r, 9, "bob", "moderator")
	anonID, anon := connect(t, r)

	emit(t, r, bobID, EventLeaveRoom, map[string]any{"roomId": "user_9"})
	emit(t, r, bobID, EventLeaveRoom, map[string]any{"roomId": defaultAdminRoom})
	assert.Equal(t, []ConnID{bobID}, members(t, r, PersonalRoom("9")))
	assert.Equal(t, []ConnID{bobID}, members(t, r, defaultAdminRoom))

	emit(t, r, aliceID, EventPrivateMessage, map[string]any{"recipientId": 9, "message": "still there?", "senderId": 1})
	assert.Equal(t, []string{EventPrivateMessage}, bob.events(t))

	emit(t, r, anonID, EventJoinRoom, map[string]any{"roomId": defaultAdminRoom})
	emit(t, r, anonID, EventJoinRoom, map[string]any{"roomId": "user_1"})
	inspect(t, r, func() {
		c, ok := r.registry.Lookup(anonID)
		require.True(t, ok)
		assert.Empty(t, c.Rooms)
	})

	login(t, r, 2, "sue", "support")
	emit(t, r, aliceID, EventPrivateMessage, map[string]any{"recipientId": 1, "message": "echo", "senderId": 1})
	assert.Empty(t, anon.received(t))
}

func TestDispatch_SupersededPrivilegedSession(t *testing.T) {
	tests := []struct {
		name          string
		newRole       string
		wantAdminRoom int
		wantNotices   []string
	}{
		{name: "demoted", newRole: "user", wantAdminRoom: 1},
		{name: "same role", newRole: "moderator", wantAdminRoom: 3, wantNotices: []string{EventAdminUserDisconnected}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(t, Options{})
			_, watcher := login(t, r, 100, "carol", "admin")
			oldID, _ := login(t, r, 9, "bob", "moderator")
			newID, _ := login(t, r, 9, "bob", tt.newRole)

			assert.Len(t, members(t, r, defaultAdminRoom), tt.wantAdminRoom)
			watcher.reset()

			// The older session closing does not mean bob went offline.
			require.True(t, r.Disconnect(oldID))
			assert.Empty(t, watcher.received(t))
			assert.Len(t, r.Snapshot().Users, 2)

			require.True(t, r.Disconnect(newID))
			assert.Equal(t, tt.wantNotices, watcher.events(t))
		})
	}
}
