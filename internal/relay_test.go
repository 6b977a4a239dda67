package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

const testTimestamp = "2026-10-18T12:00:00.000Z"

func fixedClock() time.Time { return testNow }

func stringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: string(b)}
}

func numberID(n int64) ID {
	return ID{raw: strconv.FormatInt(n, 10)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type received struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type mockPeer struct {
	mu     sync.Mutex
	frames [][]byte
	closed []string
	full   bool
}

func (m *mockPeer) Deliver(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *mockPeer) Close(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, reason)
}

func (m *mockPeer) received(t *testing.T) []received {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]received, 0, len(m.frames))
	for _, f := range m.frames {
		var r received
		require.NoError(t, json.Unmarshal(f, &r))
		out = append(out, r)
	}
	return out
}

func (m *mockPeer) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, r := range m.received(t) {
		names = append(names, r.Event)
	}
	return names
}

func (m *mockPeer) closes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}

func (m *mockPeer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

func newTestRelay(t *testing.T, opts Options) *Relay {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	r := NewRelay(opts, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	return r
}

func connect(t *testing.T, r *Relay) (ConnID, *mockPeer) {
	t.Helper()
	p := &mockPeer{}
	id := r.Connect(p)
	require.NotEmpty(t, id)
	return id, p
}

func emit(t *testing.T, r *Relay, from ConnID, event string, data any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	r.Dispatch(from, frame)
}

func login(t *testing.T, r *Relay, userID any, username, role string) (ConnID, *mockPeer) {
	t.Helper()
	id, p := connect(t, r)
	emit(t, r, id, EventAuthenticate, map[string]any{"userId": userID, "username": username, "role": role})
	return id, p
}

// inspect runs fn on the hub so tests read registry and room state the same
// way handlers do.
func inspect(t *testing.T, r *Relay, fn func()) {
	t.Helper()
	require.True(t, r.hub.do(fn), "hub stopped")
}

func members(t *testing.T, r *Relay, room string) []ConnID {
	t.Helper()
	var ids []ConnID
	inspect(t, r, func() { ids = r.router.memberIDs(room) })
	return ids
}
