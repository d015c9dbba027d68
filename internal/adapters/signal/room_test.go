package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hububba/calls/internal/app"
	"github.com/hububba/calls/internal/chat"
	"github.com/hububba/calls/internal/config"
	"github.com/hububba/calls/internal/domain"
)

func newTestController() *SignalWSController {
	cfg := &config.Config{JoinLimit: 100, JoinLimitWindow: time.Minute}
	rooms := app.NewRegistry(time.Minute)
	relay := app.NewNegotiationRelay(rooms)
	return NewSignalWSController(cfg, rooms, relay, chat.NewMemoryHistory(10))
}

// newTestSession registers a session backed by a bare send buffer, so
// dispatch can be driven without a live websocket.
func newTestSession(ctl *SignalWSController, id string) *session {
	s := &session{id: id, conn: &wsConn{send: make(chan []byte, 64)}}
	ctl.addSession(s)
	return s
}

// drain decodes every frame currently buffered for the session.
func drain(t *testing.T, s *session) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data := <-s.conn.send:
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(frames []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, f := range frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestRejectedJoinKeepsCurrentRoom(t *testing.T) {
	ctl := newTestController()
	alice := newTestSession(ctl, "sid-a")
	bob := newTestSession(ctl, "sid-b")

	ctl.dispatch(alice, []byte(`{"type":"join","room":"standup","user":"alice"}`))
	ctl.dispatch(bob, []byte(`{"type":"join","room":"standup","user":"bob"}`))
	drain(t, bob)

	// Claiming a held name without force is rejected and must not move
	// the session out of its room.
	ctl.dispatch(bob, []byte(`{"type":"join","room":"standup","user":"alice"}`))

	frames := drain(t, bob)
	require.Len(t, ofType(frames, app.TypeJoinConflict), 1)

	room, user := bob.current()
	require.Equal(t, domain.RoomName("standup"), room)
	require.Equal(t, "bob", user)
	meta, _, ok := ctl.rooms.Member("standup", "bob")
	require.True(t, ok)
	require.Equal(t, "sid-b", meta.ConnectionID)

	// An outright invalid join is equally harmless.
	ctl.dispatch(bob, []byte(`{"type":"join","room":"  ","user":"bob"}`))
	frames = drain(t, bob)
	require.Len(t, ofType(frames, app.TypeJoinError), 1)
	_, _, ok = ctl.rooms.Member("standup", "bob")
	require.True(t, ok)
}

func TestSuccessfulJoinMovesSession(t *testing.T) {
	ctl := newTestController()
	bob := newTestSession(ctl, "sid-b")

	ctl.dispatch(bob, []byte(`{"type":"join","room":"standup","user":"bob"}`))
	ctl.dispatch(bob, []byte(`{"type":"join","room":"retro","user":"bob"}`))

	room, _ := bob.current()
	require.Equal(t, domain.RoomName("retro"), room)
	_, _, ok := ctl.rooms.Member("standup", "bob")
	require.False(t, ok, "moving rooms leaves the old one")
	_, _, ok = ctl.rooms.Member("retro", "bob")
	require.True(t, ok)

	// Rejoining the same room under the same name is a refresh.
	ctl.dispatch(bob, []byte(`{"type":"join","room":"retro","user":"bob"}`))
	frames := drain(t, bob)
	require.Empty(t, ofType(frames, app.TypeJoinConflict))
	_, _, ok = ctl.rooms.Member("retro", "bob")
	require.True(t, ok)
}

func TestScreenShareFanout(t *testing.T) {
	ctl := newTestController()
	alice := newTestSession(ctl, "sid-a")
	bob := newTestSession(ctl, "sid-b")

	ctl.dispatch(alice, []byte(`{"type":"join","room":"standup","user":"alice"}`))
	ctl.dispatch(bob, []byte(`{"type":"join","room":"standup","user":"bob"}`))
	drain(t, alice)
	drain(t, bob)

	ctl.dispatch(alice, []byte(`{"type":"screenshare_state","active":true}`))

	states := ofType(drain(t, bob), app.TypeScreenShare)
	require.Len(t, states, 1)
	require.Equal(t, "alice", states[0]["user"], "sender identity comes from the session")
	require.Equal(t, true, states[0]["active"])
	require.Empty(t, ofType(drain(t, alice), app.TypeScreenShare), "sender is not echoed")

	meta, _, ok := ctl.rooms.Member("standup", "alice")
	require.True(t, ok)
	require.True(t, meta.SharingScreen)
}
