package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hububba/calls/internal/domain"
)

func TestRelayRequiresBothMembers(t *testing.T) {
	r, _ := newTestRegistry(30 * time.Second)
	relay := NewNegotiationRelay(r)

	_, err := r.Join("room", "alice", "a1", false, &fakeConn{})
	require.NoError(t, err)

	raw := []byte(`{"type":"webrtc-offer","room":"room","from":"alice","to":"bob","sdp":"..."}`)
	require.ErrorIs(t, relay.Relay("webrtc-offer", "room", "alice", "bob", raw), domain.ErrUnknownPeer)
	require.ErrorIs(t, relay.Relay("webrtc-offer", "room", "ghost", "alice", raw), domain.ErrUnknownPeer)
	require.ErrorIs(t, relay.Relay("webrtc-offer", "nowhere", "alice", "bob", raw), domain.ErrUnknownPeer)
}

func TestRelayForwardsToTargetOnly(t *testing.T) {
	r, _ := newTestRegistry(30 * time.Second)
	relay := NewNegotiationRelay(r)
	alice, bob, carol := &fakeConn{}, &fakeConn{}, &fakeConn{}

	for name, conn := range map[string]*fakeConn{"alice": alice, "bob": bob, "carol": carol} {
		_, err := r.Join("room", name, name+"-conn", false, conn)
		require.NoError(t, err)
	}

	raw := []byte(`{"type":"webrtc-ice-candidate","room":"room","from":"alice","to":"bob","candidate":{}}`)
	require.NoError(t, relay.Relay("webrtc-ice-candidate", "room", "alice", "bob", raw))

	require.Len(t, bob.raws, 1)
	require.Equal(t, raw, bob.raws[0])
	require.Empty(t, alice.raws)
	require.Empty(t, carol.raws)
}

func TestRelayCountsAsActivity(t *testing.T) {
	r, now := newTestRegistry(30 * time.Second)
	relay := NewNegotiationRelay(r)

	_, err := r.Join("room", "alice", "a1", false, &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("room", "bob", "b1", false, &fakeConn{})
	require.NoError(t, err)

	*now = now.Add(20 * time.Second)
	require.NoError(t, relay.Relay("webrtc-answer", "room", "alice", "bob", []byte(`{}`)))

	meta, _, ok := r.Member("room", "alice")
	require.True(t, ok)
	require.Equal(t, *now, meta.LastSeen, "relay traffic refreshes the sender's presence")
}
