package app

import (
	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/domain"
)

// NegotiationRelay forwards offer/answer/ICE envelopes between two members
// of the same room. It never looks inside the payload; the coordinator
// stays media-agnostic.
type NegotiationRelay struct {
	rooms *Registry
}

func NewNegotiationRelay(rooms *Registry) *NegotiationRelay {
	return &NegotiationRelay{rooms: rooms}
}

// Relay validates that from and to are both current members of room and
// forwards the raw envelope to to's connection only. Relay traffic counts
// as inbound activity for the sender.
func (n *NegotiationRelay) Relay(kind string, roomName domain.RoomName, from, to string, raw []byte) error {
	sender, _, ok := n.rooms.Member(roomName, from)
	if !ok {
		return domain.ErrUnknownPeer
	}
	_, conn, ok := n.rooms.Member(roomName, to)
	if !ok {
		return domain.ErrUnknownPeer
	}
	n.rooms.Touch(roomName, from, sender.ConnectionID)
	if err := conn.SendRaw(raw); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Str("kind", kind).Str("room", string(roomName)).Str("to", to).Msg("relay dropped")
	}
	return nil
}
