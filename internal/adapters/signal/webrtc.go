package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/domain"
)

// handleRelay forwards a negotiation envelope without interpreting the
// SDP or candidate inside it. The sender must be who it claims to be and
// both ends must be current members of the room.
func (ctl *SignalWSController) handleRelay(sess *session, kind string, data []byte) {
	type relayEnvelope struct {
		Type string `json:"type"`
		Room string `json:"room"`
		From string `json:"from"`
		To   string `json:"to"`
	}
	var p relayEnvelope
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("bad relay payload")
		ctl.sendError(sess, "bad_payload")
		return
	}

	room, user := sess.current()
	if p.Room != "" {
		room = domain.RoomName(p.Room)
	}
	if p.From != "" && p.From != user {
		ctl.sendError(sess, domain.ErrUnknownPeer.Error())
		return
	}
	if p.To == "" {
		ctl.sendError(sess, "bad_payload")
		return
	}

	if err := ctl.relay.Relay(kind, room, user, p.To, data); err != nil {
		if errors.Is(err, domain.ErrUnknownPeer) {
			ctl.sendError(sess, err.Error())
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("relay failed")
	}
}
