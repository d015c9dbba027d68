package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/app"
	"github.com/hububba/calls/internal/chat"
	"github.com/hububba/calls/internal/domain"
)

func (ctl *SignalWSController) handleJoin(sess *session, data []byte) {
	type joinPayload struct {
		Type  string `json:"type"`
		Room  string `json:"room"`
		User  string `json:"user"`
		Force bool   `json:"force"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(sess, "bad_payload")
		return
	}

	if !ctl.limiter.Allow(sess.id) {
		_ = sess.SendJSON(struct {
			Type string `json:"type"`
			Msg  string `json:"msg"`
		}{app.TypeJoinError, "too many join attempts, slow down"})
		return
	}

	prevRoom, prevUser := sess.current()

	snap, err := ctl.rooms.Join(domain.RoomName(p.Room), p.User, sess.id, p.Force, sess)
	switch {
	case errors.Is(err, domain.ErrDuplicateName):
		_ = sess.SendJSON(struct {
			Type string `json:"type"`
			Msg  string `json:"msg"`
		}{app.TypeJoinConflict, err.Error()})
		return
	case err != nil:
		_ = sess.SendJSON(struct {
			Type string `json:"type"`
			Msg  string `json:"msg"`
		}{app.TypeJoinError, err.Error()})
		return
	}

	// A session is in at most one room; a successful join moves it. A
	// rejected join must leave the old membership untouched, so the old
	// room is only left now.
	newUser := domain.CleanName(p.User)
	if prevUser != "" && (prevRoom != snap.Room || prevUser != newUser) {
		ctl.rooms.Leave(prevRoom, prevUser, sess.id)
	}
	sess.setCurrent(snap.Room, newUser)

	_ = sess.SendJSON(struct {
		Type    string          `json:"type"`
		Room    domain.RoomName `json:"room"`
		Owner   string          `json:"owner"`
		Created int64           `json:"created"`
		Users   []string        `json:"users"`
		Chat    []chat.Message  `json:"chat"`
	}{app.TypeJoined, snap.Room, snap.Operator, snap.Created, snap.Users, ctl.history.Recent(snap.Room)})
}

func (ctl *SignalWSController) handleLeave(sess *session) {
	room, user := sess.current()
	if user == "" {
		return
	}
	log.Info().Str("module", "signal").Str("sid", sess.id).Str("room", string(room)).Str("user", user).Msg("leave")
	ctl.rooms.Leave(room, user, sess.id)
	sess.setCurrent("", "")
}

func (ctl *SignalWSController) handleHeartbeat(sess *session) {
	room, user := sess.current()
	if user == "" {
		return
	}
	ctl.rooms.Heartbeat(room, user, sess.id)
}

func (ctl *SignalWSController) handleKick(sess *session, data []byte) {
	type kickPayload struct {
		Type   string `json:"type"`
		Room   string `json:"room"`
		Target string `json:"target"`
	}
	var p kickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad kick payload")
		ctl.sendError(sess, "bad_payload")
		return
	}

	room, requester := sess.current()
	if p.Room != "" {
		room = domain.RoomName(p.Room)
	}
	err := ctl.rooms.Kick(room, requester, p.Target)

	result := struct {
		Type   string `json:"type"`
		OK     bool   `json:"ok"`
		Target string `json:"target"`
		Msg    string `json:"msg,omitempty"`
	}{Type: app.TypeKickResult, OK: err == nil, Target: p.Target}
	if err != nil {
		result.Msg = err.Error()
	}
	_ = sess.SendJSON(result)
}

func (ctl *SignalWSController) handleRequestRooms(sess *session) {
	_ = sess.SendJSON(struct {
		Type  string               `json:"type"`
		Rooms []domain.RoomListing `json:"rooms"`
	}{app.TypeRoomsUpdate, ctl.rooms.ListRooms()})
}

func (ctl *SignalWSController) handleScreenShare(sess *session, data []byte) {
	type sharePayload struct {
		Type   string `json:"type"`
		Active bool   `json:"active"`
	}
	var p sharePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad screenshare payload")
		return
	}

	room, user := sess.current()
	if user == "" {
		return
	}
	ctl.rooms.SetSharingScreen(room, user, sess.id, p.Active)

	// Presence hint for the rest of the room; the sender's identity comes
	// from the session binding, never from the envelope.
	out := struct {
		Type   string          `json:"type"`
		Room   domain.RoomName `json:"room"`
		User   string          `json:"user"`
		Active bool            `json:"active"`
	}{app.TypeScreenShare, room, user, p.Active}
	for _, conn := range ctl.rooms.Conns(room, user) {
		_ = conn.SendJSON(out)
	}
}

func (ctl *SignalWSController) handleChat(sess *session, data []byte) {
	type chatPayload struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
		return
	}

	room, user := sess.current()
	if user == "" {
		return
	}
	msg := chat.Message{User: user, Text: p.Text, At: time.Now().Unix()}
	ctl.history.Append(room, msg)

	out := struct {
		Type string `json:"type"`
		chat.Message
	}{app.TypeChat, msg}
	for _, conn := range ctl.rooms.Conns(room, "") {
		_ = conn.SendJSON(out)
	}
}
