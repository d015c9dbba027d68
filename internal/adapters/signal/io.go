package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sess.id).Msg("readPump closing")
		sess.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := sess.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", sess.id).Msg("readPump read error")
				return
			}
			ctl.dispatch(sess, data)
		}
	}
}

func (ctl *SignalWSController) dispatch(sess *session, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	// Any inbound activity counts as presence.
	if room, user := sess.current(); user != "" {
		ctl.rooms.Touch(room, user, sess.id)
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(sess, data)
	case "leave":
		ctl.handleLeave(sess)
	case "heartbeat":
		ctl.handleHeartbeat(sess)
	case "kick_user":
		ctl.handleKick(sess, data)
	case "request_rooms":
		ctl.handleRequestRooms(sess)
	case "webrtc-offer", "webrtc-answer", "webrtc-ice-candidate", "webrtc-renegotiate":
		ctl.handleRelay(sess, env.Type, data)
	case "screenshare_state":
		ctl.handleScreenShare(sess, data)
	case "chat":
		ctl.handleChat(sess, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}
