package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/app"
	"github.com/hububba/calls/internal/chat"
	"github.com/hububba/calls/internal/config"
	"github.com/hububba/calls/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// SignalWSController is the session gateway: the only component aware of
// the transport. It validates inbound events against the registry and
// relay and fans outgoing events back out.
type SignalWSController struct {
	cfg     *config.Config
	rooms   *app.Registry
	relay   *app.NegotiationRelay
	history chat.History
	limiter *JoinRateLimiter

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewSignalWSController(cfg *config.Config, rooms *app.Registry, relay *app.NegotiationRelay, history chat.History) *SignalWSController {
	ctl := &SignalWSController{
		cfg:      cfg,
		rooms:    rooms,
		relay:    relay,
		history:  history,
		limiter:  NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinLimitWindow),
		sessions: make(map[string]*session),
	}
	rooms.SetBroadcaster(ctl)
	return ctl
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is one websocket connection with its current room binding.
// It implements app.Conn.
type session struct {
	id   string
	conn *wsConn

	mu   sync.Mutex
	room domain.RoomName
	user string
}

func (s *session) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.TrySend(b)
}

func (s *session) SendRaw(data []byte) error {
	return s.conn.TrySend(data)
}

func (s *session) current() (domain.RoomName, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.user
}

func (s *session) setCurrent(room domain.RoomName, user string) {
	s.mu.Lock()
	s.room = room
	s.user = user
	s.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the session until the
// connection drops. An ungraceful drop leaves the member in place with a
// final lastSeen mark; the presence sweep is the backstop.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("upgrade failed")
		return
	}
	if ctl.cfg.ReadLimit > 0 {
		conn.SetReadLimit(ctl.cfg.ReadLimit)
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: &wsConn{conn: conn, send: make(chan []byte, 64)},
	}
	ctl.addSession(sess)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if room, user := sess.current(); user != "" {
			// Grace: mark the member one last time and let the sweep
			// collect it if the tab never comes back.
			ctl.rooms.Touch(room, user, sess.id)
		}
		ctl.removeSession(sess)
		sess.conn.Close()
	}()

	log.Info().Str("module", "signal").Str("sid", sess.id).Str("client", c.GetString("client_token")).Msg("session opened")
	go ctl.writePump(ctx, sess.conn)

	_ = sess.SendJSON(struct {
		Type string `json:"type"`
		OK   bool   `json:"ok"`
	}{app.TypeHello, true})

	ctl.readPump(ctx, sess)
}

func (ctl *SignalWSController) addSession(s *session) {
	ctl.mu.Lock()
	ctl.sessions[s.id] = s
	ctl.mu.Unlock()
}

func (ctl *SignalWSController) removeSession(s *session) {
	ctl.mu.Lock()
	delete(ctl.sessions, s.id)
	ctl.mu.Unlock()
	ctl.limiter.Forget(s.id)
}

// RoomsChanged implements app.Broadcaster: the discovery listing goes to
// every connected client, not just room members.
func (ctl *SignalWSController) RoomsChanged() {
	payload := struct {
		Type  string               `json:"type"`
		Rooms []domain.RoomListing `json:"rooms"`
	}{app.TypeRoomsUpdate, ctl.rooms.ListRooms()}

	ctl.mu.RLock()
	targets := make([]*session, 0, len(ctl.sessions))
	for _, s := range ctl.sessions {
		targets = append(targets, s)
	}
	ctl.mu.RUnlock()

	for _, s := range targets {
		if err := s.SendJSON(payload); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("sid", s.id).Msg("rooms_update dropped")
		}
	}
}

// RoomClosed implements app.Broadcaster: chat history dies with the room.
func (ctl *SignalWSController) RoomClosed(name domain.RoomName) {
	ctl.history.Drop(name)
}

func (ctl *SignalWSController) sendError(sess *session, msg string) {
	_ = sess.SendJSON(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{"error", msg})
}
