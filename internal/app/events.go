package app

import "github.com/hububba/calls/internal/domain"

// Conn delivers events to one client session. Implementations must not
// block; a full send buffer is reported as an error and the event dropped.
type Conn interface {
	SendJSON(v any) error
	SendRaw(data []byte) error
}

// Broadcaster reaches clients outside the scope of a single room. The
// gateway implements it; the registry calls it after state mutations are
// committed, never while a room lock is held.
type Broadcaster interface {
	RoomsChanged()
	RoomClosed(name domain.RoomName)
}

// Server→client event types.
const (
	TypeHello        = "hello"
	TypeJoined       = "joined"
	TypeJoinConflict = "join_conflict"
	TypeJoinError    = "join_error"
	TypeOwnerChanged = "owner_changed"
	TypeKickResult   = "kick_result"
	TypeKicked       = "kicked"
	TypePeerLeft     = "peer_left"
	TypeReady        = "ready"
	TypeRoomsUpdate  = "rooms_update"
	TypeChat         = "chat"
	TypeScreenShare  = "screenshare_state"
)

const (
	KickReasonAdmin     = "admin"
	KickReasonDuplicate = "duplicate"
)

type PeerEvent struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type OwnerChangedEvent struct {
	Type  string          `json:"type"`
	Room  domain.RoomName `json:"room"`
	Owner string          `json:"owner"`
}

type KickedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}
