package app

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/domain"
)

type member struct {
	meta domain.Member
	conn Conn
}

// room is one independently lockable entry. Everything under mu: members,
// operator, createdAt. dead is set when the registry reaps an emptied room
// so that a racing getOrCreate does not resurrect a stale pointer.
type room struct {
	mu        sync.Mutex
	name      domain.RoomName
	createdAt time.Time
	operator  string
	members   map[string]*member
	dead      bool
}

// outbound is a notification collected under a room lock and delivered
// after the lock is released.
type outbound struct {
	conn    Conn
	payload any
}

// Registry owns all rooms. The registry mutex guards only the room map;
// each room carries its own lock so unrelated rooms never serialize on
// each other.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomName]*room
	resolver ConflictResolver
	timeout  time.Duration
	caster   Broadcaster
	now      func() time.Time
}

func NewRegistry(presenceTimeout time.Duration) *Registry {
	return &Registry{
		rooms:   make(map[domain.RoomName]*room),
		timeout: presenceTimeout,
		now:     time.Now,
	}
}

// SetBroadcaster wires the gateway-wide fanout. Must be called before the
// registry starts taking traffic.
func (r *Registry) SetBroadcaster(b Broadcaster) { r.caster = b }

// Join admits (room, name) or reports why it cannot. On a forced takeover
// the prior holder's connection is told it was replaced by a duplicate
// session. The returned snapshot reflects the state right after admission.
func (r *Registry) Join(roomName domain.RoomName, name, connID string, force bool, conn Conn) (*domain.RoomSnapshot, error) {
	rn := domain.RoomName(domain.CleanName(string(roomName)))
	name = domain.CleanName(name)
	if rn == "" || name == "" {
		return nil, domain.ErrInvalidInput
	}

	for {
		rm := r.getOrCreate(rn)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}

		existing, held := rm.members[name]
		if held && existing.meta.ConnectionID == connID {
			// Same session rejoining its own name: refresh in place, no
			// conflict and no fan-out.
			existing.conn = conn
			existing.meta.LastSeen = r.now()
			snap := rm.snapshotLocked()
			rm.mu.Unlock()
			return &snap, nil
		}

		var queue []outbound
		switch r.resolver.Resolve(held, force) {
		case ConflictDuplicateName:
			rm.mu.Unlock()
			return nil, domain.ErrDuplicateName
		case AdmitEvict:
			queue = append(queue, outbound{existing.conn, KickedEvent{Type: TypeKicked, Reason: KickReasonDuplicate}})
			delete(rm.members, name)
			log.Info().Str("module", "app.registry").Str("room", string(rn)).Str("user", name).Msg("duplicate holder evicted by forced takeover")
		}

		now := r.now()
		rm.members[name] = &member{
			meta: domain.Member{Name: name, ConnectionID: connID, JoinedAt: now, LastSeen: now},
			conn: conn,
		}
		if rm.operator == "" {
			rm.operator = name
		}

		for otherName, other := range rm.members {
			if otherName == name {
				continue
			}
			queue = append(queue, outbound{other.conn, PeerEvent{Type: TypeReady, User: name}})
		}
		snap := rm.snapshotLocked()
		rm.mu.Unlock()

		log.Info().Str("module", "app.registry").Str("room", string(rn)).Str("user", name).Bool("force", force).Msg("member joined")
		r.emit(queue)
		r.roomsChanged()
		return &snap, nil
	}
}

// Leave removes (room, name) if connID still owns it. An empty connID
// removes unconditionally; a stale connID (the member was replaced by a
// forced takeover) is a no-op, mirroring the sid guard of the signaling
// protocol.
func (r *Registry) Leave(roomName domain.RoomName, name, connID string) bool {
	return r.remove(roomName, name, connID, "", "")
}

// Heartbeat refreshes lastSeen if connID still owns the name. A stale
// connID (the session was replaced by a forced takeover) must not keep
// the new holder alive. Empty connID skips the check. Safe for members
// that no longer exist.
func (r *Registry) Heartbeat(roomName domain.RoomName, name, connID string) {
	rm := r.get(roomName)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	if m, ok := rm.members[name]; ok && (connID == "" || m.meta.ConnectionID == connID) {
		m.meta.LastSeen = r.now()
	}
	rm.mu.Unlock()
}

// SetSharingScreen flips the presence hint; no other state changes. The
// same connID guard as Heartbeat applies.
func (r *Registry) SetSharingScreen(roomName domain.RoomName, name, connID string, active bool) {
	rm := r.get(roomName)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	if m, ok := rm.members[name]; ok && (connID == "" || m.meta.ConnectionID == connID) {
		m.meta.SharingScreen = active
		m.meta.LastSeen = r.now()
	}
	rm.mu.Unlock()
}

// Kick removes target on behalf of the room operator.
func (r *Registry) Kick(roomName domain.RoomName, requester, target string) error {
	rm := r.get(roomName)
	if rm == nil {
		return domain.ErrNoSuchRoom
	}
	rm.mu.Lock()
	switch {
	case rm.operator != requester:
		rm.mu.Unlock()
		return domain.ErrNotAuthorized
	case requester == target:
		rm.mu.Unlock()
		return domain.ErrSelfKick
	default:
		if _, ok := rm.members[target]; !ok {
			rm.mu.Unlock()
			return domain.ErrNoSuchTarget
		}
	}
	queue, empty := r.removeLocked(rm, target, KickReasonAdmin, requester)
	rm.mu.Unlock()

	r.finishRemoval(rm, queue, empty)
	return nil
}

// Member returns a copy of the member meta and its connection.
func (r *Registry) Member(roomName domain.RoomName, name string) (domain.Member, Conn, bool) {
	rm := r.get(roomName)
	if rm == nil {
		return domain.Member{}, nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, ok := rm.members[name]
	if !ok {
		return domain.Member{}, nil, false
	}
	return m.meta, m.conn, true
}

// Conns returns the connections of every current member except the named
// one, for post-mutation fanout.
func (r *Registry) Conns(roomName domain.RoomName, except string) []Conn {
	rm := r.get(roomName)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Conn, 0, len(rm.members))
	for name, m := range rm.members {
		if name == except {
			continue
		}
		out = append(out, m.conn)
	}
	return out
}

// ListRooms is the discovery snapshot: rooms sorted case-insensitively,
// members sorted, presence-expired members filtered out even if the sweep
// has not collected them yet.
func (r *Registry) ListRooms() []domain.RoomListing {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	now := r.now()
	cutoff := now.Add(-r.timeout)
	out := make([]domain.RoomListing, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		users := make([]string, 0, len(rm.members))
		for name, m := range rm.members {
			if m.meta.LastSeen.Before(cutoff) {
				continue
			}
			users = append(users, name)
		}
		created := rm.createdAt
		name := rm.name
		rm.mu.Unlock()
		if len(users) == 0 {
			continue
		}
		sort.Strings(users)
		out = append(out, domain.RoomListing{
			Name:    name,
			Users:   users,
			Elapsed: int64(now.Sub(created).Seconds()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(string(out[i].Name)) < strings.ToLower(string(out[j].Name))
	})
	return out
}

func (r *Registry) get(name domain.RoomName) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[name]
}

func (r *Registry) getOrCreate(name domain.RoomName) *room {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if ok {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[name]; ok {
		return rm
	}
	rm = &room{
		name:      name,
		createdAt: r.now(),
		members:   make(map[string]*member),
	}
	r.rooms[name] = rm
	log.Info().Str("module", "app.registry").Str("room", string(name)).Msg("room created")
	return rm
}

// remove is the single removal path shared by leave and eviction; reason
// is only logged.
func (r *Registry) remove(roomName domain.RoomName, name, connID, by, reason string) bool {
	rm := r.get(roomName)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	if m, ok := rm.members[name]; !ok || (connID != "" && m.meta.ConnectionID != connID) {
		rm.mu.Unlock()
		return false
	}
	queue, empty := r.removeLocked(rm, name, reason, by)
	rm.mu.Unlock()

	r.finishRemoval(rm, queue, empty)
	return true
}

// removeLocked mutates under rm.mu and returns the notifications to emit
// once the lock is dropped. A non-empty by queues a kicked event to the
// removed member.
func (r *Registry) removeLocked(rm *room, name, reason, by string) ([]outbound, bool) {
	m := rm.members[name]
	delete(rm.members, name)

	var queue []outbound
	if by != "" {
		queue = append(queue, outbound{m.conn, KickedEvent{Type: TypeKicked, Reason: KickReasonAdmin, By: by}})
	}
	for _, other := range rm.members {
		queue = append(queue, outbound{other.conn, PeerEvent{Type: TypePeerLeft, User: name}})
	}
	if rm.operator == name {
		rm.operator = nextOperator(rm.members)
		if rm.operator != "" {
			ev := OwnerChangedEvent{Type: TypeOwnerChanged, Room: rm.name, Owner: rm.operator}
			for _, other := range rm.members {
				queue = append(queue, outbound{other.conn, ev})
			}
			log.Info().Str("module", "app.registry").Str("room", string(rm.name)).Str("owner", rm.operator).Msg("operator reassigned")
		}
	}
	log.Info().Str("module", "app.registry").Str("room", string(rm.name)).Str("user", name).Str("reason", reason).Msg("member removed")
	return queue, len(rm.members) == 0
}

func (r *Registry) finishRemoval(rm *room, queue []outbound, empty bool) {
	if empty {
		r.reapIfEmpty(rm)
	}
	r.emit(queue)
	r.roomsChanged()
	if empty && r.caster != nil {
		r.caster.RoomClosed(rm.name)
	}
}

// reapIfEmpty deletes the room entry if it is still registered and still
// empty. Lock order is always registry then room.
func (r *Registry) reapIfEmpty(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rooms[rm.name]
	if !ok || cur != rm {
		return
	}
	cur.mu.Lock()
	if len(cur.members) == 0 {
		cur.dead = true
		delete(r.rooms, rm.name)
		log.Info().Str("module", "app.registry").Str("room", string(rm.name)).Msg("room destroyed")
	}
	cur.mu.Unlock()
}

func (r *Registry) emit(queue []outbound) {
	for _, o := range queue {
		if o.conn == nil {
			continue
		}
		if err := o.conn.SendJSON(o.payload); err != nil {
			log.Debug().Err(err).Str("module", "app.registry").Msg("notification dropped")
		}
	}
}

func (r *Registry) roomsChanged() {
	if r.caster != nil {
		r.caster.RoomsChanged()
	}
}

// nextOperator picks the earliest-joined remaining member, names ascending
// on ties, so every node computes the same answer.
func nextOperator(members map[string]*member) string {
	next := ""
	var at time.Time
	for name, m := range members {
		if next == "" || m.meta.JoinedAt.Before(at) || (m.meta.JoinedAt.Equal(at) && name < next) {
			next = name
			at = m.meta.JoinedAt
		}
	}
	return next
}

// snapshotLocked must be called with rm.mu held.
func (rm *room) snapshotLocked() domain.RoomSnapshot {
	users := make([]string, 0, len(rm.members))
	for name := range rm.members {
		users = append(users, name)
	}
	sort.Strings(users)
	return domain.RoomSnapshot{
		Room:     rm.name,
		Operator: rm.operator,
		Created:  rm.createdAt.Unix(),
		Users:    users,
	}
}
