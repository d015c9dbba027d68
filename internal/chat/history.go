// Package chat is the boundary to the chat collaborator. The coordinator
// only hands recent history through on join; storage and rendering live
// behind this interface.
package chat

import (
	"sync"
	"time"

	"github.com/hububba/calls/internal/domain"
)

type Message struct {
	User string `json:"user"`
	Text string `json:"text"`
	At   int64  `json:"ts"`
}

// History is what the gateway needs from the chat collaborator.
type History interface {
	Append(room domain.RoomName, msg Message)
	Recent(room domain.RoomName) []Message
	Drop(room domain.RoomName)
}

// MemoryHistory keeps the last N messages per room. It dies with the room.
type MemoryHistory struct {
	mu    sync.RWMutex
	limit int
	rooms map[domain.RoomName][]Message
}

func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = 50
	}
	return &MemoryHistory{
		limit: limit,
		rooms: make(map[domain.RoomName][]Message),
	}
}

func (h *MemoryHistory) Append(room domain.RoomName, msg Message) {
	if msg.At == 0 {
		msg.At = time.Now().Unix()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.rooms[room], msg)
	if len(msgs) > h.limit {
		msgs = msgs[len(msgs)-h.limit:]
	}
	h.rooms[room] = msgs
}

func (h *MemoryHistory) Recent(room domain.RoomName) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.rooms[room]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func (h *MemoryHistory) Drop(room domain.RoomName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
}
