package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hububba/calls/internal/domain"
)

// Sweep evicts every member whose lastSeen is older than the presence
// timeout, exactly as a voluntary leave would. It takes each room's lock
// in turn, so it can race explicit leaves safely: the second remover
// finds nothing to do. Returns the number of evicted members.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	cutoff := r.now().Add(-r.timeout)
	evicted := 0
	for _, rm := range rooms {
		for {
			rm.mu.Lock()
			stale := ""
			for name, m := range rm.members {
				if m.meta.LastSeen.Before(cutoff) {
					stale = name
					break
				}
			}
			if stale == "" {
				rm.mu.Unlock()
				break
			}
			queue, empty := r.removeLocked(rm, stale, "timeout", "")
			rm.mu.Unlock()

			log.Info().Str("module", "app.presence").Str("room", string(rm.name)).Str("user", stale).Msg("member evicted on presence timeout")
			r.finishRemoval(rm, queue, empty)
			evicted++
			if empty {
				break
			}
		}
	}
	return evicted
}

// RunSweeper drives Sweep until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.presence").Msg("sweeper stopped")
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// Touch refreshes lastSeen on any inbound activity from the member's
// owning connection.
func (r *Registry) Touch(roomName domain.RoomName, name, connID string) {
	r.Heartbeat(roomName, name, connID)
}
