package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	gen    uint64
	room   domain.RoomID
	since  time.Time
	cancel context.CancelFunc
}

// Registry tracks live signaling connections, at most one per client.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	nextGen  uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

// BindSignal registers a connection for sid and returns its generation. A
// previous connection of the same client is cancelled.
func (r *Registry) BindSignal(sid core.SessionID, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	prev := r.sessions[sid]
	r.nextGen++
	gen := r.nextGen
	r.sessions[sid] = &sessionEntry{gen: gen, since: time.Now(), cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.cancel != nil {
		prev.cancel()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("replaced signal connection")
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Uint64("gen", gen).Msg("bound signal")
	return gen
}

// Unbind removes the binding if it still belongs to generation gen.
func (r *Registry) Unbind(sid core.SessionID, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.gen == gen {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
}

// Touch records the room a client last addressed.
func (r *Registry) Touch(sid core.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.room = room
	}
}

// RoomClients counts live connections per room they last addressed.
func (r *Registry) RoomClients() map[domain.RoomID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.RoomID]int)
	for _, e := range r.sessions {
		if e.room != "" {
			out[e.room]++
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CancelAll closes every registered connection.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
}
