package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Policy WritePolicy
	// SessionTTL clears a session nobody touched for this long. Zero disables expiry.
	SessionTTL time.Duration
	// MaxCandidates caps the candidate list per session. Zero means unlimited.
	MaxCandidates int
}

// SessionInfo is an operator view of one live session.
type SessionInfo struct {
	Room       domain.RoomID `json:"room"`
	Phase      string        `json:"phase"`
	Candidates int           `json:"candidates"`
	// Clients is the number of signal connections last addressing the room.
	Clients int `json:"clients"`
}

// RoomManager is the in-memory signaling store: one goroutine per room owns
// that room's slot.
type RoomManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomActor
	wg    sync.WaitGroup
}

var _ core.SignalingStore = (*RoomManager)(nil)

func NewRoomManager(parent context.Context, opts Options) *RoomManager {
	ctx, cancel := context.WithCancel(parent)
	return &RoomManager{
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: log.With().Str("module", "app.store").Logger(),
		rooms:  make(map[domain.RoomID]*roomActor),
	}
}

func (m *RoomManager) getOrCreate(id domain.RoomID) *roomActor {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room
	}
	roomCtx, roomCancel := context.WithCancel(m.ctx)
	room = newRoomActor(roomCtx, roomCancel, id, &m.opts, m.logger)
	room.release = m.stopRoom
	if m.ctx.Err() != nil {
		// Closed: submit on this actor reports ErrStoreClosed.
		return room
	}
	m.rooms[id] = room
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		room.run()
	}()
	return room
}

// stopRoom drops r from the manager unless a newer actor already took its place.
func (m *RoomManager) stopRoom(r *roomActor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
}

// do runs fn on the room's actor, moving to a fresh actor when the one it
// found retired before taking the command.
func (m *RoomManager) do(ctx context.Context, room domain.RoomID, fn func(s *slot) error) error {
	for {
		err := m.getOrCreate(room).submit(ctx, fn)
		if !errors.Is(err, errRetired) {
			return err
		}
	}
}

func (m *RoomManager) roomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) StartVoiceSession(ctx context.Context, room domain.RoomID) error {
	err := m.do(ctx, room, func(s *slot) error {
		existed := s.session != nil
		s.start()
		if existed {
			m.logger.Debug().Str("room", string(room)).Str("phase", domain.PhaseOf(s.session).String()).Msg("start on live session ignored")
		}
		return nil
	})
	if err == nil {
		m.logger.Info().Str("room", string(room)).Msg("voice session started")
	}
	return err
}

func (m *RoomManager) EndVoiceSession(ctx context.Context, room domain.RoomID) error {
	err := m.do(ctx, room, func(s *slot) error {
		s.end()
		return nil
	})
	if err == nil {
		m.logger.Info().Str("room", string(room)).Msg("voice session ended")
	}
	return err
}

func (m *RoomManager) SendSDPOffer(ctx context.Context, room domain.RoomID, offer string) error {
	err := m.do(ctx, room, func(s *slot) error { return s.setOffer(offer) })
	m.logWrite(room, "offer", err)
	return err
}

func (m *RoomManager) SendSDPAnswer(ctx context.Context, room domain.RoomID, answer string) error {
	err := m.do(ctx, room, func(s *slot) error { return s.setAnswer(answer) })
	m.logWrite(room, "answer", err)
	return err
}

func (m *RoomManager) AddICECandidate(ctx context.Context, room domain.RoomID, cand domain.ICECandidate) error {
	return m.do(ctx, room, func(s *slot) error { return s.addCandidate(cand) })
}

func (m *RoomManager) GetVoiceSessionState(ctx context.Context, room domain.RoomID) (*domain.VoiceSession, error) {
	var snap *domain.VoiceSession
	err := m.do(ctx, room, func(s *slot) error {
		snap = s.session.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// List reports every room that currently holds a session, sorted by room.
func (m *RoomManager) List(ctx context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	rooms := make([]*roomActor, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(rooms))
	for _, r := range rooms {
		var info *SessionInfo
		err := r.submit(ctx, func(s *slot) error {
			if s.session != nil {
				info = &SessionInfo{
					Room:       r.id,
					Phase:      domain.PhaseOf(s.session).String(),
					Candidates: len(s.session.ICECandidates),
				}
			}
			return nil
		})
		if errors.Is(err, errRetired) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if info != nil {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out, nil
}

// Close stops every room actor and waits for them to exit.
func (m *RoomManager) Close() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("signaling store closed")
}

func (m *RoomManager) logWrite(room domain.RoomID, field string, err error) {
	if err != nil {
		m.logger.Warn().Err(err).Str("room", string(room)).Str("field", field).Msg("write rejected")
		return
	}
	m.logger.Info().Str("room", string(room)).Str("field", field).Msg("description stored")
}
