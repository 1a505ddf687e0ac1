package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
)

// errRetired is returned by submit when the actor stopped before taking the
// command. The command did not run and may be resubmitted to a new actor.
var errRetired = errors.New("room actor retired")

type command struct {
	apply func(s *slot) error
	done  chan error
}

// slot is the room's session. Only the owning roomActor goroutine touches it.
type slot struct {
	session *domain.VoiceSession
	opts    *Options
}

// roomActor owns one room's slot and serializes every operation on it.
type roomActor struct {
	id     domain.RoomID
	cmds   chan command
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
	slot   slot

	// gone is closed once the actor has left the manager for good.
	gone chan struct{}
	// release unregisters the actor from its manager.
	release func(r *roomActor)
}

func newRoomActor(ctx context.Context, cancel context.CancelFunc, id domain.RoomID, opts *Options, logger zerolog.Logger) *roomActor {
	return &roomActor{
		id:      id,
		cmds:    make(chan command),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With().Str("room", string(id)).Logger(),
		slot:    slot{opts: opts},
		gone:    make(chan struct{}),
		release: func(*roomActor) {},
	}
}

// retire stops the actor once its slot is empty. The manager entry is removed
// before gone is closed so resubmitted commands reach a fresh actor.
func (r *roomActor) retire() {
	r.release(r)
	close(r.gone)
	r.cancel()
	r.logger.Debug().Msg("room actor retired")
}

func (r *roomActor) run() {
	var (
		lease  *time.Timer
		expire <-chan time.Time
	)
	defer func() {
		if lease != nil {
			lease.Stop()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug().Msg("room actor stopped")
			return
		case cmd := <-r.cmds:
			cmd.done <- cmd.apply(&r.slot)
			if r.slot.session == nil {
				r.retire()
				return
			}
			if ttl := r.slot.opts.SessionTTL; ttl > 0 {
				if lease == nil {
					lease = time.NewTimer(ttl)
				} else {
					if !lease.Stop() {
						select {
						case <-lease.C:
						default:
						}
					}
					lease.Reset(ttl)
				}
				expire = lease.C
			} else {
				expire = nil
			}
		case <-expire:
			expire = nil
			if r.slot.session != nil {
				r.logger.Warn().
					Str("phase", domain.PhaseOf(r.slot.session).String()).
					Dur("ttl", r.slot.opts.SessionTTL).
					Msg("voice session lease expired, clearing")
				r.slot.session = nil
			}
			r.retire()
			return
		}
	}
}

// submit runs fn on the actor goroutine and waits for its result.
func (r *roomActor) submit(ctx context.Context, fn func(s *slot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	select {
	case r.cmds <- command{apply: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gone:
		return errRetired
	case <-r.ctx.Done():
		select {
		case <-r.gone:
			return errRetired
		default:
			return domain.ErrStoreClosed
		}
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gone:
		// The command was taken, so its result is already buffered.
		return <-done
	case <-r.ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return domain.ErrStoreClosed
		}
	}
}

func (s *slot) start() {
	if s.session != nil {
		return
	}
	s.session = domain.NewVoiceSession()
}

func (s *slot) end() {
	s.session = nil
}

func (s *slot) setOffer(sdp string) error {
	if sdp == "" {
		return domain.ErrEmptySDP
	}
	if s.session == nil {
		return domain.ErrNoSession
	}
	if s.session.HasOffer() && s.opts.Policy == SetOnce {
		return domain.ErrOfferExists
	}
	s.session.Offer = sdp
	return nil
}

func (s *slot) setAnswer(sdp string) error {
	if sdp == "" {
		return domain.ErrEmptySDP
	}
	if s.session == nil {
		return domain.ErrNoSession
	}
	if !s.session.HasOffer() {
		return domain.ErrNoOffer
	}
	if s.session.HasAnswer() && s.opts.Policy == SetOnce {
		return domain.ErrAnswerExists
	}
	s.session.Answer = sdp
	return nil
}

func (s *slot) addCandidate(c domain.ICECandidate) error {
	if c.Candidate == "" {
		return domain.ErrInvalidCandidate
	}
	if s.session == nil {
		return domain.ErrNoSession
	}
	if max := s.opts.MaxCandidates; max > 0 && len(s.session.ICECandidates) >= max {
		return domain.ErrCandidateLimit
	}
	s.session.ICECandidates = append(s.session.ICECandidates, c)
	return nil
}
