// Package call drives one participant's side of a voice call that negotiates
// through a polled signaling store.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultSTUNServer     = "stun:stun.l.google.com:19302"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	// StateJoined is joined but not yet negotiated with a peer.
	StateJoined
	// StateConnected has both descriptions applied locally.
	StateConnected
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateConnected:
		return "connected"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

type Config struct {
	ICEServers     []string
	PollInterval   time.Duration
	PublishTimeout time.Duration
	// ManualPoll leaves reconciliation to the host, which calls Sync from its
	// own poller. No background loop is started.
	ManualPoll bool
}

type Status struct {
	Room    domain.RoomID
	State   State
	Role    domain.Role
	Muted   bool
	PollErr error
	Applied int
}

// Controller owns the local capture, the local peer connection and the role
// decision for one call at a time.
type Controller struct {
	store  core.SignalingStore
	media  core.MediaSource
	peers  core.PeerFactory
	cfg    Config
	logger zerolog.Logger
	events chan Event

	// inflight tracks fire-and-forget candidate publications.
	inflight conc.WaitGroup

	mu       sync.Mutex
	state    State
	room     domain.RoomID
	role     domain.Role
	muted    bool
	stream   core.LocalStream
	pc       core.PeerConnection
	applied  *candidateSet
	pollErr  error
	stopPoll context.CancelFunc
	pollDone chan struct{}

	localOffer    string
	localAnswer   string
	answeredOffer string
	remoteApplied bool
	offerLost     bool
}

func New(store core.SignalingStore, media core.MediaSource, peers core.PeerFactory, cfg Config) *Controller {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{DefaultSTUNServer}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Controller{
		store:  store,
		media:  media,
		peers:  peers,
		cfg:    cfg,
		logger: log.With().Str("module", "app.call").Logger(),
		events: make(chan Event, 32),
	}
}

// Join acquires the microphone, builds the peer connection, opens the room's
// session and publishes an offer when nobody else has. Polling starts only
// after all of that succeeded; on failure everything acquired is released.
func (c *Controller) Join(ctx context.Context, room domain.RoomID) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrAlreadyJoined
	}
	c.setState(StateJoining)
	logger := c.logger.With().Str("room", string(room)).Logger()

	stream, err := c.media.OpenMicrophone(ctx)
	if err != nil {
		c.setState(StateIdle)
		jerr := mediaFailure(err)
		logger.Error().Err(err).Str("kind", jerr.Kind.String()).Msg("microphone unavailable")
		return jerr
	}

	applied := newCandidateSet()
	var pc core.PeerConnection
	defer func() {
		if err == nil {
			return
		}
		if pc != nil {
			pc.Close()
		}
		stream.Stop()
		c.setState(StateIdle)
		logger.Error().Err(err).Msg("join aborted")
	}()

	if pc, err = c.newPeer(room, stream, applied); err != nil {
		return &JoinError{Kind: FailureInternal, Step: "create peer connection", Err: err}
	}
	if err = c.store.StartVoiceSession(ctx, room); err != nil {
		return &JoinError{Kind: FailureConnection, Step: "start session", Err: err}
	}
	snap, err := c.store.GetVoiceSessionState(ctx, room)
	if err != nil {
		return &JoinError{Kind: FailureConnection, Step: "fetch session", Err: err}
	}

	role := domain.RoleUndetermined
	offer := ""
	switch domain.PhaseOf(snap) {
	case domain.PhaseAnswered:
		role = domain.RoleObserver
		logger.Info().Msg("call already answered, joining as observer")
	case domain.PhaseOffered:
		logger.Info().Msg("offer pending, waiting to answer")
	default:
		if offer, err = pc.CreateOffer(); err != nil {
			return &JoinError{Kind: FailureInternal, Step: "create offer", Err: err}
		}
		err = c.store.SendSDPOffer(ctx, room, offer)
		switch {
		case err == nil:
			role = domain.RoleOfferer
		case errors.Is(err, domain.ErrOfferExists):
			// Lost the race to another offerer. The local offer is committed on
			// this connection, so answer from a fresh one.
			logger.Warn().Msg("another participant offered first, switching to answer")
			pc.Close()
			pc = nil
			offer = ""
			if pc, err = c.newPeer(room, stream, applied); err != nil {
				return &JoinError{Kind: FailureInternal, Step: "recreate peer connection", Err: err}
			}
		default:
			return &JoinError{Kind: FailureConnection, Step: "send offer", Err: err}
		}
	}

	c.room = room
	c.role = role
	c.stream = stream
	c.pc = pc
	c.applied = applied
	c.muted = false
	c.pollErr = nil
	c.localOffer = offer
	c.localAnswer = ""
	c.answeredOffer = ""
	c.remoteApplied = false
	c.offerLost = false

	c.stopPoll, c.pollDone = nil, nil
	if !c.cfg.ManualPoll {
		pollCtx, cancel := context.WithCancel(context.Background())
		c.stopPoll = cancel
		c.pollDone = make(chan struct{})
		go c.pollLoop(pollCtx, c.pollDone)
	}

	c.setState(StateJoined)
	logger.Info().Str("role", role.String()).Dur("interval", c.cfg.PollInterval).Msg("joined voice")
	return nil
}

func (c *Controller) newPeer(room domain.RoomID, stream core.LocalStream, applied *candidateSet) (core.PeerConnection, error) {
	pc, err := c.peers(c.cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	for _, track := range stream.AudioTracks() {
		if err := pc.AddLocalTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}
	pc.OnICECandidate(func(cand domain.ICECandidate) {
		c.publishCandidate(room, applied, cand)
	})
	return pc, nil
}

// publishCandidate sends a local candidate without waiting for the result.
// The candidate is also marked applied so it is never fed back to ourselves.
func (c *Controller) publishCandidate(room domain.RoomID, applied *candidateSet, cand domain.ICECandidate) {
	applied.Add(cand)
	c.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		defer cancel()
		if err := c.store.AddICECandidate(ctx, room, cand); err != nil {
			c.logger.Warn().Err(err).Str("room", string(room)).Msg("publish ice candidate failed")
			return
		}
		c.logger.Debug().Str("room", string(room)).Uint16("line", cand.LineIndex).Msg("ice candidate published")
	})
}

// Leave stops polling, releases media, closes the connection and ends the
// room's session for every participant. Local teardown happens even when the
// store call fails; the store error is returned.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateLeaving {
		c.mu.Unlock()
		return nil
	}
	c.setState(StateLeaving)
	stop, done := c.stopPoll, c.pollDone
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.room
	if c.stream != nil {
		c.stream.Stop()
	}
	if c.pc != nil {
		c.pc.Close()
	}
	err := c.store.EndVoiceSession(ctx, room)
	c.reset()
	c.setState(StateIdle)
	if err != nil {
		c.logger.Error().Err(err).Str("room", string(room)).Msg("end voice session failed")
		return fmt.Errorf("end voice session: %w", err)
	}
	c.logger.Info().Str("room", string(room)).Msg("left voice")
	return nil
}

func (c *Controller) reset() {
	c.room = ""
	c.role = domain.RoleUndetermined
	c.muted = false
	c.stream = nil
	c.pc = nil
	c.applied = nil
	c.pollErr = nil
	c.stopPoll = nil
	c.pollDone = nil
	c.localOffer = ""
	c.localAnswer = ""
	c.answeredOffer = ""
	c.remoteApplied = false
	c.offerLost = false
}

// ToggleMute flips the local audio track. It never touches the store.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined() {
		return c.muted, ErrNotJoined
	}
	muted := !c.muted
	if err := c.pc.SetAudioEnabled(!muted); err != nil {
		return c.muted, fmt.Errorf("toggle mute: %w", err)
	}
	c.muted = muted
	c.logger.Info().Str("room", string(c.room)).Bool("muted", muted).Msg("microphone toggled")
	c.emit(Event{Type: EventMute, State: c.state, Muted: muted})
	return muted, nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Room:    c.room,
		State:   c.state,
		Role:    c.role,
		Muted:   c.muted,
		PollErr: c.pollErr,
	}
	if c.applied != nil {
		st.Applied = c.applied.Len()
	}
	return st
}

// Events delivers state changes and poll errors. Slow readers miss events.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) joined() bool {
	return c.state == StateJoined || c.state == StateConnected
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(Event{Type: EventState, State: s, Muted: c.muted})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug().Str("event", ev.Type.String()).Msg("event dropped")
	}
}

// waitPublished blocks until every candidate publication started so far returned.
func (c *Controller) waitPublished() {
	c.inflight.Wait()
}
