package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
)

// pollLoop reconciles against the store immediately and then once per interval
// until ctx is cancelled.
func (c *Controller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		_ = c.sync(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync runs one reconciliation pass outside the regular schedule.
func (c *Controller) Sync(ctx context.Context) error {
	c.mu.Lock()
	joined := c.joined()
	c.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	return c.sync(ctx)
}

func (c *Controller) sync(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()

	snap, err := c.store.GetVoiceSessionState(ctx, room)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined() || c.room != room {
		return nil
	}
	if err != nil {
		c.reportPollError(fmt.Errorf("fetch voice session: %w", err))
		return err
	}
	if c.pollErr != nil {
		c.pollErr = nil
		c.emit(Event{Type: EventPollRecovered, State: c.state})
	}
	c.reconcile(ctx, snap)
	return nil
}

// reconcile folds one fetched snapshot into local negotiation state. Running
// it twice on the same snapshot leaves the same end state.
func (c *Controller) reconcile(ctx context.Context, snap *domain.VoiceSession) {
	if snap == nil {
		return
	}

	switch c.role {
	case domain.RoleOfferer:
		c.reconcileAsOfferer(snap)
	case domain.RoleUndetermined:
		c.reconcileAsCandidateAnswerer(ctx, snap)
	}

	if c.remoteApplied && c.ownsNegotiation(snap) {
		c.applyCandidates(snap.ICECandidates)
		if c.state == StateJoined {
			c.setState(StateConnected)
			c.logger.Info().Str("room", string(c.room)).Str("role", c.role.String()).Msg("negotiation complete")
		}
	}
}

// ownsNegotiation reports whether snap still carries the offer this
// participant negotiated. Candidates of a later session are not ours.
func (c *Controller) ownsNegotiation(snap *domain.VoiceSession) bool {
	switch c.role {
	case domain.RoleOfferer:
		return snap.Offer == c.localOffer
	case domain.RoleAnswerer:
		return snap.Offer == c.answeredOffer
	default:
		return false
	}
}

func (c *Controller) reconcileAsOfferer(snap *domain.VoiceSession) {
	if snap.Offer != c.localOffer && !c.offerLost {
		c.offerLost = true
		c.logger.Warn().Str("room", string(c.room)).Msg("local offer was overwritten by another participant")
	}
	if !snap.HasAnswer() || c.remoteApplied {
		return
	}
	if err := c.pc.ApplyAnswer(snap.Answer); err != nil {
		c.logger.Warn().Err(err).Str("room", string(c.room)).Msg("apply answer failed, retrying next tick")
		return
	}
	c.remoteApplied = true
	c.logger.Info().Str("room", string(c.room)).Msg("answer applied")
}

// reconcileAsCandidateAnswerer answers the first foreign offer it sees. An
// answer that was generated but not stored is re-sent as is.
func (c *Controller) reconcileAsCandidateAnswerer(ctx context.Context, snap *domain.VoiceSession) {
	if !snap.HasOffer() {
		return
	}
	if snap.HasAnswer() {
		if c.localAnswer != "" && snap.Answer == c.localAnswer {
			c.role = domain.RoleAnswerer
			return
		}
		c.role = domain.RoleObserver
		c.logger.Info().Str("room", string(c.room)).Msg("call answered by another participant, observing")
		return
	}

	if c.localAnswer == "" || snap.Offer != c.answeredOffer {
		answer, err := c.pc.ApplyOfferAndCreateAnswer(snap.Offer)
		if err != nil {
			c.logger.Warn().Err(err).Str("room", string(c.room)).Msg("apply offer failed, retrying next tick")
			return
		}
		c.localAnswer = answer
		c.answeredOffer = snap.Offer
		c.remoteApplied = true
	}

	err := c.store.SendSDPAnswer(ctx, c.room, c.localAnswer)
	switch {
	case err == nil:
		c.role = domain.RoleAnswerer
		c.logger.Info().Str("room", string(c.room)).Msg("answer published")
	case errors.Is(err, domain.ErrAnswerExists):
		c.role = domain.RoleObserver
		c.logger.Info().Str("room", string(c.room)).Msg("another participant answered first, observing")
	default:
		c.reportPollError(fmt.Errorf("send answer: %w", err))
	}
}

// applyCandidates applies every candidate not seen before, in fetched order.
// Failures are logged; the candidate is still marked so it is not retried.
func (c *Controller) applyCandidates(cands []domain.ICECandidate) {
	for _, cand := range cands {
		if !c.applied.Add(cand) {
			continue
		}
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("room", string(c.room)).Str("candidate", cand.Candidate).Msg("skipping ice candidate")
			continue
		}
		c.logger.Debug().Str("room", string(c.room)).Uint16("line", cand.LineIndex).Msg("ice candidate applied")
	}
}

func (c *Controller) reportPollError(err error) {
	c.pollErr = err
	c.logger.Warn().Err(err).Str("room", string(c.room)).Msg("voice session poll failed")
	c.emit(Event{Type: EventPollError, State: c.state, Err: err})
}
