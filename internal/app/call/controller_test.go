package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_FirstParticipantBecomesOfferer(t *testing.T) {
	store := newStore(t)
	a := newParticipant(t, "A", store)

	a.join(t)

	st := a.ctl.Status()
	assert.Equal(t, StateJoined, st.State)
	assert.Equal(t, domain.RoleOfferer, st.Role)
	assert.Equal(t, testRoom, st.Room)

	snap := snapshot(t, store)
	require.NotNil(t, snap)
	assert.Equal(t, "offer-A0", snap.Offer)
	assert.Empty(t, snap.Answer)
	assert.Empty(t, snap.ICECandidates)

	peer := a.peer().snapshot()
	assert.Equal(t, 1, peer.tracks)
	assert.Equal(t, 1, peer.offers)
}

func TestJoin_MediaFailuresAreClassified(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind FailureKind
	}{
		{"permission", core.ErrPermissionDenied, FailurePermissionDenied},
		{"no device", core.ErrNoMicrophone, FailureNoMicrophone},
		{"platform", errors.New("driver exploded"), FailureInternal},
	}
	messages := map[string]bool{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			p := newParticipant(t, "A", store)
			p.media.err = tc.err

			err := p.ctl.Join(context.Background(), testRoom)

			var jerr *JoinError
			require.ErrorAs(t, err, &jerr)
			assert.Equal(t, tc.kind, jerr.Kind)
			assert.ErrorIs(t, err, tc.err)
			assert.NotEmpty(t, jerr.Guidance())
			messages[jerr.UserMessage()] = true

			assert.Equal(t, StateIdle, p.ctl.Status().State)
			assert.Zero(t, p.peers.count(), "no peer connection without a microphone")
			assert.Nil(t, snapshot(t, store), "store untouched")
		})
	}
	assert.Len(t, messages, len(cases), "each failure has its own message")
}

func TestJoin_StoreFailureReleasesResources(t *testing.T) {
	flaky := &flakyStore{SignalingStore: newStore(t)}
	flaky.set(func(f *flakyStore) { f.errStart = errors.New("connection refused") })
	p := newParticipant(t, "A", flaky)

	err := p.ctl.Join(context.Background(), testRoom)

	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, FailureConnection, jerr.Kind)
	assert.True(t, p.media.last().isStopped())
	assert.True(t, p.peer().snapshot().closed)
	assert.Equal(t, StateIdle, p.ctl.Status().State)

	flaky.set(func(f *flakyStore) { f.errStart = nil })
	p.join(t)
	assert.Equal(t, domain.RoleOfferer, p.ctl.Status().Role)
}

func TestJoin_OfferFailureReleasesResources(t *testing.T) {
	flaky := &flakyStore{SignalingStore: newStore(t)}
	flaky.set(func(f *flakyStore) { f.errOffer = errors.New("timeout") })
	p := newParticipant(t, "A", flaky)

	err := p.ctl.Join(context.Background(), testRoom)

	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, FailureConnection, jerr.Kind)
	assert.Equal(t, "send offer", jerr.Step)
	assert.True(t, p.media.last().isStopped())
	assert.True(t, p.peer().snapshot().closed)
}

func TestJoin_PeerFactoryFailure(t *testing.T) {
	store := newStore(t)
	p := newParticipant(t, "A", store)
	p.peers.err = errors.New("no ice agent")

	err := p.ctl.Join(context.Background(), testRoom)

	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, FailureInternal, jerr.Kind)
	assert.True(t, p.media.last().isStopped())
	assert.Nil(t, snapshot(t, store))
}

func TestJoin_Twice(t *testing.T) {
	store := newStore(t)
	p := newParticipant(t, "A", store)
	p.join(t)

	assert.ErrorIs(t, p.ctl.Join(context.Background(), testRoom), ErrAlreadyJoined)
}

func TestJoin_OfferRaceLoserAnswers(t *testing.T) {
	store := newStore(t)
	flaky := &flakyStore{SignalingStore: store}
	// Another participant's offer lands between our fetch and our offer.
	flaky.set(func(f *flakyStore) {
		f.beforeOffer = func() {
			require.NoError(t, store.SendSDPOffer(context.Background(), testRoom, "offer-X"))
		}
	})
	b := newParticipant(t, "B", flaky)

	b.join(t)

	assert.Equal(t, domain.RoleUndetermined, b.ctl.Status().Role)
	require.Equal(t, 2, b.peers.count())
	assert.True(t, b.peers.peers[0].snapshot().closed, "connection holding the lost offer is discarded")

	b.sync(t)

	snap := snapshot(t, store)
	assert.Equal(t, "offer-X", snap.Offer)
	assert.Equal(t, "answer-B1", snap.Answer)
	assert.Equal(t, domain.RoleAnswerer, b.ctl.Status().Role)
	assert.Equal(t, 1, b.peer().snapshot().tracks)
}

func TestLeave_ClearsSessionAndReleases(t *testing.T) {
	store := newStore(t)
	a := newParticipant(t, "A", store)
	a.join(t)
	a.peer().emit(domain.ICECandidate{Candidate: "cand-a", LineIndex: 0})
	a.ctl.waitPublished()
	require.Len(t, snapshot(t, store).ICECandidates, 1)

	require.NoError(t, a.ctl.Leave(context.Background()))

	assert.Nil(t, snapshot(t, store))
	assert.True(t, a.media.last().isStopped())
	assert.True(t, a.peer().snapshot().closed)
	st := a.ctl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, domain.RoleUndetermined, st.Role)
	assert.Zero(t, st.Applied)

	assert.NoError(t, a.ctl.Leave(context.Background()), "leave is idempotent")
	assert.ErrorIs(t, a.ctl.Sync(context.Background()), ErrNotJoined)
}

func TestLeave_EndFailureStillReleasesLocally(t *testing.T) {
	flaky := &flakyStore{SignalingStore: newStore(t)}
	p := newParticipant(t, "A", flaky)
	p.join(t)
	boom := errors.New("gateway timeout")
	flaky.set(func(f *flakyStore) { f.errEnd = boom })

	err := p.ctl.Leave(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.True(t, p.media.last().isStopped())
	assert.True(t, p.peer().snapshot().closed)
	assert.Equal(t, StateIdle, p.ctl.Status().State)
}

func TestToggleMute_IsLocalOnly(t *testing.T) {
	store := newStore(t)
	a := newParticipant(t, "A", store)

	_, err := a.ctl.ToggleMute()
	assert.ErrorIs(t, err, ErrNotJoined)

	a.join(t)
	before := snapshot(t, store)

	muted, err := a.ctl.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, a.peer().snapshot().audioEnabled)
	assert.True(t, a.ctl.Status().Muted)
	assert.Equal(t, before, snapshot(t, store))

	muted, err = a.ctl.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, a.peer().snapshot().audioEnabled)
}

func TestLocalCandidates_PublishedFireAndForget(t *testing.T) {
	flaky := &flakyStore{SignalingStore: newStore(t)}
	a := newParticipant(t, "A", flaky)
	a.join(t)

	a.peer().emit(domain.ICECandidate{Candidate: "cand-a1", LineIndex: 0})
	a.ctl.waitPublished()
	assert.Equal(t, []domain.ICECandidate{{Candidate: "cand-a1", LineIndex: 0}}, snapshot(t, flaky).ICECandidates)

	flaky.set(func(f *flakyStore) { f.errCandidate = errors.New("503") })
	a.peer().emit(domain.ICECandidate{Candidate: "cand-a2", LineIndex: 0})
	a.ctl.waitPublished()

	st := a.ctl.Status()
	assert.Equal(t, StateJoined, st.State, "publication failure is not fatal")
	assert.NoError(t, st.PollErr)
	assert.Len(t, snapshot(t, flaky).ICECandidates, 1)
}

func TestEvents_ReportStateChanges(t *testing.T) {
	store := newStore(t)
	a := newParticipant(t, "A", store)
	a.join(t)

	var states []State
	timeout := time.After(time.Second)
	for len(states) < 2 {
		select {
		case ev := <-a.ctl.Events():
			if ev.Type == EventState {
				states = append(states, ev.State)
			}
		case <-timeout:
			t.Fatalf("missing state events, got %v", states)
		}
	}
	assert.Equal(t, []State{StateJoining, StateJoined}, states)
}
