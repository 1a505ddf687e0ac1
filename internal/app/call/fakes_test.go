package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

var errMalformedSDP = errors.New("malformed sdp")

// fakePeer records negotiation calls. Descriptions starting with "malformed"
// and candidates starting with "bad" are rejected.
type fakePeer struct {
	name string

	mu             sync.Mutex
	onICE          func(domain.ICECandidate)
	tracks         int
	offers         int
	offersApplied  int
	local          string
	remote         string
	answersApplied []string
	candidates     []domain.ICECandidate
	attempts       int
	audioEnabled   bool
	closed         bool
}

func (p *fakePeer) AddLocalTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) CreateOffer() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	p.local = "offer-" + p.name
	return p.local, nil
}

func (p *fakePeer) ApplyOfferAndCreateAnswer(offer string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(offer, "malformed") {
		return "", errMalformedSDP
	}
	p.offersApplied++
	p.remote = offer
	p.local = "answer-" + p.name
	return p.local, nil
}

func (p *fakePeer) ApplyAnswer(answer string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(answer, "malformed") {
		return errMalformedSDP
	}
	if !strings.HasPrefix(p.local, "offer-") {
		return errors.New("no local offer")
	}
	p.remote = answer
	p.answersApplied = append(p.answersApplied, answer)
	return nil
}

func (p *fakePeer) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.remote == "" {
		return errors.New("remote description not set")
	}
	if strings.HasPrefix(c.Candidate, "bad") {
		return fmt.Errorf("parse candidate %q", c.Candidate)
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) SetAudioEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audioEnabled = enabled
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// emit simulates the ICE agent discovering a local candidate.
func (p *fakePeer) emit(c domain.ICECandidate) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

type peerState struct {
	name           string
	tracks         int
	offers         int
	offersApplied  int
	local          string
	remote         string
	answersApplied []string
	candidates     []domain.ICECandidate
	attempts       int
	audioEnabled   bool
	closed         bool
}

func (p *fakePeer) snapshot() peerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerState{
		name:           p.name,
		tracks:         p.tracks,
		offers:         p.offers,
		offersApplied:  p.offersApplied,
		local:          p.local,
		remote:         p.remote,
		answersApplied: append([]string(nil), p.answersApplied...),
		candidates:     append([]domain.ICECandidate(nil), p.candidates...),
		attempts:       p.attempts,
		audioEnabled:   p.audioEnabled,
		closed:         p.closed,
	}
}

// peerBank is a core.PeerFactory handing out named fakePeers.
type peerBank struct {
	name string

	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (b *peerBank) factory(iceServers []string) (core.PeerConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	p := &fakePeer{name: fmt.Sprintf("%s%d", b.name, len(b.peers)), audioEnabled: true}
	b.peers = append(b.peers, p)
	return p, nil
}

func (b *peerBank) last() *fakePeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.peers) == 0 {
		return nil
	}
	return b.peers[len(b.peers)-1]
}

func (b *peerBank) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

type fakeStream struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	stopped bool
}

func (s *fakeStream) AudioTracks() []webrtc.TrackLocal { return s.tracks }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeMedia struct {
	t   *testing.T
	err error

	mu      sync.Mutex
	streams []*fakeStream
}

func (m *fakeMedia) OpenMicrophone(ctx context.Context) (core.LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "voice")
	require.NoError(m.t, err)
	s := &fakeStream{tracks: []webrtc.TrackLocal{track}}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMedia) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// flakyStore wraps a real store and fails selected operations on demand.
type flakyStore struct {
	core.SignalingStore

	mu           sync.Mutex
	errStart     error
	errEnd       error
	errOffer     error
	errAnswer    error
	errCandidate error
	errGet       error
	beforeOffer  func()
	answers      int
}

func (f *flakyStore) set(fn func(f *flakyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyStore) fail(pick func(f *flakyStore) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pick(f)
}

func (f *flakyStore) StartVoiceSession(ctx context.Context, room domain.RoomID) error {
	if err := f.fail(func(f *flakyStore) error { return f.errStart }); err != nil {
		return err
	}
	return f.SignalingStore.StartVoiceSession(ctx, room)
}

func (f *flakyStore) EndVoiceSession(ctx context.Context, room domain.RoomID) error {
	if err := f.fail(func(f *flakyStore) error { return f.errEnd }); err != nil {
		return err
	}
	return f.SignalingStore.EndVoiceSession(ctx, room)
}

func (f *flakyStore) SendSDPOffer(ctx context.Context, room domain.RoomID, offer string) error {
	if err := f.fail(func(f *flakyStore) error { return f.errOffer }); err != nil {
		return err
	}
	f.mu.Lock()
	hook := f.beforeOffer
	f.beforeOffer = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.SignalingStore.SendSDPOffer(ctx, room, offer)
}

func (f *flakyStore) SendSDPAnswer(ctx context.Context, room domain.RoomID, answer string) error {
	f.mu.Lock()
	f.answers++
	f.mu.Unlock()
	if err := f.fail(func(f *flakyStore) error { return f.errAnswer }); err != nil {
		return err
	}
	return f.SignalingStore.SendSDPAnswer(ctx, room, answer)
}

func (f *flakyStore) AddICECandidate(ctx context.Context, room domain.RoomID, c domain.ICECandidate) error {
	if err := f.fail(func(f *flakyStore) error { return f.errCandidate }); err != nil {
		return err
	}
	return f.SignalingStore.AddICECandidate(ctx, room, c)
}

func (f *flakyStore) GetVoiceSessionState(ctx context.Context, room domain.RoomID) (*domain.VoiceSession, error) {
	if err := f.fail(func(f *flakyStore) error { return f.errGet }); err != nil {
		return nil, err
	}
	return f.SignalingStore.GetVoiceSessionState(ctx, room)
}

const testRoom = domain.RoomID("r1")

func newStore(t *testing.T) *app.RoomManager {
	t.Helper()
	store := app.NewRoomManager(context.Background(), app.Options{Policy: app.SetOnce})
	t.Cleanup(store.Close)
	return store
}

type participant struct {
	ctl   *Controller
	peers *peerBank
	media *fakeMedia
}

func newParticipant(t *testing.T, name string, store core.SignalingStore) *participant {
	t.Helper()
	p := &participant{
		peers: &peerBank{name: name},
		media: &fakeMedia{t: t},
	}
	p.ctl = New(store, p.media, p.peers.factory, Config{ManualPoll: true})
	t.Cleanup(func() { _ = p.ctl.Leave(context.Background()) })
	return p
}

func (p *participant) join(t *testing.T) {
	t.Helper()
	require.NoError(t, p.ctl.Join(context.Background(), testRoom))
}

func (p *participant) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, p.ctl.Sync(context.Background()))
}

func (p *participant) peer() *fakePeer { return p.peers.last() }

func snapshot(t *testing.T, store core.SignalingStore) *domain.VoiceSession {
	t.Helper()
	s, err := store.GetVoiceSessionState(context.Background(), testRoom)
	require.NoError(t, err)
	return s
}
