package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CodecSetup registers the codecs a connection may negotiate.
type CodecSetup func(m *webrtc.MediaEngine) error

// DefaultCodecs registers pion's default codec set, Opus included.
func DefaultCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
}

// NewFactory returns a core.PeerFactory building connections whose media
// engine is prepared by setup.
func NewFactory(setup CodecSetup) core.PeerFactory {
	if setup == nil {
		setup = DefaultCodecs
	}
	return func(iceServers []string) (core.PeerConnection, error) {
		conn, err := NewWebRTCConnection(DefaultWebRTCConfig(iceServers), setup)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type localSender struct {
	track  webrtc.TrackLocal
	sender *webrtc.RTPSender
}

// WebRTCConnection adapts a pion PeerConnection to core.PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu       sync.Mutex
	onICE    func(domain.ICECandidate)
	senders  []localSender
	monitors []*TrackMonitor
	closed   bool
}

var _ core.PeerConnection = (*WebRTCConnection)(nil)

func NewWebRTCConnection(cfg webrtc.Configuration, setup CodecSetup) (*WebRTCConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := setup(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	c := &WebRTCConnection{
		pc:     pc,
		logger: log.With().Str("module", "webrtc").Logger(),
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn == nil {
			return
		}
		init := cand.ToJSON()
		out := domain.ICECandidate{Candidate: init.Candidate}
		if init.SDPMLineIndex != nil {
			out.LineIndex = *init.SDPMLineIndex
		}
		fn(out)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		m := NewTrackMonitor(track.ID())
		c.mu.Lock()
		c.monitors = append(c.monitors, m)
		c.mu.Unlock()
		go c.drain(track, m)
	})
}

// drain reads the remote track until it ends, feeding the monitor.
func (c *WebRTCConnection) drain(track *webrtc.TrackRemote, m *TrackMonitor) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			st := m.Stats()
			c.logger.Info().Err(err).
				Str("track_id", st.TrackID).
				Uint64("packets", st.Packets).
				Uint64("lost", st.Lost).
				Msg("remote track ended")
			return
		}
		m.Observe(pkt)
	}
}

func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.senders = append(c.senders, localSender{track: track, sender: sender})
	c.mu.Unlock()

	// RTCP must be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
}

func (c *WebRTCConnection) AddICECandidate(cand domain.ICECandidate) error {
	idx := cand.LineIndex
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMLineIndex: &idx,
	})
}

// SetAudioEnabled detaches the local tracks from their senders while muted,
// so nothing is transmitted, and reattaches them on unmute.
func (c *WebRTCConnection) SetAudioEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, s := range c.senders {
		var track webrtc.TrackLocal
		if enabled {
			track = s.track
		}
		if err := s.sender.ReplaceTrack(track); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoteStats reports the monitors of every remote track seen so far.
func (c *WebRTCConnection) RemoteStats() []TrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackStats, 0, len(c.monitors))
	for _, m := range c.monitors {
		out = append(out, m.Stats())
	}
	return out
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return
	}
	c.logger.Info().Msg("closed")
}
