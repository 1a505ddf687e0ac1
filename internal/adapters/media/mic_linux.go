//go:build linux

package media

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Microphone opens the default capture device through pion/mediadevices and
// encodes it with Opus.
type Microphone struct {
	selector *mediadevices.CodecSelector
	logger   zerolog.Logger
}

func NewMicrophone() (*Microphone, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	return &Microphone{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
		logger:   log.With().Str("module", "media").Logger(),
	}, nil
}

// RegisterCodecs populates a media engine with the encoders this microphone
// produces. It fits rtc.CodecSetup.
func (m *Microphone) RegisterCodecs(me *webrtc.MediaEngine) error {
	m.selector.Populate(me)
	return nil
}

func (m *Microphone) OpenMicrophone(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := false
	for _, d := range mediadevices.EnumerateDevices() {
		m.logger.Debug().Str("label", d.Label).Int("kind", int(d.Kind)).Msg("media device")
		if d.Kind == mediadevices.AudioInput {
			found = true
		}
	}
	if !found {
		return nil, core.ErrNoMicrophone
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: m.selector,
	})
	if err != nil {
		return nil, classify(err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, core.ErrNoMicrophone
	}
	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				m.logger.Warn().Err(err).Msg("local track ended")
			}
		})
	}
	m.logger.Info().Int("tracks", len(tracks)).Msg("microphone captured")
	return &localStream{tracks: tracks, logger: m.logger}, nil
}

type localStream struct {
	tracks []mediadevices.Track
	logger zerolog.Logger
}

func (s *localStream) AudioTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *localStream) Stop() {
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close local track")
		}
	}
}
