//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Microphone has no capture driver on this platform.
type Microphone struct{}

func NewMicrophone() (*Microphone, error) {
	log.Warn().Str("module", "media").Msg("microphone capture is only supported on linux")
	return &Microphone{}, nil
}

func (m *Microphone) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (m *Microphone) OpenMicrophone(context.Context) (core.LocalStream, error) {
	return nil, core.ErrNoMicrophone
}
