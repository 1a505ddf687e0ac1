package core

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Microphone acquisition failures, each surfaced distinctly to the user.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoMicrophone     = errors.New("no microphone found")
)

// LocalStream is captured local audio. Stop releases the capture device.
type LocalStream interface {
	AudioTracks() []webrtc.TrackLocal
	Stop()
}

// MediaSource acquires the local microphone.
type MediaSource interface {
	OpenMicrophone(ctx context.Context) (LocalStream, error)
}

// PeerConnection is the local end of the direct audio channel.
type PeerConnection interface {
	// AddLocalTrack attaches a captured track before negotiation.
	AddLocalTrack(track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(domain.ICECandidate))
	// CreateOffer generates an offer and commits it as local description.
	CreateOffer() (string, error)
	// ApplyOfferAndCreateAnswer sets the remote offer and commits a local answer.
	ApplyOfferAndCreateAnswer(offer string) (string, error)
	// ApplyAnswer sets the remote answer.
	ApplyAnswer(answer string) error
	// AddICECandidate applies a remote candidate.
	AddICECandidate(domain.ICECandidate) error
	// SetAudioEnabled starts or stops sending local audio without renegotiation.
	SetAudioEnabled(enabled bool) error
	Close()
}

// PeerFactory builds a peer connection using the given STUN/TURN urls.
type PeerFactory func(iceServers []string) (PeerConnection, error)
