package core

import (
	"context"

	"github.com/dkeye/VoiceRelay/internal/domain"
)

// SignalingStore is the shared, polled rendezvous slot a call negotiates through.
// Implementations must be safe for concurrent use.
type SignalingStore interface {
	// StartVoiceSession creates the room's session if none exists.
	StartVoiceSession(ctx context.Context, room domain.RoomID) error
	// EndVoiceSession clears offer, answer and candidates for everybody.
	EndVoiceSession(ctx context.Context, room domain.RoomID) error
	SendSDPOffer(ctx context.Context, room domain.RoomID, offer string) error
	SendSDPAnswer(ctx context.Context, room domain.RoomID, answer string) error
	// AddICECandidate appends without deduplication.
	AddICECandidate(ctx context.Context, room domain.RoomID, cand domain.ICECandidate) error
	// GetVoiceSessionState returns nil when the room has no session.
	GetVoiceSessionState(ctx context.Context, room domain.RoomID) (*domain.VoiceSession, error)
}
