package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/VoiceRelay/internal/core"
)

var (
	ErrAlreadyJoined = errors.New("already joined a voice call")
	ErrNotJoined     = errors.New("not joined to a voice call")
)

// FailureKind classifies why a join failed, for user-facing messages.
type FailureKind int

const (
	FailureInternal FailureKind = iota
	FailurePermissionDenied
	FailureNoMicrophone
	FailureConnection
)

func (k FailureKind) String() string {
	switch k {
	case FailurePermissionDenied:
		return "permission_denied"
	case FailureNoMicrophone:
		return "no_microphone"
	case FailureConnection:
		return "connection"
	default:
		return "internal"
	}
}

// JoinError is returned by Controller.Join. Nothing is retried automatically;
// the user re-triggers the join.
type JoinError struct {
	Kind FailureKind
	Step string
	Err  error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join voice (%s): %s: %v", e.Kind, e.Step, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the user for this failure.
func (e *JoinError) UserMessage() string {
	switch e.Kind {
	case FailurePermissionDenied:
		return "Microphone permission denied. Please allow microphone access to use voice chat."
	case FailureNoMicrophone:
		return "No microphone found. Please connect a microphone to use voice chat."
	case FailureConnection:
		return "Failed to connect to voice session. Please check your connection and try again."
	default:
		return "Failed to join voice chat. Please try again."
	}
}

// Guidance lists the steps that let the user recover.
func (e *JoinError) Guidance() []string {
	switch e.Kind {
	case FailurePermissionDenied:
		return []string{
			"Grant this application access to the microphone in your system privacy settings",
			"Make sure your user can open the audio capture device",
			"Join voice again",
		}
	case FailureNoMicrophone:
		return []string{
			"Connect a microphone or headset",
			"Check that the system detects it as an input device",
			"Join voice again",
		}
	case FailureConnection:
		return []string{
			"Check your network connection",
			"Join voice again",
		}
	default:
		return []string{"Join voice again"}
	}
}

func mediaFailure(err error) *JoinError {
	kind := FailureInternal
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		kind = FailurePermissionDenied
	case errors.Is(err, core.ErrNoMicrophone):
		kind = FailureNoMicrophone
	}
	return &JoinError{Kind: kind, Step: "open microphone", Err: err}
}
