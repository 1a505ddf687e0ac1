package domain

import "strconv"

// ICECandidate is a network-reachability hint published by one participant.
type ICECandidate struct {
	Candidate string `json:"candidate"`
	LineIndex uint16 `json:"sdpMLineIndex"`
}

// Key identifies a candidate for deduplication.
func (c ICECandidate) Key() string {
	return strconv.Itoa(int(c.LineIndex)) + "|" + c.Candidate
}

// VoiceSession is the shared signaling slot of one room.
// Empty offer or answer means the field is unset.
type VoiceSession struct {
	Offer         string         `json:"offer,omitempty"`
	Answer        string         `json:"answer,omitempty"`
	ICECandidates []ICECandidate `json:"iceCandidates"`
}

func NewVoiceSession() *VoiceSession {
	return &VoiceSession{ICECandidates: []ICECandidate{}}
}

func (s *VoiceSession) HasOffer() bool  { return s != nil && s.Offer != "" }
func (s *VoiceSession) HasAnswer() bool { return s != nil && s.Answer != "" }

// Clone returns a deep copy safe to hand out of the owning goroutine.
func (s *VoiceSession) Clone() *VoiceSession {
	if s == nil {
		return nil
	}
	out := &VoiceSession{
		Offer:         s.Offer,
		Answer:        s.Answer,
		ICECandidates: make([]ICECandidate, len(s.ICECandidates)),
	}
	copy(out.ICECandidates, s.ICECandidates)
	return out
}

// Phase is the lifecycle position of a room's session.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseOpen
	PhaseOffered
	PhaseAnswered
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseOpen:
		return "open"
	case PhaseOffered:
		return "offered"
	case PhaseAnswered:
		return "answered"
	default:
		return "unknown"
	}
}

// PhaseOf derives the phase of a snapshot; nil is Empty.
func PhaseOf(s *VoiceSession) Phase {
	switch {
	case s == nil:
		return PhaseEmpty
	case s.HasAnswer():
		return PhaseAnswered
	case s.HasOffer():
		return PhaseOffered
	default:
		return PhaseOpen
	}
}
