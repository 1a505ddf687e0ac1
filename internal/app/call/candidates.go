package call

import (
	"sync"

	"github.com/dkeye/VoiceRelay/internal/domain"
)

// candidateSet remembers candidate identities already applied or published
// locally. It is shared with the ICE callback goroutine.
type candidateSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newCandidateSet() *candidateSet {
	return &candidateSet{seen: make(map[string]struct{})}
}

// Add records c and reports whether it was new.
func (s *candidateSet) Add(c domain.ICECandidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := c.Key()
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

func (s *candidateSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
