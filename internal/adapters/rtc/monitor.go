package rtc

import (
	"sync"

	"github.com/pion/rtp"
)

type TrackStats struct {
	TrackID   string
	SSRC      uint32
	Packets   uint64
	Bytes     uint64
	Lost      uint64
	Reordered uint64
}

// TrackMonitor counts packets of one remote track and infers loss from
// sequence number gaps.
type TrackMonitor struct {
	mu      sync.Mutex
	stats   TrackStats
	lastSeq uint16
	started bool
}

func NewTrackMonitor(trackID string) *TrackMonitor {
	return &TrackMonitor{stats: TrackStats{TrackID: trackID}}
}

func (m *TrackMonitor) Observe(pkt *rtp.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Packets++
	m.stats.Bytes += uint64(len(pkt.Payload))
	m.stats.SSRC = pkt.SSRC
	if !m.started {
		m.started = true
		m.lastSeq = pkt.SequenceNumber
		return
	}
	delta := pkt.SequenceNumber - m.lastSeq
	switch {
	case delta == 0:
		// duplicate
	case delta < 0x8000:
		m.stats.Lost += uint64(delta - 1)
		m.lastSeq = pkt.SequenceNumber
	default:
		// late arrival from before lastSeq
		m.stats.Reordered++
		if m.stats.Lost > 0 {
			m.stats.Lost--
		}
	}
}

func (m *TrackMonitor) Stats() TrackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
