package call

type EventType int

const (
	EventState EventType = iota
	EventMute
	EventPollError
	EventPollRecovered
)

func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventMute:
		return "mute"
	case EventPollError:
		return "poll_error"
	case EventPollRecovered:
		return "poll_recovered"
	default:
		return "unknown"
	}
}

type Event struct {
	Type  EventType
	State State
	Muted bool
	Err   error
}
