package domain

// Role is the part a participant plays in one session.
type Role int

const (
	RoleUndetermined Role = iota
	RoleOfferer
	RoleAnswerer
	// RoleObserver is taken by a participant that joined an already answered session.
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleUndetermined:
		return "undetermined"
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	case RoleObserver:
		return "observer"
	default:
		return "unknown"
	}
}
