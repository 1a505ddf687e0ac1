package app

import "fmt"

// WritePolicy decides what a second offer or answer within one session does.
type WritePolicy int

const (
	// SetOnce rejects a second offer or answer in the same session.
	SetOnce WritePolicy = iota
	// LastWriteWins overwrites the field.
	LastWriteWins
)

func (p WritePolicy) String() string {
	switch p {
	case SetOnce:
		return "set_once"
	case LastWriteWins:
		return "last_write_wins"
	default:
		return "unknown"
	}
}

func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "set_once":
		return SetOnce, nil
	case "last_write_wins":
		return LastWriteWins, nil
	default:
		return SetOnce, fmt.Errorf("unknown write policy %q", s)
	}
}
