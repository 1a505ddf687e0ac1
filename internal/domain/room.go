// Package domain contains the voice session entities, without transport or
// lifecycle logic.
package domain

import (
	"errors"
	"strings"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id contains invalid characters")
)

type RoomID string

// ParseRoomID validates a room identifier coming from a client.
func ParseRoomID(raw string) (RoomID, error) {
	if len(raw) == 0 {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	if strings.ContainsAny(raw, "/?# \t\r\n") {
		return "", ErrRoomIDInvalid
	}
	return RoomID(raw), nil
}

func (id RoomID) String() string { return string(id) }
