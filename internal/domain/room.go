package domain

import (
	"errors"
	"strings"
)

const MaxRoomNameLen = 36

var ErrRoomNameEmpty = errors.New("room name empty")

type RoomName string

// NormalizeRoom lower-cases and trims a room name taken from a URL path or flag.
func NormalizeRoom(raw string) (RoomName, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		name = name[:MaxRoomNameLen]
	}
	return RoomName(name), nil
}
