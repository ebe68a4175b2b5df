package store

import "strings"

// Room data lives under rooms/<room>/:
//
//	rooms/<room>/presence/<participant>
//	rooms/<room>/inbox/<recipient>/<order>
const roomsRoot = "rooms"

func RoomPrefix(room string) (string, error) {
	return Prefix(roomsRoot, room)
}

func PresencePrefix(room string) (string, error) {
	return Prefix(roomsRoot, room, "presence")
}

func PresenceKey(room, participant string) (string, error) {
	return Key(roomsRoot, room, "presence", participant)
}

func InboxPrefix(room, recipient string) (string, error) {
	return Prefix(roomsRoot, room, "inbox", recipient)
}

func InboxKey(room, recipient, order string) (string, error) {
	return Key(roomsRoot, room, "inbox", recipient, order)
}

// RoomsPrefix covers every room.
func RoomsPrefix() string {
	return roomsRoot + "/"
}

// RoomOf returns the room a key belongs to, or "" for keys outside rooms/.
func RoomOf(key string) string {
	rest, ok := strings.CutPrefix(key, RoomsPrefix())
	if !ok {
		return ""
	}
	room, _, _ := strings.Cut(rest, "/")
	return room
}

// IsPresenceKey reports whether key is a presence record.
func IsPresenceKey(key string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 4 && parts[0] == roomsRoot && parts[2] == "presence"
}
