// Package protocol defines the websocket messages exchanged between a remote
// store client and the huddle server.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/store"
)

// Message represents all WebSocket messages between client and server.
// Requests carry an ID that the matching result or error echoes back.
type Message struct {
	Type    string        `json:"type"`
	ID      uint64        `json:"id,omitempty"`
	Key     string        `json:"key,omitempty"`
	Prefix  string        `json:"prefix,omitempty"`
	Value   []byte        `json:"value,omitempty"`
	WatchID uint64        `json:"watch_id,omitempty"`
	Entries []store.Entry `json:"entries,omitempty"`
	Event   *store.Event  `json:"event,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// Client to server.
const (
	TypePut          = "put"
	TypeGet          = "get"
	TypeDelete       = "delete"
	TypeList         = "list"
	TypeDeletePrefix = "delete_prefix"
	TypeWatch        = "watch"
	TypeUnwatch      = "unwatch"
	TypeOnDisconnect = "on_disconnect"
)

// Server to client.
const (
	TypeResult = "result"
	TypeEvent  = "event"
	TypeError  = "error"
)

// Error codes that map back to store sentinels.
const (
	CodeNotFound   = "not_found"
	CodeInvalidKey = "invalid_key"
	CodeInternal   = "internal"
	CodeBadRequest = "bad_request"
)

// CodeFor maps a store error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrInvalidKey):
		return CodeInvalidKey
	default:
		return CodeInternal
	}
}

// ErrorFor maps a wire code back to a store error.
func ErrorFor(code, msg string) error {
	switch code {
	case CodeNotFound:
		return store.ErrNotFound
	case CodeInvalidKey:
		return store.ErrInvalidKey
	default:
		return fmt.Errorf("%w: %s", callerr.ErrServer, msg)
	}
}

// RoomInfo is the JSON body of the room HTTP endpoints.
type RoomInfo struct {
	RoomID       string        `json:"room_id"`
	InviteLink   string        `json:"invite_link"`
	Participants []Participant `json:"participants"`
}

type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AudioOnly bool      `json:"audio_only"`
	LastSeen  time.Time `json:"last_seen"`
}
