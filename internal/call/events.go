package call

import "github.com/BioHazard786/huddle/internal/presence"

type EventKind int

const (
	// EventLinkState reports a link entering a new state.
	EventLinkState EventKind = iota
	// EventRoster carries the active participants after a presence change.
	EventRoster
	EventSessionState
	// EventError reports a non-fatal failure. The session keeps running.
	EventError
)

// Event is one update for the UI.
type Event struct {
	Kind    EventKind
	Remote  string
	State   State
	Session SessionState
	Roster  presence.Roster
	Err     error
}
