package callerr

import (
	"errors"
	"fmt"
)

// Kind classifies where in a call an error came from.
type Kind string

const (
	KindPresence    Kind = "presence"
	KindRelay       Kind = "relay"
	KindNegotiation Kind = "negotiation"
	KindTransport   Kind = "transport"
	KindMedia       Kind = "media"
	KindConfig      Kind = "config"
	KindStore       Kind = "store"
)

var (
	ErrNotJoined        = errors.New("participant has not joined the room")
	ErrInvalidID        = errors.New("invalid identifier")
	ErrNoTracks         = errors.New("no usable media tracks")
	ErrSessionClosed    = errors.New("session closed")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrGlareIgnored     = errors.New("remote offer ignored during glare")
	ErrTimeout          = errors.New("timeout")
	ErrServer           = errors.New("store server error")
	ErrConnectionFailed = errors.New("connection failed")
)

type Error struct {
	Kind        Kind
	Op          string
	Participant string
	Err         error
	Details     string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	if e.Participant != "" {
		msg = fmt.Sprintf("%s %s [%s]: %v", e.Kind, e.Op, e.Participant, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// For returns a copy of e tagged with the participant it concerns.
func (e *Error) For(participant string) *Error {
	c := *e
	c.Participant = participant
	return &c
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrap(kind Kind, op string, err error, details string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Details: details}
}

// KindOf reports the kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
