// Package fault classifies errors that cross the wire so transports can decide
// who hears about them and whether the connection survives.
package fault

import "errors"

// Kind is the handling category of an error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindProtocol    Kind = "protocol"
	KindLifecycle   Kind = "lifecycle"
	KindPersistence Kind = "persistence"
)

// Error carries a client-facing message. The message is sent verbatim in
// error envelopes and HTTP bodies, so it is written for players.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func Validation(msg string) *Error  { return &Error{Kind: KindValidation, Message: msg} }
func Protocol(msg string) *Error    { return &Error{Kind: KindProtocol, Message: msg} }
func Lifecycle(msg string) *Error   { return &Error{Kind: KindLifecycle, Message: msg} }
func Persistence(msg string) *Error { return &Error{Kind: KindPersistence, Message: msg} }

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Message returns the client-facing text for err. Errors without a fault in
// their chain are reported generically so internals never leak.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "Internal error"
}
