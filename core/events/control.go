package events

const (
	KindTurnStarted  Kind = "control.turn_started"
	KindTurnEnded    Kind = "control.turn_ended"
	KindInterrupted  Kind = "control.interrupted"
	KindError        Kind = "control.error"
	KindSessionEnded Kind = "control.session_ended"
)

// TurnStarted signals that the assistant has started generating a response.
type TurnStarted struct {
	Base
	TurnID string
}

func NewTurnStarted(turnID string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID}
}

// TurnEnded signals that the assistant turn completed normally and all
// buffered audio has been delivered.
type TurnEnded struct {
	Base
	TurnID string
}

func NewTurnEnded(turnID string) TurnEnded {
	return TurnEnded{Base: NewBase(KindTurnEnded), TurnID: turnID}
}

// Interrupted signals that the user cut the assistant off. It is always the
// first item on the queue that replaces the aborted turn's queue.
type Interrupted struct {
	Base
	TurnID string
}

func NewInterrupted(turnID string) Interrupted {
	return Interrupted{Base: NewBase(KindInterrupted), TurnID: turnID}
}

// Error reports a recoverable sub-service failure. The session returns to
// listening after emitting it.
type Error struct {
	Base
	Message string
}

func NewError(message string) Error {
	return Error{Base: NewBase(KindError), Message: message}
}

// SessionEnded is the terminal item emitted when the session shuts down.
type SessionEnded struct {
	Base
	Reason string
}

func NewSessionEnded(reason string) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), Reason: reason}
}
