package game

import "errors"

var (
	// ErrNotYourTurn rejects a move submitted out of turn.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrIllegalForPhase rejects a command that is not valid in the
	// session's current phase, including draw responses with no open
	// offer.
	ErrIllegalForPhase = errors.New("illegal for phase")
	// ErrAlreadyTerminal marks an action against a session or clock
	// that has already reached a terminal state.
	ErrAlreadyTerminal = errors.New("already terminal")
	// ErrNotParticipant rejects an attach or command from a player the
	// session does not know.
	ErrNotParticipant = errors.New("player not in session")
)
