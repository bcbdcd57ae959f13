package wire

// ProtocolVersion is carried in every envelope. Receivers reject
// envelopes from a different major version.
const ProtocolVersion = 1

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Valid reports whether c is one of the two known colors.
func (c Color) Valid() bool { return c == White || c == Black }

// PlayerInfo is the public identity of a participant.
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TimeControl is the parsed "base+increment" pair, in seconds.
type TimeControl struct {
	BaseSeconds      uint32 `json:"base_seconds"`
	IncrementSeconds uint32 `json:"increment_seconds"`
}

// ClockPair reports both remaining times in milliseconds as measured
// by the server at the moment the enclosing event was emitted.
type ClockPair struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
}

// Result is the game outcome from White's perspective.
type Result string

const (
	ResultWhite Result = "white"
	ResultBlack Result = "black"
	ResultDraw  Result = "draw"
	// ResultNone marks a session that ended without an outcome, such
	// as mutual abandonment.
	ResultNone Result = "none"
)

// Reason explains how a session reached a terminal phase.
type Reason string

const (
	ReasonCheckmate   Reason = "checkmate"
	ReasonResignation Reason = "resignation"
	ReasonTimeout     Reason = "timeout"
	ReasonDrawAgreed  Reason = "draw_agreed"
	ReasonDrawByRule  Reason = "draw_by_rule"
	ReasonAbandoned   Reason = "abandoned"
)

// RejectCode classifies a no-op rejection of a client command.
type RejectCode string

const (
	RejectNotYourTurn     RejectCode = "not_your_turn"
	RejectIllegalForPhase RejectCode = "illegal_for_phase"
	RejectIllegalMove     RejectCode = "illegal_move"
)
