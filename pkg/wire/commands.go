package wire

// Client-to-server command kinds.
type ClientKind string

const (
	KindSubmitMove  ClientKind = "submit_move"
	KindOfferDraw   ClientKind = "offer_draw"
	KindAcceptDraw  ClientKind = "accept_draw"
	KindDeclineDraw ClientKind = "decline_draw"
	KindResign      ClientKind = "resign"
	KindHeartbeat   ClientKind = "heartbeat"
	KindJoinQueue   ClientKind = "join_queue"
	KindLeaveQueue  ClientKind = "leave_queue"
)

// ClientCommand is the closed union of everything a client may send.
type ClientCommand interface {
	Kind() ClientKind
	clientCommand()
}

// SubmitMove requests one ply in coordinate form.
type SubmitMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// OfferDraw proposes a draw to the opponent.
type OfferDraw struct{}

// AcceptDraw accepts a pending offer from the opponent.
type AcceptDraw struct{}

// DeclineDraw declines a pending offer from the opponent.
type DeclineDraw struct{}

// Resign concedes the game.
type Resign struct{}

// Heartbeat carries the client's clock estimates. Advisory only: the
// server clock is authoritative and these values never override it.
type Heartbeat struct {
	WhiteRemainingMs int64 `json:"white_remaining_ms"`
	BlackRemainingMs int64 `json:"black_remaining_ms"`
}

// JoinQueue asks to be matched at the given time control and mode.
type JoinQueue struct {
	TimeControl string `json:"time_control"`
	Mode        string `json:"mode"`
}

// LeaveQueue cancels a still-waiting queue ticket.
type LeaveQueue struct{}

func (SubmitMove) Kind() ClientKind  { return KindSubmitMove }
func (OfferDraw) Kind() ClientKind   { return KindOfferDraw }
func (AcceptDraw) Kind() ClientKind  { return KindAcceptDraw }
func (DeclineDraw) Kind() ClientKind { return KindDeclineDraw }
func (Resign) Kind() ClientKind      { return KindResign }
func (Heartbeat) Kind() ClientKind   { return KindHeartbeat }
func (JoinQueue) Kind() ClientKind   { return KindJoinQueue }
func (LeaveQueue) Kind() ClientKind  { return KindLeaveQueue }

func (SubmitMove) clientCommand()  {}
func (OfferDraw) clientCommand()   {}
func (AcceptDraw) clientCommand()  {}
func (DeclineDraw) clientCommand() {}
func (Resign) clientCommand()      {}
func (Heartbeat) clientCommand()   {}
func (JoinQueue) clientCommand()   {}
func (LeaveQueue) clientCommand()  {}
