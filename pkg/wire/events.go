package wire

// Server-to-client event kinds. The set is closed: decoding an unknown
// kind is an error, and adding a kind forces every switch over
// ServerEvent to be revisited.
type ServerKind string

const (
	KindSessionWaiting       ServerKind = "session_waiting"
	KindSessionStart         ServerKind = "session_start"
	KindMoveApplied          ServerKind = "move_applied"
	KindDrawOffered          ServerKind = "draw_offered"
	KindDrawDeclined         ServerKind = "draw_declined"
	KindOpponentDisconnected ServerKind = "opponent_disconnected"
	KindOpponentReconnected  ServerKind = "opponent_reconnected"
	KindSessionOver          ServerKind = "session_over"
	KindRejected             ServerKind = "rejected"
	KindSnapshot             ServerKind = "snapshot"
)

// ServerEvent is the closed union of everything the server sends over
// a game connection. The unexported method keeps the union closed to
// this package.
type ServerEvent interface {
	Kind() ServerKind
	serverEvent()
}

// SessionWaiting acknowledges a queue join before a pairing exists.
type SessionWaiting struct {
	QueueKey string `json:"queue_key"`
}

// SessionStart announces a pairing to one player.
type SessionStart struct {
	GameID        string      `json:"game_id"`
	Opponent      PlayerInfo  `json:"opponent"`
	Color         Color       `json:"color"`
	TimeControl   TimeControl `json:"time_control"`
	InitialClocks ClockPair   `json:"initial_clocks"`
}

// MoveApplied broadcasts one accepted ply to both players.
type MoveApplied struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Promotion     string    `json:"promotion,omitempty"`
	SAN           string    `json:"san"`
	UCI           string    `json:"uci"`
	Ply           int       `json:"ply"`
	ResultingTurn Color     `json:"resulting_turn"`
	Clocks        ClockPair `json:"clocks"`
}

// DrawOffered reports a pending draw offer.
type DrawOffered struct {
	By Color `json:"by"`
}

// DrawDeclined reports that the pending offer was declined.
type DrawDeclined struct{}

// OpponentDisconnected starts the receiver's information about the
// opponent's grace window.
type OpponentDisconnected struct {
	GraceSeconds int `json:"grace_seconds"`
}

// OpponentReconnected cancels a previously announced grace window.
type OpponentReconnected struct{}

// SessionOver is the terminal broadcast; no event follows it.
type SessionOver struct {
	Result      Result    `json:"result"`
	Reason      Reason    `json:"reason"`
	FinalClocks ClockPair `json:"final_clocks"`
}

// Rejected acknowledges a client command that was not applied, so the
// client never stalls waiting for an effect that will not come.
type Rejected struct {
	Code   RejectCode `json:"code"`
	Detail string     `json:"detail,omitempty"`
}

// Snapshot replays the full session state on attach or reconnect.
type Snapshot struct {
	GameID      string      `json:"game_id"`
	Phase       string      `json:"phase"`
	You         PlayerInfo  `json:"you"`
	Opponent    PlayerInfo  `json:"opponent"`
	Color       Color       `json:"color"`
	TimeControl TimeControl `json:"time_control"`
	FEN         string      `json:"fen"`
	MovesUCI    []string    `json:"moves_uci"`
	MovesSAN    []string    `json:"moves_san"`
	Turn        Color       `json:"turn"`
	Clocks      ClockPair   `json:"clocks"`
	PendingDraw Color       `json:"pending_draw,omitempty"`
	Result      Result      `json:"result,omitempty"`
	Reason      Reason      `json:"reason,omitempty"`
	LastSeq     uint64      `json:"last_seq"`
}

func (SessionWaiting) Kind() ServerKind       { return KindSessionWaiting }
func (SessionStart) Kind() ServerKind         { return KindSessionStart }
func (MoveApplied) Kind() ServerKind          { return KindMoveApplied }
func (DrawOffered) Kind() ServerKind          { return KindDrawOffered }
func (DrawDeclined) Kind() ServerKind         { return KindDrawDeclined }
func (OpponentDisconnected) Kind() ServerKind { return KindOpponentDisconnected }
func (OpponentReconnected) Kind() ServerKind  { return KindOpponentReconnected }
func (SessionOver) Kind() ServerKind          { return KindSessionOver }
func (Rejected) Kind() ServerKind             { return KindRejected }
func (Snapshot) Kind() ServerKind             { return KindSnapshot }

func (SessionWaiting) serverEvent()       {}
func (SessionStart) serverEvent()         {}
func (MoveApplied) serverEvent()          {}
func (DrawOffered) serverEvent()          {}
func (DrawDeclined) serverEvent()         {}
func (OpponentDisconnected) serverEvent() {}
func (OpponentReconnected) serverEvent()  {}
func (SessionOver) serverEvent()          {}
func (Rejected) serverEvent()             {}
func (Snapshot) serverEvent()             {}
