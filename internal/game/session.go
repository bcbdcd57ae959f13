package game

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/rules"
	"github.com/quietbit/arena/pkg/wire"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseWaiting    Phase = "waiting_to_start"
	PhaseActive     Phase = "active"
	PhaseCheckmate  Phase = "checkmate"
	PhaseResigned   Phase = "resigned"
	PhaseTimedOut   Phase = "timed_out"
	PhaseDrawAgreed Phase = "draw_agreed"
	PhaseDrawByRule Phase = "draw_by_rule"
	PhaseAbandoned  Phase = "abandoned"
)

// Terminal reports whether no further state transitions are possible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseWaiting, PhaseActive:
		return false
	}
	return true
}

// Player identifies one seat in a session.
type Player struct {
	ID    string
	Name  string
	Color wire.Color
}

func (p Player) Info() wire.PlayerInfo {
	return wire.PlayerInfo{ID: p.ID, Name: p.Name}
}

// Record is the immutable summary handed to the archiver when a
// session reaches a terminal phase.
type Record struct {
	GameID       string
	White        wire.PlayerInfo
	Black        wire.PlayerInfo
	TimeControl  wire.TimeControl
	Result       wire.Result
	Reason       wire.Reason
	MovesUCI     []string
	MovesSAN     []string
	FinalFEN     string
	FinalClocks  wire.ClockPair
	ClockHistory []wire.ClockPair
	StartedAt    time.Time
	EndedAt      time.Time
}

// Outbound delivers sequenced events to one player's connection.
// Deliver must not block; it returns false when the connection cannot
// keep up, which the session treats as a disconnect.
type Outbound interface {
	Deliver(seq uint64, ev wire.ServerEvent) bool
	Close()
}

// Params configures a new session.
type Params struct {
	ID          string
	White       Player
	Black       Player
	TimeControl wire.TimeControl
	Engine      rules.Engine
	Clock       clockwork.Clock
	Logger      *zap.Logger
	Grace       time.Duration
	Linger      time.Duration
	OnFinish    func(Record)
	OnClose     func(id string)
}

type event interface{}

type cmdEvent struct {
	playerID string
	cmd      wire.ClientCommand
}

type attachEvent struct {
	playerID string
	out      Outbound
	reply    chan error
}

type detachEvent struct {
	playerID string
	out      Outbound
}

type flagEvent struct{ color wire.Color }

type graceEvent struct {
	color wire.Color
	epoch uint64
}

type abortEvent struct{}

type lingerEvent struct{}

type seat struct {
	player     Player
	out        Outbound
	attached   bool
	graceEpoch uint64
	graceStop  chan struct{}
}

// Session coordinates one timed game between two players. All mutable
// state is owned by a single loop goroutine fed by an event channel;
// the exported methods only post events, so no locks guard the
// position, clocks, or phase.
type Session struct {
	id     string
	tc     wire.TimeControl
	engine rules.Engine
	clk    clockwork.Clock
	log    *zap.Logger
	grace  time.Duration
	linger time.Duration

	onFinish func(Record)
	onClose  func(string)

	events chan event
	done   chan struct{}

	// loop-owned state below.
	phase     Phase
	seats     map[wire.Color]*seat
	clocks    map[wire.Color]*Clock
	turn      wire.Color
	fen       string
	movesUCI  []string
	movesSAN  []string
	clockHist []wire.ClockPair
	pending   wire.Color // color with an open draw offer, or empty
	seq       uint64
	result    wire.Result
	reason    wire.Reason
	startedAt time.Time
}

// NewSession builds the session and starts its loop. The session is in
// PhaseWaiting until both players attach.
func NewSession(p Params) *Session {
	s := &Session{
		id:       p.ID,
		tc:       p.TimeControl,
		engine:   p.Engine,
		clk:      p.Clock,
		log:      p.Logger.With(zap.String("game_id", p.ID)),
		grace:    p.Grace,
		linger:   p.Linger,
		onFinish: p.OnFinish,
		onClose:  p.OnClose,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		phase:    PhaseWaiting,
		turn:     wire.White,
		fen:      rules.StartFEN,
	}
	s.seats = map[wire.Color]*seat{
		wire.White: {player: p.White},
		wire.Black: {player: p.Black},
	}
	base := time.Duration(p.TimeControl.BaseSeconds) * time.Second
	s.clocks = map[wire.Color]*Clock{
		wire.White: newClock(p.Clock, base, func() { s.post(flagEvent{color: wire.White}) }),
		wire.Black: newClock(p.Clock, base, func() { s.post(flagEvent{color: wire.Black}) }),
	}
	// A paired session must not hold its registry slot forever waiting
	// for players who never dial in. Each seat starts inside an attach
	// deadline, cancelled by the first attach, that expires through the
	// same path as a disconnect grace window.
	for color, st := range s.seats {
		s.startGrace(color, st)
	}
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) TimeControl() wire.TimeControl { return s.tc }

// Done is closed once the session has lingered past its terminal phase
// and deregistered itself.
func (s *Session) Done() <-chan struct{} { return s.done }

// HasPlayer reports whether the given ID holds a seat.
func (s *Session) HasPlayer(playerID string) bool {
	for _, st := range s.seats {
		if st.player.ID == playerID {
			return true
		}
	}
	return false
}

// Attach binds a connection to the player's seat and replays the
// current state as a snapshot. A second connection for the same player
// replaces the first.
func (s *Session) Attach(playerID string, out Outbound) error {
	reply := make(chan error, 1)
	if !s.post(attachEvent{playerID: playerID, out: out, reply: reply}) {
		return ErrAlreadyTerminal
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrAlreadyTerminal
	}
}

// Detach reports a closed connection. The seat enters its grace window
// if the session is still live. The outbound identifies which
// connection closed, so a handler whose socket was already replaced
// cannot detach its successor.
func (s *Session) Detach(playerID string, out Outbound) {
	s.post(detachEvent{playerID: playerID, out: out})
}

// Submit hands a decoded client command to the session loop.
func (s *Session) Submit(playerID string, cmd wire.ClientCommand) {
	s.post(cmdEvent{playerID: playerID, cmd: cmd})
}

// Abort force-terminates the session without a linger window, used on
// server shutdown.
func (s *Session) Abort() {
	s.post(abortEvent{})
}

func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	for ev := range s.events {
		switch e := ev.(type) {
		case attachEvent:
			e.reply <- s.handleAttach(e.playerID, e.out)
		case detachEvent:
			s.handleDetach(e.playerID, e.out)
		case cmdEvent:
			s.handleCommand(e.playerID, e.cmd)
		case flagEvent:
			s.handleFlag(e.color)
		case graceEvent:
			s.handleGraceExpiry(e.color, e.epoch)
		case abortEvent:
			s.handleAbort()
			s.teardown()
			return
		case lingerEvent:
			s.teardown()
			return
		}
	}
}

func (s *Session) seatOf(playerID string) (wire.Color, *seat) {
	for color, st := range s.seats {
		if st.player.ID == playerID {
			return color, st
		}
	}
	return "", nil
}

func (s *Session) handleAttach(playerID string, out Outbound) error {
	color, st := s.seatOf(playerID)
	if st == nil {
		return ErrNotParticipant
	}
	if st.out != nil {
		st.out.Close()
	}
	st.out = out
	wasGone := !st.attached
	st.attached = true
	s.cancelGrace(st)

	s.sendTo(color, s.snapshot(color))

	if s.phase == PhaseActive && wasGone {
		s.sendTo(color.Other(), &wire.OpponentReconnected{})
	}
	if s.phase == PhaseWaiting && s.seats[wire.White].attached && s.seats[wire.Black].attached {
		s.begin()
	}
	return nil
}

func (s *Session) begin() {
	s.phase = PhaseActive
	s.startedAt = s.clk.Now()
	if err := s.clocks[wire.White].Start(); err != nil {
		s.log.Error("clock_start_failed", zap.Error(err))
	}
	clocks := s.clockPair()
	for color := range s.seats {
		s.sendTo(color, &wire.SessionStart{
			GameID:        s.id,
			Opponent:      s.seats[color.Other()].player.Info(),
			Color:         color,
			TimeControl:   s.tc,
			InitialClocks: clocks,
		})
	}
	s.log.Info("session_started",
		zap.String("white", s.seats[wire.White].player.ID),
		zap.String("black", s.seats[wire.Black].player.ID))
}

func (s *Session) handleDetach(playerID string, out Outbound) {
	color, st := s.seatOf(playerID)
	if st == nil || !st.attached {
		return
	}
	if out != nil && st.out != out {
		// A replaced connection closing late must not evict the one
		// that superseded it.
		return
	}
	st.attached = false
	if st.out != nil {
		st.out.Close()
		st.out = nil
	}
	if s.phase.Terminal() {
		return
	}
	// An open draw offer does not survive a disconnect.
	if s.pending != "" {
		s.pending = ""
	}
	s.startGrace(color, st)
	s.sendTo(color.Other(), &wire.OpponentDisconnected{
		GraceSeconds: int(s.grace / time.Second),
	})
	s.log.Info("player_disconnected",
		zap.String("player_id", playerID),
		zap.String("color", string(color)))
}

func (s *Session) startGrace(color wire.Color, st *seat) {
	s.cancelGrace(st)
	st.graceEpoch++
	epoch := st.graceEpoch
	stop := make(chan struct{})
	st.graceStop = stop
	t := s.clk.NewTimer(s.grace)
	go func() {
		select {
		case <-t.Chan():
			s.post(graceEvent{color: color, epoch: epoch})
		case <-stop:
			stopAndDrainTimer(t)
		}
	}()
}

func (s *Session) cancelGrace(st *seat) {
	if st.graceStop != nil {
		close(st.graceStop)
		st.graceStop = nil
	}
	st.graceEpoch++
}

func (s *Session) handleGraceExpiry(color wire.Color, epoch uint64) {
	st := s.seats[color]
	if s.phase.Terminal() || st.attached || epoch != st.graceEpoch {
		return
	}
	if s.seats[color.Other()].attached {
		// The opponent stayed; the vanished player forfeits.
		s.finish(PhaseAbandoned, winnerResult(color.Other()), wire.ReasonAbandoned)
		return
	}
	s.finish(PhaseAbandoned, wire.ResultNone, wire.ReasonAbandoned)
}

func (s *Session) handleCommand(playerID string, cmd wire.ClientCommand) {
	color, st := s.seatOf(playerID)
	if st == nil {
		return
	}
	if _, ok := cmd.(wire.Heartbeat); ok {
		// Advisory only; client-reported clock values are never trusted.
		return
	}
	if s.phase.Terminal() {
		s.sendTo(color, s.snapshot(color))
		return
	}
	switch c := cmd.(type) {
	case wire.SubmitMove:
		s.handleMove(color, c)
	case wire.OfferDraw:
		s.handleOfferDraw(color)
	case wire.AcceptDraw:
		s.handleAcceptDraw(color)
	case wire.DeclineDraw:
		s.handleDeclineDraw(color)
	case wire.Resign:
		s.handleResign(color)
	default:
		s.reject(color, wire.RejectIllegalForPhase, "command not valid here")
	}
}

func (s *Session) handleMove(color wire.Color, c wire.SubmitMove) {
	if s.phase != PhaseActive {
		s.reject(color, wire.RejectIllegalForPhase, "game not active")
		return
	}
	if color != s.turn {
		s.reject(color, wire.RejectNotYourTurn, "opponent to move")
		return
	}
	mv := rules.Move{From: c.From, To: c.To, Promotion: c.Promotion}
	res, err := s.engine.Apply(s.movesUCI, mv)
	if err != nil {
		s.reject(color, wire.RejectIllegalMove, err.Error())
		return
	}

	mover := s.clocks[color]
	mover.Stop()
	mover.AddIncrement(time.Duration(s.tc.IncrementSeconds) * time.Second)

	s.movesUCI = append(s.movesUCI, res.UCI)
	s.movesSAN = append(s.movesSAN, res.SAN)
	s.fen = res.FEN
	s.turn = res.NextTurn
	if res.Terminal == rules.TerminalNone {
		if err := s.clocks[s.turn].Start(); err != nil {
			s.log.Error("clock_start_failed", zap.Error(err))
		}
	}
	clocks := s.clockPair()
	s.clockHist = append(s.clockHist, clocks)

	s.broadcast(&wire.MoveApplied{
		From:          c.From,
		To:            c.To,
		Promotion:     c.Promotion,
		SAN:           res.SAN,
		UCI:           res.UCI,
		Ply:           len(s.movesUCI),
		ResultingTurn: res.NextTurn,
		Clocks:        clocks,
	})

	if res.Terminal != rules.TerminalNone {
		s.finishFromBoard(color, res.Terminal)
	}
}

func (s *Session) finishFromBoard(mover wire.Color, terminal rules.Terminal) {
	if terminal == rules.TerminalCheckmate {
		s.finish(PhaseCheckmate, winnerResult(mover), wire.ReasonCheckmate)
		return
	}
	s.finish(PhaseDrawByRule, wire.ResultDraw, wire.ReasonDrawByRule)
}

func (s *Session) handleOfferDraw(color wire.Color) {
	if s.phase != PhaseActive {
		s.reject(color, wire.RejectIllegalForPhase, "game not active")
		return
	}
	switch s.pending {
	case "":
		s.pending = color
		s.broadcast(&wire.DrawOffered{By: color})
	case color:
		s.reject(color, wire.RejectIllegalForPhase, "draw already offered")
	default:
		// Both sides want a draw; the crossed offers agree implicitly.
		s.finish(PhaseDrawAgreed, wire.ResultDraw, wire.ReasonDrawAgreed)
	}
}

func (s *Session) handleAcceptDraw(color wire.Color) {
	if s.phase != PhaseActive || s.pending == "" || s.pending == color {
		s.reject(color, wire.RejectIllegalForPhase, "no draw offer to accept")
		return
	}
	s.finish(PhaseDrawAgreed, wire.ResultDraw, wire.ReasonDrawAgreed)
}

func (s *Session) handleDeclineDraw(color wire.Color) {
	if s.phase != PhaseActive || s.pending == "" || s.pending == color {
		s.reject(color, wire.RejectIllegalForPhase, "no draw offer to decline")
		return
	}
	s.pending = ""
	s.broadcast(&wire.DrawDeclined{})
}

func (s *Session) handleResign(color wire.Color) {
	if s.phase != PhaseActive {
		s.reject(color, wire.RejectIllegalForPhase, "game not active")
		return
	}
	s.finish(PhaseResigned, winnerResult(color.Other()), wire.ReasonResignation)
}

func (s *Session) handleFlag(color wire.Color) {
	if s.phase != PhaseActive {
		return
	}
	if !s.clocks[color].Expire() {
		return
	}
	s.finish(PhaseTimedOut, winnerResult(color.Other()), wire.ReasonTimeout)
}

func (s *Session) handleAbort() {
	if s.phase.Terminal() {
		return
	}
	s.finish(PhaseAbandoned, wire.ResultNone, wire.ReasonAbandoned)
}

func (s *Session) finish(phase Phase, result wire.Result, reason wire.Reason) {
	s.clocks[wire.White].Stop()
	s.clocks[wire.Black].Stop()
	s.phase = phase
	s.result = result
	s.reason = reason
	s.pending = ""
	for _, st := range s.seats {
		s.cancelGrace(st)
	}

	t := s.clk.NewTimer(s.linger)
	go func() {
		<-t.Chan()
		s.post(lingerEvent{})
	}()

	clocks := s.clockPair()
	s.broadcast(&wire.SessionOver{
		Result:      result,
		Reason:      reason,
		FinalClocks: clocks,
	})
	s.log.Info("session_over",
		zap.String("result", string(result)),
		zap.String("reason", string(reason)),
		zap.Int("plies", len(s.movesUCI)))

	// A session that never left the waiting phase produced no game;
	// nothing goes to the archive or the webhook.
	if s.onFinish != nil && !s.startedAt.IsZero() {
		go s.onFinish(s.record(clocks))
	}
}

func (s *Session) record(final wire.ClockPair) Record {
	return Record{
		GameID:       s.id,
		White:        s.seats[wire.White].player.Info(),
		Black:        s.seats[wire.Black].player.Info(),
		TimeControl:  s.tc,
		Result:       s.result,
		Reason:       s.reason,
		MovesUCI:     append([]string(nil), s.movesUCI...),
		MovesSAN:     append([]string(nil), s.movesSAN...),
		FinalFEN:     s.fen,
		FinalClocks:  final,
		ClockHistory: append([]wire.ClockPair(nil), s.clockHist...),
		StartedAt:    s.startedAt,
		EndedAt:      s.clk.Now(),
	}
}

func (s *Session) teardown() {
	for _, st := range s.seats {
		if st.out != nil {
			st.out.Close()
			st.out = nil
		}
	}
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

func (s *Session) snapshot(viewer wire.Color) *wire.Snapshot {
	return &wire.Snapshot{
		GameID:      s.id,
		Phase:       string(s.phase),
		You:         s.seats[viewer].player.Info(),
		Opponent:    s.seats[viewer.Other()].player.Info(),
		Color:       viewer,
		TimeControl: s.tc,
		FEN:         s.fen,
		MovesUCI:    append([]string(nil), s.movesUCI...),
		MovesSAN:    append([]string(nil), s.movesSAN...),
		Turn:        s.turn,
		Clocks:      s.clockPair(),
		PendingDraw: s.pending,
		Result:      s.result,
		Reason:      s.reason,
		LastSeq:     s.seq,
	}
}

func (s *Session) clockPair() wire.ClockPair {
	return wire.ClockPair{
		WhiteMs: s.clocks[wire.White].Remaining().Milliseconds(),
		BlackMs: s.clocks[wire.Black].Remaining().Milliseconds(),
	}
}

func (s *Session) reject(color wire.Color, code wire.RejectCode, detail string) {
	s.sendTo(color, &wire.Rejected{Code: code, Detail: detail})
}

func (s *Session) broadcast(ev wire.ServerEvent) {
	s.seq++
	seq := s.seq
	var dropped []wire.Color
	for color, st := range s.seats {
		if !deliverTo(st, seq, ev) {
			dropped = append(dropped, color)
		}
	}
	for _, color := range dropped {
		s.dropSeat(color)
	}
}

func (s *Session) sendTo(color wire.Color, ev wire.ServerEvent) {
	s.seq++
	if !deliverTo(s.seats[color], s.seq, ev) {
		s.dropSeat(color)
	}
}

func deliverTo(st *seat, seq uint64, ev wire.ServerEvent) bool {
	if st.out == nil {
		return true
	}
	return st.out.Deliver(seq, ev)
}

// dropSeat handles a connection that could not keep up with egress.
// The slot enters its grace window as for any other disconnect.
func (s *Session) dropSeat(color wire.Color) {
	st := s.seats[color]
	s.log.Warn("egress_overflow",
		zap.String("player_id", st.player.ID),
		zap.String("color", string(color)))
	if st.out != nil {
		st.out.Close()
		st.out = nil
	}
	st.attached = false
	if s.phase.Terminal() {
		return
	}
	s.pending = ""
	s.startGrace(color, st)
	s.sendTo(color.Other(), &wire.OpponentDisconnected{
		GraceSeconds: int(s.grace / time.Second),
	})
}

func winnerResult(c wire.Color) wire.Result {
	if c == wire.White {
		return wire.ResultWhite
	}
	return wire.ResultBlack
}
