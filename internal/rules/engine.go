package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/quietbit/arena/pkg/wire"
)

// ErrIllegalMove marks any move the rules engine cannot validate.
// Callers report it to the submitting client as a rejection, never as
// a server error.
var ErrIllegalMove = errors.New("illegal move")

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Move is a player's move intent in coordinate form; promotion is the
// lowercase piece letter ("q", "r", "b", "n") or empty.
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move in UCI notation.
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Terminal classifies a game-ending outcome detected by the rules.
// Empty means the game continues.
type Terminal string

const (
	TerminalNone                 Terminal = ""
	TerminalCheckmate            Terminal = "checkmate"
	TerminalStalemate            Terminal = "stalemate"
	TerminalInsufficientMaterial Terminal = "insufficient_material"
	TerminalRepetition           Terminal = "repetition"
	TerminalFiftyMove            Terminal = "fifty_move"
)

// Result describes one applied ply.
type Result struct {
	UCI      string
	SAN      string
	FEN      string
	NextTurn wire.Color
	Terminal Terminal
}

// Engine validates and applies moves against a position given as the
// ordered UCI move list from the start position. Implementations are
// pure; they hold no game state of their own.
type Engine interface {
	Apply(moves []string, mv Move) (Result, error)
}

type engine struct{}

// NewEngine returns the chess rules engine.
func NewEngine() Engine { return engine{} }

func (engine) Apply(moves []string, mv Move) (Result, error) {
	game, err := replay(moves)
	if err != nil {
		return Result{}, err
	}
	pos := game.Position()

	uci := mv.UCI()
	if uci == "" {
		return Result{}, ErrIllegalMove
	}
	notationUCI := nchess.UCINotation{}
	decoded, err := notationUCI.Decode(pos, uci)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if err := game.Move(decoded, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	return Result{
		UCI:      uci,
		SAN:      san,
		FEN:      game.FEN(),
		NextTurn: colorFrom(game.Position().Turn()),
		Terminal: terminalFrom(game),
	}, nil
}

// replay reconstructs the game from the start position by applying the
// stored UCI moves in order. Applying a stored FEN instead would risk
// double-applying moves, so the move list is the source of truth.
func replay(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, raw := range moves {
		mv, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", raw, err)
		}
		if err := game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", raw, err)
		}
	}
	return game, nil
}

func colorFrom(c nchess.Color) wire.Color {
	if c == nchess.White {
		return wire.White
	}
	return wire.Black
}

func terminalFrom(game *nchess.Game) Terminal {
	if game.Outcome() == nchess.NoOutcome {
		return TerminalNone
	}
	switch game.Method() {
	case nchess.Checkmate:
		return TerminalCheckmate
	case nchess.Stalemate:
		return TerminalStalemate
	case nchess.InsufficientMaterial:
		return TerminalInsufficientMaterial
	case nchess.SeventyFiveMoveRule, nchess.FiftyMoveRule:
		return TerminalFiftyMove
	default:
		// Remaining automatic endings are repetition based.
		return TerminalRepetition
	}
}
