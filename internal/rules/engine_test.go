package rules

import (
	"errors"
	"testing"

	"github.com/quietbit/arena/pkg/wire"
)

func TestApplyLegalMove(t *testing.T) {
	e := NewEngine()
	res, err := e.Apply(nil, Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UCI != "e2e4" || res.SAN != "e4" {
		t.Fatalf("unexpected notation: uci=%q san=%q", res.UCI, res.SAN)
	}
	if res.NextTurn != wire.Black {
		t.Fatalf("next turn = %s, want black", res.NextTurn)
	}
	if res.Terminal != TerminalNone {
		t.Fatalf("unexpected terminal %q", res.Terminal)
	}
	if res.FEN == "" || res.FEN == StartFEN {
		t.Fatalf("FEN not advanced: %q", res.FEN)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	e := NewEngine()
	for _, mv := range []Move{
		{From: "e2", To: "e5"}, // pawn cannot jump three
		{From: "e7", To: "e5"}, // not white's piece
		{From: "", To: ""},
		{From: "z9", To: "z8"},
	} {
		if _, err := e.Apply(nil, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%+v) = %v, want ErrIllegalMove", mv, err)
		}
	}
}

func TestApplyStateUnchangedOnIllegal(t *testing.T) {
	e := NewEngine()
	history := []string{"e2e4", "e7e5"}
	if _, err := e.Apply(history, Move{From: "e4", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("blocked pawn push accepted: %v", err)
	}
	// The same history must still accept a legal continuation.
	res, err := e.Apply(history, Move{From: "g1", To: "f3"})
	if err != nil {
		t.Fatalf("Apply after rejection: %v", err)
	}
	if res.SAN != "Nf3" {
		t.Fatalf("san = %q, want Nf3", res.SAN)
	}
}

func TestApplyDetectsCheckmate(t *testing.T) {
	e := NewEngine()
	history := []string{"f2f3", "e7e5", "g2g4"}
	res, err := e.Apply(history, Move{From: "d8", To: "h4"})
	if err != nil {
		t.Fatalf("Apply mate: %v", err)
	}
	if res.Terminal != TerminalCheckmate {
		t.Fatalf("terminal = %q, want checkmate", res.Terminal)
	}
	if res.SAN != "Qh4#" {
		t.Fatalf("san = %q, want Qh4#", res.SAN)
	}
}

func TestApplyPromotion(t *testing.T) {
	e := NewEngine()
	// March the a-pawn through an open file while black shuffles rooks.
	history := []string{
		"a2a4", "b7b5",
		"a4b5", "b8a6",
		"b5b6", "a6b4",
		"b6b7", "h7h6",
	}
	res, err := e.Apply(history, Move{From: "b7", To: "b8", Promotion: "q"})
	if err != nil {
		t.Fatalf("Apply promotion: %v", err)
	}
	if res.UCI != "b7b8q" {
		t.Fatalf("uci = %q, want b7b8q", res.UCI)
	}
}

func TestReplayRejectsCorruptHistory(t *testing.T) {
	e := NewEngine()
	if _, err := e.Apply([]string{"e2e4", "zz99"}, Move{From: "g1", To: "f3"}); err == nil {
		t.Fatalf("expected error for corrupt history")
	}
}
