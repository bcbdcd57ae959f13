package wire

import (
	"strings"
	"testing"
)

func TestEncodeDecodeServerEvent(t *testing.T) {
	ev := MoveApplied{
		From:          "e2",
		To:            "e4",
		SAN:           "e4",
		UCI:           "e2e4",
		Ply:           1,
		ResultingTurn: Black,
		Clocks:        ClockPair{WhiteMs: 300000, BlackMs: 300000},
	}
	raw, err := EncodeServer(7, ev)
	if err != nil {
		t.Fatalf("EncodeServer: %v", err)
	}
	got, seq, err := DecodeServer(raw)
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	if seq != 7 {
		t.Fatalf("seq = %d, want 7", seq)
	}
	mv, ok := got.(MoveApplied)
	if !ok {
		t.Fatalf("decoded %T, want MoveApplied", got)
	}
	if mv.UCI != "e2e4" || mv.ResultingTurn != Black || mv.Clocks.WhiteMs != 300000 {
		t.Fatalf("round trip mismatch: %+v", mv)
	}
}

func TestEncodeDecodeClientCommand(t *testing.T) {
	raw, err := EncodeClient(SubmitMove{From: "g8", To: "f6"})
	if err != nil {
		t.Fatalf("EncodeClient: %v", err)
	}
	got, err := DecodeClient(raw)
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	sm, ok := got.(SubmitMove)
	if !ok {
		t.Fatalf("decoded %T, want SubmitMove", got)
	}
	if sm.From != "g8" || sm.To != "f6" {
		t.Fatalf("round trip mismatch: %+v", sm)
	}

	// Payload-less commands survive the trip too.
	raw, err = EncodeClient(Resign{})
	if err != nil {
		t.Fatalf("EncodeClient resign: %v", err)
	}
	if got, err = DecodeClient(raw); err != nil {
		t.Fatalf("DecodeClient resign: %v", err)
	}
	if _, ok := got.(Resign); !ok {
		t.Fatalf("decoded %T, want Resign", got)
	}
}

func TestDecodeUnknownKindRejected(t *testing.T) {
	if _, err := DecodeClient([]byte(`{"v":1,"kind":"teleport"}`)); err == nil {
		t.Fatalf("expected error for unknown client kind")
	} else if !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("error should name the kind: %v", err)
	}
	if _, _, err := DecodeServer([]byte(`{"v":1,"kind":"teleport"}`)); err == nil {
		t.Fatalf("expected error for unknown server kind")
	}
}

func TestDecodeVersionMismatchRejected(t *testing.T) {
	if _, err := DecodeClient([]byte(`{"v":2,"kind":"resign"}`)); err == nil {
		t.Fatalf("expected error for protocol version mismatch")
	}
}

func TestSeqGateDropsStale(t *testing.T) {
	var g SeqGate
	if !g.Admit(1) || !g.Admit(2) {
		t.Fatalf("fresh sequences must be admitted")
	}
	if g.Admit(2) {
		t.Fatalf("duplicate sequence admitted")
	}
	if g.Admit(1) {
		t.Fatalf("stale sequence admitted")
	}
	if !g.Admit(5) {
		t.Fatalf("gap jump must be admitted")
	}
	g.Reset(10)
	if g.Admit(10) {
		t.Fatalf("sequence equal to reset base admitted")
	}
	if !g.Admit(11) {
		t.Fatalf("sequence above reset base rejected")
	}
}

func TestColorOther(t *testing.T) {
	if White.Other() != Black || Black.Other() != White {
		t.Fatalf("Other is not an involution")
	}
}
