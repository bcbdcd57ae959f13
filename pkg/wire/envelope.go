package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope frames every message in both directions. Seq is only set on
// server-to-client envelopes; it is assigned by the game session and
// increases strictly within one session.
type Envelope struct {
	V       int             `json:"v"`
	Kind    string          `json:"kind"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeServer frames a server event with its session sequence number.
func EncodeServer(seq uint64, ev ServerEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{
		V:       ProtocolVersion,
		Kind:    string(ev.Kind()),
		Seq:     seq,
		Payload: payload,
	})
}

// EncodeClient frames a client command.
func EncodeClient(cmd ClientCommand) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", cmd.Kind(), err)
	}
	return json.Marshal(Envelope{
		V:       ProtocolVersion,
		Kind:    string(cmd.Kind()),
		Payload: payload,
	})
}

// DecodeClient parses a client envelope into its concrete command.
// Unknown kinds and version mismatches are errors, never ignored.
func DecodeClient(data []byte) (ClientCommand, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", env.V)
	}
	cmd, err := emptyCommand(ClientKind(env.Kind))
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}
	return concreteCommand(cmd), nil
}

// DecodeServer parses a server envelope into its concrete event plus
// the sequence number it carried.
func DecodeServer(data []byte) (ServerEvent, uint64, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != ProtocolVersion {
		return nil, 0, fmt.Errorf("unsupported protocol version %d", env.V)
	}
	ev, err := emptyEvent(ServerKind(env.Kind))
	if err != nil {
		return nil, 0, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ev); err != nil {
			return nil, 0, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}
	return concreteEvent(ev), env.Seq, nil
}

func emptyCommand(k ClientKind) (any, error) {
	switch k {
	case KindSubmitMove:
		return &SubmitMove{}, nil
	case KindOfferDraw:
		return &OfferDraw{}, nil
	case KindAcceptDraw:
		return &AcceptDraw{}, nil
	case KindDeclineDraw:
		return &DeclineDraw{}, nil
	case KindResign:
		return &Resign{}, nil
	case KindHeartbeat:
		return &Heartbeat{}, nil
	case KindJoinQueue:
		return &JoinQueue{}, nil
	case KindLeaveQueue:
		return &LeaveQueue{}, nil
	default:
		return nil, fmt.Errorf("unknown client kind %q", k)
	}
}

func concreteCommand(p any) ClientCommand {
	switch v := p.(type) {
	case *SubmitMove:
		return *v
	case *OfferDraw:
		return *v
	case *AcceptDraw:
		return *v
	case *DeclineDraw:
		return *v
	case *Resign:
		return *v
	case *Heartbeat:
		return *v
	case *JoinQueue:
		return *v
	case *LeaveQueue:
		return *v
	}
	panic("wire: unreachable command type")
}

func emptyEvent(k ServerKind) (any, error) {
	switch k {
	case KindSessionWaiting:
		return &SessionWaiting{}, nil
	case KindSessionStart:
		return &SessionStart{}, nil
	case KindMoveApplied:
		return &MoveApplied{}, nil
	case KindDrawOffered:
		return &DrawOffered{}, nil
	case KindDrawDeclined:
		return &DrawDeclined{}, nil
	case KindOpponentDisconnected:
		return &OpponentDisconnected{}, nil
	case KindOpponentReconnected:
		return &OpponentReconnected{}, nil
	case KindSessionOver:
		return &SessionOver{}, nil
	case KindRejected:
		return &Rejected{}, nil
	case KindSnapshot:
		return &Snapshot{}, nil
	default:
		return nil, fmt.Errorf("unknown server kind %q", k)
	}
}

func concreteEvent(p any) ServerEvent {
	switch v := p.(type) {
	case *SessionWaiting:
		return *v
	case *SessionStart:
		return *v
	case *MoveApplied:
		return *v
	case *DrawOffered:
		return *v
	case *DrawDeclined:
		return *v
	case *OpponentDisconnected:
		return *v
	case *OpponentReconnected:
		return *v
	case *SessionOver:
		return *v
	case *Rejected:
		return *v
	case *Snapshot:
		return *v
	}
	panic("wire: unreachable event type")
}

// SeqGate filters replayed or reordered server events on the receiving
// side: only envelopes with a sequence strictly greater than the last
// admitted one pass.
type SeqGate struct {
	last uint64
}

// Reset rebases the gate, typically from Snapshot.LastSeq.
func (g *SeqGate) Reset(seq uint64) { g.last = seq }

// Admit reports whether seq should be applied and records it if so.
func (g *SeqGate) Admit(seq uint64) bool {
	if seq <= g.last {
		return false
	}
	g.last = seq
	return true
}
