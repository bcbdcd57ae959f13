package match

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/game"
	"github.com/quietbit/arena/internal/rules"
	"github.com/quietbit/arena/pkg/wire"
)

type recordingNotifier struct {
	mu  sync.Mutex
	evs map[string][]wire.ServerEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{evs: make(map[string][]wire.ServerEvent)}
}

func (n *recordingNotifier) Notify(playerID string, ev wire.ServerEvent) {
	n.mu.Lock()
	n.evs[playerID] = append(n.evs[playerID], ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) lastFor(playerID string) wire.ServerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.evs[playerID]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func newTestMatchmaker(t *testing.T, capacity int) (*Matchmaker, *Store, *game.Registry, *recordingNotifier) {
	t.Helper()
	m, store, registry, n, _ := newTestMatchmakerFull(t, capacity, nil)
	return m, store, registry, n
}

func newTestMatchmakerFull(t *testing.T, capacity int, onFinish func(game.Record)) (*Matchmaker, *Store, *game.Registry, *recordingNotifier, *clockwork.FakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb)
	registry := game.NewRegistry(capacity, zap.NewNop())
	fc := clockwork.NewFakeClock()
	next := 0
	m := New(Config{
		Store:    store,
		Registry: registry,
		Engine:   rules.NewEngine(),
		Clock:    fc,
		Logger:   zap.NewNop(),
		Grace:    10 * time.Second,
		Linger:   10 * time.Second,
		OnFinish: onFinish,
		NewID: func() string {
			next++
			return string(rune('a' + next - 1))
		},
	})
	n := newRecordingNotifier()
	m.SetNotifier(n)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})
	return m, store, registry, n, fc
}

func blitzTicket(playerID string) Ticket {
	return Ticket{
		PlayerID:    playerID,
		Name:        playerID,
		TimeControl: wire.TimeControl{BaseSeconds: 180, IncrementSeconds: 2},
	}
}

func TestJoinWaitsAlone(t *testing.T) {
	m, _, registry, n := newTestMatchmaker(t, 10)
	ctx := context.Background()

	if err := m.Join(ctx, blitzTicket("u1")); err != nil {
		t.Fatalf("join: %v", err)
	}
	ev := n.lastFor("u1")
	w, ok := ev.(*wire.SessionWaiting)
	if !ok {
		t.Fatalf("last event = %T, want SessionWaiting", ev)
	}
	if w.QueueKey != "180+2:casual" {
		t.Fatalf("queue key = %s", w.QueueKey)
	}
	if registry.Len() != 0 {
		t.Fatalf("registry has %d sessions before a pairing", registry.Len())
	}
}

func TestSecondJoinPairs(t *testing.T) {
	m, _, registry, n := newTestMatchmaker(t, 10)
	ctx := context.Background()

	if err := m.Join(ctx, blitzTicket("u1")); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if err := m.Join(ctx, blitzTicket("u2")); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	s1, ok := n.lastFor("u1").(*wire.SessionStart)
	if !ok {
		t.Fatalf("u1 last event = %T, want SessionStart", n.lastFor("u1"))
	}
	s2 := n.lastFor("u2").(*wire.SessionStart)
	if s1.GameID != s2.GameID {
		t.Fatalf("game ids differ: %s vs %s", s1.GameID, s2.GameID)
	}
	if s1.Color == s2.Color {
		t.Fatalf("both players got %s", s1.Color)
	}
	// First queued with no history plays white.
	if s1.Color != wire.White {
		t.Fatalf("u1 color = %s, want white", s1.Color)
	}
	if s1.Opponent.ID != "u2" || s2.Opponent.ID != "u1" {
		t.Fatalf("opponents = %s / %s", s1.Opponent.ID, s2.Opponent.ID)
	}
	if s1.InitialClocks.WhiteMs != 180_000 {
		t.Fatalf("initial clock = %d", s1.InitialClocks.WhiteMs)
	}
	if registry.Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", registry.Len())
	}
	if _, err := registry.Get(s1.GameID); err != nil {
		t.Fatalf("session not registered: %v", err)
	}
}

func TestColorsAlternate(t *testing.T) {
	m, _, _, n := newTestMatchmaker(t, 10)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	m.Join(ctx, blitzTicket("u2"))
	if got := n.lastFor("u1").(*wire.SessionStart).Color; got != wire.White {
		t.Fatalf("first pairing: u1 = %s", got)
	}

	// Same player queues again and now gets the other color.
	m.Join(ctx, blitzTicket("u1"))
	m.Join(ctx, blitzTicket("u3"))
	if got := n.lastFor("u1").(*wire.SessionStart).Color; got != wire.Black {
		t.Fatalf("second pairing: u1 = %s, want black", got)
	}
	if got := n.lastFor("u3").(*wire.SessionStart).Color; got != wire.White {
		t.Fatalf("u3 = %s, want white", got)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	m, _, registry, n := newTestMatchmaker(t, 10)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	rapid := Ticket{
		PlayerID:    "u2",
		Name:        "u2",
		TimeControl: wire.TimeControl{BaseSeconds: 600, IncrementSeconds: 5},
	}
	if err := m.Join(ctx, rapid); err != nil {
		t.Fatalf("join rapid: %v", err)
	}

	if registry.Len() != 0 {
		t.Fatal("players from different queues were paired")
	}
	if _, ok := n.lastFor("u2").(*wire.SessionWaiting); !ok {
		t.Fatalf("u2 last event = %T, want SessionWaiting", n.lastFor("u2"))
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	m, _, _, _ := newTestMatchmaker(t, 10)
	ctx := context.Background()

	if err := m.Join(ctx, blitzTicket("u1")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.Join(ctx, blitzTicket("u1")); err != ErrAlreadyQueued {
		t.Fatalf("second join = %v, want ErrAlreadyQueued", err)
	}
}

func TestLeaveQueue(t *testing.T) {
	m, _, registry, _ := newTestMatchmaker(t, 10)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	removed, err := m.Leave(ctx, "u1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !removed {
		t.Fatal("leave removed nothing")
	}

	// The cancelled player can no longer be paired.
	m.Join(ctx, blitzTicket("u2"))
	if registry.Len() != 0 {
		t.Fatal("cancelled ticket still produced a pairing")
	}

	// Leaving again, or after pairing, is a no-op.
	removed, err = m.Leave(ctx, "u1")
	if err != nil || removed {
		t.Fatalf("second leave = %v, %v", removed, err)
	}
}

func TestLeaveAfterPairingIsNoop(t *testing.T) {
	m, _, _, _ := newTestMatchmaker(t, 10)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	m.Join(ctx, blitzTicket("u2"))

	removed, err := m.Leave(ctx, "u1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if removed {
		t.Fatal("leave removed a ticket that was already paired")
	}
}

func TestJoinRejectedAtCapacity(t *testing.T) {
	m, _, _, _ := newTestMatchmaker(t, 1)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	m.Join(ctx, blitzTicket("u2"))

	if err := m.Join(ctx, blitzTicket("u3")); err != ErrServerFull {
		t.Fatalf("join at capacity = %v, want ErrServerFull", err)
	}
}

func TestRegistryFullPairingLeavesNoRecord(t *testing.T) {
	finished := make(chan game.Record, 1)
	m, store, registry, _, _ := newTestMatchmakerFull(t, 1, func(r game.Record) { finished <- r })
	ctx := context.Background()

	// Fill the only slot so the next pairing is deferred.
	filler := game.NewSession(game.Params{
		ID:          "g-filler",
		White:       game.Player{ID: "fw", Name: "fw", Color: wire.White},
		Black:       game.Player{ID: "fb", Name: "fb", Color: wire.Black},
		TimeControl: wire.TimeControl{BaseSeconds: 60},
		Engine:      rules.NewEngine(),
		Clock:       clockwork.NewFakeClock(),
		Logger:      zap.NewNop(),
		Grace:       10 * time.Second,
		Linger:      10 * time.Second,
	})
	if err := registry.Add(filler); err != nil {
		t.Fatalf("add filler: %v", err)
	}

	if _, err := store.Enqueue(ctx, blitzTicket("u1")); err != nil {
		t.Fatalf("enqueue u1: %v", err)
	}
	if _, err := store.Enqueue(ctx, blitzTicket("u2")); err != nil {
		t.Fatalf("enqueue u2: %v", err)
	}
	if err := m.tryPair(ctx, "180+2:casual"); err != nil {
		t.Fatalf("tryPair: %v", err)
	}

	// The aborted pairing never became a game; nothing reaches the
	// archive path.
	select {
	case rec := <-finished:
		t.Fatalf("record delivered for a game that never started: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}

	// Both tickets went back to the queue in their original order.
	pair, err := store.PopPair(ctx, "180+2:casual")
	if err != nil {
		t.Fatalf("pop after requeue: %v", err)
	}
	if len(pair) != 2 || pair[0].PlayerID != "u1" || pair[1].PlayerID != "u2" {
		t.Fatalf("requeued pair = %+v", pair)
	}
}

func TestSweepPairsWaitingTickets(t *testing.T) {
	m, store, registry, n, fc := newTestMatchmakerFull(t, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tickets already sitting in redis, as after a restart.
	if _, err := store.Enqueue(ctx, blitzTicket("u1")); err != nil {
		t.Fatalf("enqueue u1: %v", err)
	}
	if _, err := store.Enqueue(ctx, blitzTicket("u2")); err != nil {
		t.Fatalf("enqueue u2: %v", err)
	}

	go m.Run(ctx)
	fc.BlockUntil(1)
	fc.Advance(defaultSweepInterval)

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never paired the waiting tickets")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, ok := n.lastFor("u1").(*wire.SessionStart); !ok {
		t.Fatalf("u1 last event = %T, want SessionStart", n.lastFor("u1"))
	}
	if _, ok := n.lastFor("u2").(*wire.SessionStart); !ok {
		t.Fatalf("u2 last event = %T, want SessionStart", n.lastFor("u2"))
	}
}

func TestRejoinAfterPairingAllowed(t *testing.T) {
	m, store, _, _ := newTestMatchmaker(t, 10)
	ctx := context.Background()

	m.Join(ctx, blitzTicket("u1"))
	m.Join(ctx, blitzTicket("u2"))

	// The popped ticket no longer blocks a fresh join.
	ok, err := store.Enqueue(ctx, blitzTicket("u1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !ok {
		t.Fatal("stale ticket marker blocked rejoin")
	}
}
