package game

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/rules"
	"github.com/quietbit/arena/pkg/wire"
)

func newRegistrySession(t *testing.T, id string) *Session {
	t.Helper()
	s := NewSession(Params{
		ID:          id,
		White:       Player{ID: id + "-w", Name: "W", Color: wire.White},
		Black:       Player{ID: id + "-b", Name: "B", Color: wire.Black},
		TimeControl: wire.TimeControl{BaseSeconds: 60},
		Engine:      rules.NewEngine(),
		Clock:       clockwork.NewFakeClock(),
		Logger:      zap.NewNop(),
		Grace:       10 * time.Second,
		Linger:      10 * time.Second,
	})
	t.Cleanup(s.Abort)
	return s
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(10, zap.NewNop())
	s := newRegistrySession(t, "g1")

	if err := r.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := r.Get("g1")
	if err != nil || got != s {
		t.Fatalf("get = %v, %v", got, err)
	}

	r.Remove("g1")
	if _, err := r.Get("g1"); err != ErrSessionNotFound {
		t.Fatalf("get after remove = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(1, zap.NewNop())

	if err := r.Add(newRegistrySession(t, "g1")); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.Add(newRegistrySession(t, "g2")); err != ErrCapacity {
		t.Fatalf("second add = %v, want ErrCapacity", err)
	}

	r.Remove("g1")
	if err := r.Add(newRegistrySession(t, "g3")); err != nil {
		t.Fatalf("add after remove: %v", err)
	}
}

func TestRegistryShutdownDrains(t *testing.T) {
	r := NewRegistry(10, zap.NewNop())
	s1 := newRegistrySession(t, "g1")
	s2 := newRegistrySession(t, "g2")
	r.Add(s1)
	r.Add(s2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-s1.Done():
	default:
		t.Fatal("s1 loop still running after shutdown")
	}
	if err := r.Add(newRegistrySession(t, "g3")); err != ErrRegistryClosed {
		t.Fatalf("add after shutdown = %v, want ErrRegistryClosed", err)
	}
}
