package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/game"
	"github.com/quietbit/arena/internal/rules"
	"github.com/quietbit/arena/pkg/wire"
)

var (
	// ErrAlreadyQueued rejects a second join while a ticket is live.
	ErrAlreadyQueued = errors.New("player already queued")
	// ErrServerFull rejects joins while the session registry is at
	// capacity.
	ErrServerFull = errors.New("server full")
)

// Notifier pushes matchmaking events to a player's queue connection.
type Notifier interface {
	Notify(playerID string, ev wire.ServerEvent)
}

const defaultSweepInterval = 2 * time.Second

// Config wires a Matchmaker to its collaborators.
type Config struct {
	Store         *Store
	Registry      *game.Registry
	Engine        rules.Engine
	Clock         clockwork.Clock
	Logger        *zap.Logger
	Grace         time.Duration
	Linger        time.Duration
	SweepInterval time.Duration
	OnFinish      func(game.Record)
	NewID         func() string
}

// Matchmaker pairs queued players first-in-first-out within each
// (time control, mode) queue and spins up a session per pairing.
type Matchmaker struct {
	cfg      Config
	log      *zap.Logger
	pairMu   sync.Mutex
	notifyMu sync.RWMutex
	notifier Notifier
}

func New(cfg Config) *Matchmaker {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Matchmaker{cfg: cfg, log: cfg.Logger}
}

// Run periodically sweeps every queue so players enqueued before a
// restart, or requeued after a capacity rejection, still get paired
// without waiting for another join. Blocks until ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	t := m.cfg.Clock.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			m.sweep(ctx)
		}
	}
}

func (m *Matchmaker) sweep(ctx context.Context) {
	keys, err := m.cfg.Store.QueueKeys(ctx)
	if err != nil {
		m.log.Warn("queue_scan_failed", zap.Error(err))
		return
	}
	for _, qk := range keys {
		for {
			if m.cfg.Registry.Full() {
				return
			}
			started, err := m.pairOnce(ctx, qk)
			if err != nil {
				m.log.Warn("pairing_sweep_failed",
					zap.String("queue", qk),
					zap.Error(err))
				break
			}
			if !started {
				break
			}
		}
	}
}

// SetNotifier binds the transport that delivers queue events.
func (m *Matchmaker) SetNotifier(n Notifier) {
	m.notifyMu.Lock()
	m.notifier = n
	m.notifyMu.Unlock()
}

func (m *Matchmaker) notify(playerID string, ev wire.ServerEvent) {
	m.notifyMu.RLock()
	n := m.notifier
	m.notifyMu.RUnlock()
	if n != nil {
		n.Notify(playerID, ev)
	}
}

// Join enqueues a player and attempts a pairing. The player receives
// either a waiting acknowledgement or, when an opponent is available,
// a session start.
func (m *Matchmaker) Join(ctx context.Context, t Ticket) error {
	if m.cfg.Registry.Full() {
		return ErrServerFull
	}
	if t.Mode == "" {
		t.Mode = DefaultMode
	}
	t.EnqueuedAt = m.cfg.Clock.Now()

	ok, err := m.cfg.Store.Enqueue(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyQueued
	}
	qk := QueueKey(t.TimeControl, t.Mode)
	m.notify(t.PlayerID, &wire.SessionWaiting{QueueKey: qk})
	m.log.Info("queue_joined",
		zap.String("player_id", t.PlayerID),
		zap.String("queue", qk))
	return m.tryPair(ctx, qk)
}

// Leave cancels a player's ticket. Leaving after a pairing already
// popped the ticket is a harmless no-op.
func (m *Matchmaker) Leave(ctx context.Context, playerID string) (bool, error) {
	removed, err := m.cfg.Store.Cancel(ctx, playerID)
	if err != nil {
		return false, err
	}
	if removed {
		m.log.Info("queue_left", zap.String("player_id", playerID))
	}
	return removed, nil
}

func (m *Matchmaker) tryPair(ctx context.Context, queueKey string) error {
	_, err := m.pairOnce(ctx, queueKey)
	return err
}

// pairOnce pops and starts at most one pairing. It reports false when
// the queue held fewer than two tickets or the pairing was deferred
// back into the queue.
func (m *Matchmaker) pairOnce(ctx context.Context, queueKey string) (bool, error) {
	m.pairMu.Lock()
	defer m.pairMu.Unlock()

	pair, err := m.cfg.Store.PopPair(ctx, queueKey)
	if err != nil {
		return false, err
	}
	if pair == nil {
		return false, nil
	}
	return m.startSession(ctx, pair[0], pair[1])
}

func (m *Matchmaker) startSession(ctx context.Context, a, b Ticket) (bool, error) {
	aColor, err := m.assignColor(ctx, a.PlayerID)
	if err != nil {
		return false, err
	}
	white, black := a, b
	if aColor == wire.Black {
		white, black = b, a
	}

	gameID := m.cfg.NewID()
	s := game.NewSession(game.Params{
		ID:          gameID,
		White:       game.Player{ID: white.PlayerID, Name: white.Name, Color: wire.White},
		Black:       game.Player{ID: black.PlayerID, Name: black.Name, Color: wire.Black},
		TimeControl: a.TimeControl,
		Engine:      m.cfg.Engine,
		Clock:       m.cfg.Clock,
		Logger:      m.log,
		Grace:       m.cfg.Grace,
		Linger:      m.cfg.Linger,
		OnFinish:    m.cfg.OnFinish,
		OnClose:     m.cfg.Registry.Remove,
	})
	if err := m.cfg.Registry.Add(s); err != nil {
		s.Abort()
		if reqErr := m.cfg.Store.Requeue(ctx, []Ticket{a, b}); reqErr != nil {
			return false, reqErr
		}
		m.log.Warn("pairing_deferred", zap.Error(err))
		return false, nil
	}

	if err := m.cfg.Store.RecordColors(ctx, map[string]wire.Color{
		white.PlayerID: wire.White,
		black.PlayerID: wire.Black,
	}); err != nil {
		m.log.Warn("ledger_update_failed", zap.Error(err))
	}

	base := wire.ClockPair{
		WhiteMs: int64(a.TimeControl.BaseSeconds) * 1000,
		BlackMs: int64(a.TimeControl.BaseSeconds) * 1000,
	}
	m.notify(white.PlayerID, &wire.SessionStart{
		GameID:        gameID,
		Opponent:      wire.PlayerInfo{ID: black.PlayerID, Name: black.Name},
		Color:         wire.White,
		TimeControl:   a.TimeControl,
		InitialClocks: base,
	})
	m.notify(black.PlayerID, &wire.SessionStart{
		GameID:        gameID,
		Opponent:      wire.PlayerInfo{ID: white.PlayerID, Name: white.Name},
		Color:         wire.Black,
		TimeControl:   a.TimeControl,
		InitialClocks: base,
	})
	m.log.Info("players_paired",
		zap.String("game_id", gameID),
		zap.String("white", white.PlayerID),
		zap.String("black", black.PlayerID))
	return true, nil
}

// assignColor gives the first-queued player the opposite of the color
// they played last, defaulting to white.
func (m *Matchmaker) assignColor(ctx context.Context, playerID string) (wire.Color, error) {
	last, err := m.cfg.Store.LastColor(ctx, playerID)
	if err != nil {
		return "", err
	}
	if last == wire.White {
		return wire.Black, nil
	}
	return wire.White, nil
}
