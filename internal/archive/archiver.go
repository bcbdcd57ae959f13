package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/game"
)

// Archiver fans a finished game out to the repository and the webhook.
// Delivery runs off the session loop so a slow sink never delays
// teardown; failures are logged and dropped after the retry budget.
type Archiver struct {
	repo     *Repository
	notifier *Notifier
	log      *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewArchiver(repo *Repository, notifier *Notifier, log *zap.Logger) *Archiver {
	return &Archiver{
		repo:     repo,
		notifier: notifier,
		log:      log,
		timeout:  30 * time.Second,
	}
}

// Deliver accepts a finished game and returns immediately.
func (a *Archiver) Deliver(rec game.Record) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if a.repo != nil {
			if err := a.repo.Save(ctx, rec); err != nil {
				a.log.Error("archive_save_failed",
					zap.String("game_id", rec.GameID),
					zap.Error(err))
			}
		}
		if a.notifier != nil {
			if err := a.notifier.Notify(ctx, rec); err != nil {
				a.log.Warn("webhook_notify_failed",
					zap.String("game_id", rec.GameID),
					zap.Error(err))
			}
		}
	}()
}

// Drain waits for in-flight deliveries, bounded by the context.
func (a *Archiver) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
