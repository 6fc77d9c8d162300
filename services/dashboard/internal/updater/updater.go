package updater

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bwdash/services/dashboard/internal/snapshot"
)

const defaultInterval = 60 * time.Second

// Regenerator is the part of snapshot.Store the updater drives.
type Regenerator interface {
	Regenerate(ctx context.Context, trigger string) (snapshot.Result, error)
}

// Updater regenerates the snapshot on a fixed interval for the lifetime of
// the process. Failed runs are logged and retried on the next tick.
type Updater struct {
	store    Regenerator
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Updater. The first regeneration happens one interval after
// Start; the startup run is the caller's job.
func New(store Regenerator, interval time.Duration, logger zerolog.Logger) (*Updater, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Updater{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "updater").Logger(),
	}, nil
}

// Run blocks until ctx is cancelled.
func (u *Updater) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	u.logger.Info().Dur("interval", u.interval).Msg("stats updater started")
	defer u.logger.Info().Msg("stats updater stopped")

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.tick(ctx, snapshot.TriggerSchedule)
		}
	}
}

func (u *Updater) tick(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	res, err := u.store.Regenerate(ctx, trigger)
	if err != nil {
		u.logger.Warn().Err(err).Str("trigger", trigger).Msg("background stats update failed")
		return
	}
	u.logger.Debug().Str("run_id", res.RunID.String()).Str("trigger", trigger).Msg("background stats update successful")
}

// Start runs the updater in its own goroutine. Calling Start twice is a no-op.
func (u *Updater) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		_ = u.Run(runCtx)
	}(u.done)
}

// Stop cancels the loop and waits for it to return.
func (u *Updater) Stop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
