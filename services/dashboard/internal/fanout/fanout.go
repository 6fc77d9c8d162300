// Package fanout forwards regenerated snapshots to optional downstream sinks.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"bwdash/services/dashboard/internal/snapshot"
)

const defaultTimeout = 10 * time.Second

// Sink receives a copy of every successful regeneration.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev snapshot.Event, data []byte) error
	Close() error
}

// Fanout delivers snapshot events to each configured sink in order.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger
}

// New returns a Fanout over sinks. A non-positive timeout selects the default.
func New(logger zerolog.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fanout{sinks: sinks, timeout: timeout, logger: logger}
}

// Len reports the number of sinks.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Notify implements snapshot.Notifier. Every sink is attempted; failures are
// combined into the returned error.
func (f *Fanout) Notify(ctx context.Context, ev snapshot.Event, data []byte) error {
	if f == nil {
		return nil
	}
	var errs error
	for _, sink := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := sink.Notify(sctx, ev, data)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		f.logger.Debug().
			Str("sink", sink.Name()).
			Str("run_id", ev.RunID.String()).
			Msg("snapshot delivered")
	}
	return errs
}

// Close closes every sink.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errs
}
