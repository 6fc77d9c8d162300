package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"bwdash/services/dashboard/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Regeneration triggers, used in logs, metrics and events.
const (
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
	TriggerRequest  = "request"
	TriggerRefresh  = "refresh"
	TriggerCLI      = "cli"
)

// Event describes a successful regeneration.
type Event struct {
	RunID       uuid.UUID `json:"run_id"`
	Trigger     string    `json:"trigger"`
	GeneratedAt time.Time `json:"generated_at"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
}

// Notifier receives the snapshot bytes after each successful regeneration.
type Notifier interface {
	Notify(ctx context.Context, ev Event, data []byte) error
}

// Result reports a generator run.
type Result struct {
	RunID     uuid.UUID
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration
	SizeBytes int64
	Stdout    string
	// Shared is true when the caller joined a run started by someone else.
	Shared bool
}

// Options configures a Store.
type Options struct {
	StatsFile string
	Script    string
	// Interpreter runs Script when set ("bash"); otherwise Script is executed directly.
	Interpreter string
	Timeout     time.Duration
	Runner      CommandRunner
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Notifier    Notifier
	Now         func() time.Time
}

// Store owns the snapshot file and the generator that refreshes it.
type Store struct {
	path        string
	script      string
	interpreter string
	timeout     time.Duration
	runner      CommandRunner
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	notifier    Notifier
	now         func() time.Time
	tracer      trace.Tracer

	group singleflight.Group
	// sem admits one generator run at a time.
	sem chan struct{}
}

// NewStore validates opts and applies defaults.
func NewStore(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.StatsFile) == "" {
		return nil, errors.New("stats file path is required")
	}
	if strings.TrimSpace(opts.Script) == "" {
		return nil, errors.New("generate script path is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		path:        opts.StatsFile,
		script:      opts.Script,
		interpreter: opts.Interpreter,
		timeout:     opts.Timeout,
		runner:      opts.Runner,
		logger:      opts.Logger.With().Str("component", "snapshot").Logger(),
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		now:         opts.Now,
		tracer:      otel.Tracer("bwdash/snapshot"),
		sem:         make(chan struct{}, 1),
	}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// EnsureDir creates the directory that holds the snapshot file.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create snapshot directory: %v", ErrIO, err)
	}
	return nil
}

// Read returns the snapshot bytes exactly as the generator wrote them.
func (s *Store) Read() ([]byte, error) {
	data, err := s.read()
	s.metrics.ObserveRead(ReadResult(err))
	return data, err
}

func (s *Store) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stats file %w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, s.path)
	}
	return data, nil
}

// Age returns how long ago the snapshot was last modified.
func (s *Store) Age() (time.Duration, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("stats file %w: %s", ErrNotFound, s.path)
		}
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return s.now().Sub(info.ModTime()), nil
}

// IsStale reports whether the snapshot is missing or older than threshold.
func (s *Store) IsStale(threshold time.Duration) bool {
	age, err := s.Age()
	if err != nil {
		return true
	}
	return age > threshold
}

// Regenerate runs the generator. Generator runs never overlap.
//
// Request and schedule triggers coalesce: callers arriving while such a run
// is in flight wait for it and share its outcome. The run is detached from
// ctx cancellation and bounded only by the generator timeout.
//
// A refresh always starts its own run once any in-flight run has finished,
// so the snapshot it reports was generated after the call. Startup and CLI
// runs are not shared and honour ctx cancellation.
func (s *Store) Regenerate(ctx context.Context, trigger string) (Result, error) {
	switch trigger {
	case TriggerRefresh:
		return s.exclusive(context.WithoutCancel(ctx), trigger)
	case TriggerStartup, TriggerCLI:
		return s.exclusive(ctx, trigger)
	}

	v, err, shared := s.group.Do("regenerate", func() (any, error) {
		return s.exclusive(context.WithoutCancel(ctx), trigger)
	})
	res, _ := v.(Result)
	res.Shared = shared
	return res, err
}

func (s *Store) exclusive(ctx context.Context, trigger string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Trigger: trigger}, cancelledError(err)
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{Trigger: trigger}, cancelledError(ctx.Err())
	}
	defer func() { <-s.sem }()
	return s.regenerate(ctx, trigger)
}

func (s *Store) regenerate(ctx context.Context, trigger string) (Result, error) {
	res := Result{
		RunID:     uuid.New(),
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	ctx, span := s.tracer.Start(ctx, "snapshot.regenerate", trace.WithAttributes(
		attribute.String("bwdash.run_id", res.RunID.String()),
		attribute.String("bwdash.trigger", trigger),
	))
	defer span.End()

	logger := s.logger.With().Str("run_id", res.RunID.String()).Str("trigger", trigger).Logger()

	err := s.runGenerator(ctx, &res)
	res.Duration = s.now().Sub(res.StartedAt)
	if err != nil {
		s.metrics.ObserveRegeneration(trigger, "failure", res.Duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", res.Duration).Msg("snapshot generation failed")
		return res, err
	}
	s.metrics.ObserveRegeneration(trigger, "success", res.Duration)

	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		logger.Warn().Err(readErr).Msg("generator succeeded but snapshot is unreadable")
		return res, nil
	}
	res.SizeBytes = int64(len(data))
	s.metrics.SetSnapshotSize(res.SizeBytes)
	span.SetAttributes(attribute.Int64("bwdash.snapshot_bytes", res.SizeBytes))

	logger.Info().
		Dur("duration", res.Duration).
		Str("size", humanize.Bytes(uint64(res.SizeBytes))).
		Msg("stats generated successfully")

	s.notify(ctx, logger, res, data)
	return res, nil
}

func (s *Store) runGenerator(ctx context.Context, res *Result) error {
	if _, err := os.Stat(s.script); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &GenerationError{
				Msg: fmt.Sprintf("Generate script not found: %s", s.script),
				Err: ErrNotFound,
			}
		}
		return &GenerationError{
			Msg: fmt.Sprintf("Generate script unavailable: %v", err),
			Err: ErrIO,
		}
	}

	name, args := s.script, []string(nil)
	if s.interpreter != "" {
		name, args = s.interpreter, []string{s.script}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout, stderr, err := s.runner.Run(runCtx, name, args...)
	res.Stdout = string(stdout)

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return &GenerationError{
				Msg:    "Stats generation timed out",
				Stderr: string(stderr),
				Err:    ErrTimeout,
			}
		case errors.Is(runCtx.Err(), context.Canceled):
			gerr := cancelledError(context.Canceled)
			gerr.Stderr = string(stderr)
			return gerr
		}

		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = err.Error()
		}
		return &GenerationError{
			Msg:    fmt.Sprintf("Script execution failed: %s", detail),
			Stderr: string(stderr),
			Err:    err,
		}
	}
	return nil
}

func (s *Store) notify(ctx context.Context, logger zerolog.Logger, res Result, data []byte) {
	if s.notifier == nil {
		return
	}
	sum := sha256.Sum256(data)
	ev := Event{
		RunID:       res.RunID,
		Trigger:     res.Trigger,
		GeneratedAt: res.StartedAt.Add(res.Duration),
		SizeBytes:   res.SizeBytes,
		SHA256:      hex.EncodeToString(sum[:]),
	}
	if err := s.notifier.Notify(ctx, ev, data); err != nil {
		logger.Warn().Err(err).Msg("snapshot fan-out failed")
	}
}
