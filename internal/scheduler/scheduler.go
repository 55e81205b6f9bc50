// Package scheduler fires the timed check-ins and the housekeeping jobs:
// dead-letter redelivery and retention.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/metrics"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/store"
)

// redeliveryBatch caps how many dead letters one redelivery run retries.
const redeliveryBatch = 50

// Prompter runs the per-user work of a job.
type Prompter interface {
	Prompt(ctx context.Context, scope models.Scope, kind conversation.PromptKind) (agent.Result, error)
	Redeliver(ctx context.Context, limit int) (int, error)
}

// Specs are the cron expressions of each job. Empty disables a job.
type Specs struct {
	Morning    string
	Midday     string
	Evening    string
	Weekly     string
	Redelivery string
	Retention  string
}

// Config configures a Scheduler.
type Config struct {
	Specs    Specs
	Location *time.Location
	Workers  int
}

// Sweep summarises one prompt run across every scope.
type Sweep struct {
	Kind    conversation.PromptKind `json:"kind"`
	Scopes  int                     `json:"scopes"`
	Sent    int                     `json:"sent"`
	Skipped int                     `json:"skipped"`
	Failed  int                     `json:"failed"`
}

// sizer is implemented by stores that can report their on-disk size.
type sizer interface {
	DBSizeBytes() (int64, error)
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron     *cron.Cron
	prompter Prompter
	repo     store.Repository
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	workers  int

	// ctx is cancelled by Stop so in-flight jobs wind down.
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	// sweeping serialises sweeps of the same kind between cron and RunNow.
	sweeping sync.Map
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records prompt and housekeeping gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler and registers every configured job. It does not
// start the loop.
func New(cfg Config, prompter Prompter, repo store.Repository, logger zerolog.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	logger = logger.With().Str("component", "scheduler").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		prompter: prompter,
		repo:     repo,
		logger:   logger,
		workers:  cfg.Workers,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}

	cl := cronLogger{logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"morning", cfg.Specs.Morning, s.promptJob(conversation.PromptMorning)},
		{"midday", cfg.Specs.Midday, s.promptJob(conversation.PromptMidday)},
		{"evening", cfg.Specs.Evening, s.promptJob(conversation.PromptEvening)},
		{"weekly", cfg.Specs.Weekly, s.promptJob(conversation.PromptWeekly)},
		{"redelivery", cfg.Specs.Redelivery, func(ctx context.Context) { _, _ = s.Redeliver(ctx) }},
		{"retention", cfg.Specs.Retention, func(ctx context.Context) { _, _ = s.Retention(ctx) }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() { run(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid %s schedule %q: %w", j.name, j.spec, err)
		}
		logger.Debug().Str("job", j.name).Str("spec", j.spec).Msg("job registered")
	}
	return s, nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.running.Store(true)
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts the loop and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.running.Store(false)
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Running reports whether the loop is started, for readiness checks.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Check is a readiness probe, wrapped with health.Ping.
func (s *Scheduler) Check(context.Context) error {
	if !s.Running() {
		return errors.New("scheduler not running")
	}
	return nil
}

// Next returns the next fire time of every registered job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

func (s *Scheduler) promptJob(kind conversation.PromptKind) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := s.RunNow(ctx, kind); err != nil {
			s.logger.Error().Err(err).Str("kind", string(kind)).Msg("prompt sweep failed")
		}
	}
}

// ErrSweepRunning is returned by RunNow when a sweep of the same kind is
// already in progress.
var ErrSweepRunning = errors.New("sweep already running")

// RunNow prompts every known scope for kind. Failures for one user are
// logged and counted; they never stop the sweep.
func (s *Scheduler) RunNow(ctx context.Context, kind conversation.PromptKind) (Sweep, error) {
	if _, busy := s.sweeping.LoadOrStore(kind, struct{}{}); busy {
		return Sweep{Kind: kind}, ErrSweepRunning
	}
	defer s.sweeping.Delete(kind)

	start := time.Now()
	scopes, err := s.repo.ListScopes(ctx)
	if err != nil {
		return Sweep{Kind: kind}, fmt.Errorf("failed to list scopes: %w", err)
	}

	var (
		mu    sync.Mutex
		sweep = Sweep{Kind: kind, Scopes: len(scopes)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, scope := range scopes {
		scope := scope
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.prompter.Prompt(gctx, scope, kind)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sweep.Failed++
				s.logger.Warn().Err(err).Str("scope", scope.String()).Str("kind", string(kind)).Msg("prompt failed")
			case res.Handled:
				sweep.Sent++
			default:
				sweep.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Str("kind", string(kind)).
		Int("scopes", sweep.Scopes).
		Int("sent", sweep.Sent).
		Int("skipped", sweep.Skipped).
		Int("failed", sweep.Failed).
		Dur("took", time.Since(start)).
		Msg("prompt sweep finished")
	return sweep, ctx.Err()
}

// Redeliver retries due dead letters and refreshes the pending gauge.
func (s *Scheduler) Redeliver(ctx context.Context) (int, error) {
	n, err := s.prompter.Redeliver(ctx, redeliveryBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("redelivery failed")
	}
	if n > 0 {
		s.logger.Info().Int("delivered", n).Msg("dead letters redelivered")
	}
	if s.metrics != nil {
		if pending, lerr := s.repo.ListRetryable(ctx, 0); lerr == nil {
			s.metrics.SetDeadLettersPending(len(pending))
		}
	}
	return n, err
}

// Retention prunes old rows and refreshes the database size gauge.
func (s *Scheduler) Retention(ctx context.Context) (store.Retention, error) {
	removed, err := s.repo.RunRetention(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention failed")
		return removed, err
	}
	if sz, ok := s.repo.(sizer); ok && s.metrics != nil {
		if bytes, err := sz.DBSizeBytes(); err == nil {
			s.metrics.SetDBSize(bytes)
		}
	}
	return removed, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
