// Package agent is the check-in orchestrator. For every inbound event it
// drops redeliveries, serialises work per scope, runs the state machine
// inside one storage transaction and delivers the replies after commit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/dedup"
	"github.com/p-blackswan/checkin-agent/internal/escalation"
	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/metrics"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/requestid"
	"github.com/p-blackswan/checkin-agent/internal/sentiment"
	"github.com/p-blackswan/checkin-agent/internal/store"
)

// errDuplicate rolls back a transaction whose message id was already
// recorded.
var errDuplicate = fmt.Errorf("message already processed: %w", perrors.ErrDuplicate)

// Agent orchestrates dispatch for every scope.
type Agent struct {
	repo    store.Repository
	guard   *dedup.Guard
	engine  *sentiment.Engine
	senders map[models.Channel]Sender
	metrics *metrics.Metrics
	alerts  *escalation.Escalator
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location
	locks   stripedLock

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Agent.
type Option func(*Agent)

// WithSender registers the sender for a channel.
func WithSender(ch models.Channel, s Sender) Option {
	return func(a *Agent) { a.senders[ch] = s }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithEscalator alerts operators about distressed users and abandoned
// deliveries.
func WithEscalator(e *escalation.Escalator) Option {
	return func(a *Agent) { a.alerts = e }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithLocation sets the zone in which the calendar day is read, normally
// the scheduler's. The clock's own zone is used when unset.
func WithLocation(loc *time.Location) Option {
	return func(a *Agent) { a.loc = loc }
}

// WithSeed makes reply selection reproducible.
func WithSeed(seed int64) Option {
	return func(a *Agent) { a.rng = rand.New(rand.NewSource(seed)) }
}

// New creates an Agent.
func New(repo store.Repository, guard *dedup.Guard, engine *sentiment.Engine, logger zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		repo:    repo,
		guard:   guard,
		engine:  engine,
		senders: map[models.Channel]Sender{},
		logger:  logger.With().Str("component", "agent").Logger(),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetSender registers the sender for a channel after construction, for
// transports that need the agent to exist first.
func (a *Agent) SetSender(ch models.Channel, s Sender) {
	a.senders[ch] = s
}

// newRand derives a generator for one dispatch; *rand.Rand is not safe for
// concurrent use.
func (a *Agent) newRand() *rand.Rand {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return rand.New(rand.NewSource(a.rng.Int63()))
}

// Handle processes one inbound event. A storage failure is returned wrapped
// in perrors.ErrStorage after the user got an apology; the event is then
// forgotten by the dedup guard so a redelivery is processed again.
func (a *Agent) Handle(ctx context.Context, ev InboundEvent) (Result, error) {
	scope := ev.Scope()
	if !scope.Valid() {
		return Result{}, perrors.Invalid("event", "instance and user are required")
	}
	if ev.Payload == nil {
		return Result{}, perrors.Invalid("event", "payload is required")
	}
	ctx, _ = requestid.Ensure(ctx)
	log := a.scopedLogger(ctx, scope)

	if a.guard != nil && a.guard.Seen(scope.InstanceID, ev.MessageID) {
		log.Debug().Str("message_id", ev.MessageID).Msg("duplicate delivery dropped")
		a.recordDuplicate("memory")
		return Result{Duplicate: true}, nil
	}

	unlock := a.locks.lock(scope)
	res, err := a.dispatch(ctx, scope, ev.Channel, ev.Payload, ev.MessageID)
	unlock()

	switch {
	case errors.Is(err, perrors.ErrDuplicate):
		log.Debug().Str("message_id", ev.MessageID).Msg("message already processed")
		a.recordDuplicate("store")
		return Result{Duplicate: true}, nil
	case errors.Is(err, perrors.ErrInvariant):
		log.Error().Err(err).Msg("dispatch failed")
		a.recordError("invariant")
		return a.apologise(ctx, Recipient{Scope: scope, Channel: ev.Channel}, res.State), nil
	case err != nil:
		log.Error().Err(err).Msg("storage failure, event will be retried")
		a.recordError("storage")
		if a.guard != nil {
			a.guard.Forget(scope.InstanceID, ev.MessageID)
		}
		a.apologise(ctx, Recipient{Scope: scope, Channel: ev.Channel}, res.State)
		return Result{}, fmt.Errorf("%w: %v", perrors.ErrStorage, err)
	}

	res.Delivered = a.deliver(ctx, Recipient{Scope: scope, Channel: ev.Channel}, res.Messages)
	return res, nil
}

// Prompt runs a scheduled check-in for scope. Scopes without a session, or
// whose state has nothing to say for kind, are left untouched.
func (a *Agent) Prompt(ctx context.Context, scope models.Scope, kind conversation.PromptKind) (Result, error) {
	ctx, _ = requestid.Ensure(ctx)
	sess, err := a.repo.GetSession(ctx, scope)
	if errors.Is(err, perrors.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", perrors.ErrStorage, err)
	}

	unlock := a.locks.lock(scope)
	res, err := a.dispatch(ctx, scope, "", conversation.Prompt{Kind: kind}, "")
	unlock()
	if err != nil {
		a.recordPrompt(kind, "failed")
		return Result{}, fmt.Errorf("failed to run %s prompt for %s: %w", kind, scope, err)
	}
	if !res.Handled {
		a.recordPrompt(kind, "skipped")
		return res, nil
	}
	res.Delivered = a.deliver(ctx, Recipient{Scope: scope, Channel: sess.Channel}, res.Messages)
	a.recordPrompt(kind, "sent")
	return res, nil
}

// dispatch runs one event through the state machine inside a transaction.
// On error the returned Result still carries the pre-read state.
func (a *Agent) dispatch(ctx context.Context, scope models.Scope, channel models.Channel, payload conversation.Payload, messageID string) (Result, error) {
	start := a.now()
	log := a.scopedLogger(ctx, scope)

	prev, err := a.repo.GetSession(ctx, scope)
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		prev = models.NewSession(scope, start)
	case err != nil:
		return Result{State: models.StateSetup}, fmt.Errorf("failed to read session: %w", err)
	}
	res := Result{State: prev.State}

	// The classifier runs before the transaction so no transaction spans
	// network I/O.
	var mood *sentiment.Result
	if t, ok := payload.(conversation.Text); ok && conversation.NeedsSentiment(prev.State, prev.Context, payload) && a.engine != nil {
		r := a.engine.Classify(ctx, t.Body)
		mood = &r
	}

	var (
		out         conversation.Output
		transitions []transition
	)
	err = a.repo.Atomic(ctx, scope, recoverInvariant(prev.State, func(ctx context.Context, tx store.Tx) error {
		if messageID != "" {
			fresh, err := tx.MarkProcessed(ctx, scope.InstanceID, messageID)
			if err != nil {
				return err
			}
			if !fresh {
				return errDuplicate
			}
		}

		sess, err := tx.GetSession(ctx, scope)
		if errors.Is(err, perrors.ErrNotFound) {
			sess = models.NewSession(scope, a.now())
		} else if err != nil {
			return err
		}

		in, err := a.input(ctx, tx, sess, payload, mood)
		if err != nil {
			return err
		}
		out = conversation.Dispatch(in)
		if !out.Handled {
			return nil
		}

		transitions = transitions[:0]
		l := ledger.New(tx, a.logger, ledger.WithClock(a.now),
			ledger.WithTransitionHook(func(_ models.Scope, from, to models.TaskStatus) {
				transitions = append(transitions, transition{from, to})
			}))
		for _, op := range out.Ops {
			if err := applyOp(ctx, l, scope, op); err != nil {
				return err
			}
		}

		_, err = tx.Commit(ctx, scope, out.Next, out.Patch, channel)
		return err
	}))
	if err != nil {
		return res, err
	}

	for _, t := range transitions {
		a.recordTransition(t)
	}
	if mood != nil && mood.Distressed() {
		a.escalate(ctx, "distress:"+scope.Key(), escalation.Escalation{
			Level:   escalation.LevelWarning,
			Title:   "User may need support",
			Message: fmt.Sprintf("Check-in classified as %s with %s support needed.", mood.EmotionalState, mood.SupportNeeded),
			Scope:   scope,
			Source:  "sentiment",
		})
	}
	outcome := "ok"
	if !out.Handled {
		outcome = "ignored"
	}
	label := string(channel)
	if label == "" {
		label = "scheduler"
	}
	a.recordDispatch(string(prev.State), outcome, label, a.now().Sub(start))
	log.Debug().
		Str("from", string(prev.State)).
		Str("to", string(out.Next)).
		Int("messages", len(out.Messages)).
		Int("ops", len(out.Ops)).
		Msg("dispatched")

	return Result{
		Handled:  out.Handled,
		State:    out.Next,
		Messages: out.Messages,
	}, nil
}

// input loads what Dispatch reads: the active list, and the whole week in
// weekly mode or for the weekly prompt.
func (a *Agent) input(ctx context.Context, tx store.Tx, sess *models.Session, payload conversation.Payload, mood *sentiment.Result) (conversation.Input, error) {
	now := a.now()
	if a.loc != nil {
		now = now.In(a.loc)
	}
	day := conversation.ActiveDay(sess.Context, now)
	list, err := tx.LoadTaskList(ctx, sess.Scope, day)
	if err != nil {
		return conversation.Input{}, err
	}
	in := conversation.Input{
		State:     sess.State,
		Context:   sess.Context,
		Payload:   payload,
		Tasks:     list,
		Day:       day,
		Sentiment: mood,
		Now:       now,
		Rand:      a.newRand(),
	}

	p, isPrompt := payload.(conversation.Prompt)
	if conversation.PlanningType(sess.Context) == conversation.PlanningWeekly || (isPrompt && p.Kind == conversation.PromptWeekly) {
		in.WeekPlan = make(map[models.Day]*models.TaskList, len(models.Weekdays))
		for _, d := range models.Weekdays {
			if d == day {
				in.WeekPlan[d] = list
				continue
			}
			wl, err := tx.LoadTaskList(ctx, sess.Scope, d)
			if err != nil {
				return conversation.Input{}, err
			}
			in.WeekPlan[d] = wl
		}
	}
	return in, nil
}

// recoverInvariant turns a panic inside a transaction into ErrInvariant so
// the transaction rolls back and the session stays where it was.
func recoverInvariant(state models.State, fn func(context.Context, store.Tx) error) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: dispatch panicked in state %s: %v", perrors.ErrInvariant, state, r)
			}
		}()
		return fn(ctx, tx)
	}
}

func applyOp(ctx context.Context, l *ledger.Ledger, scope models.Scope, op conversation.Op) error {
	switch o := op.(type) {
	case conversation.Replace:
		if _, err := l.CreateTasks(ctx, scope, o.Day, o.Descriptions); err != nil {
			return fmt.Errorf("failed to replace tasks: %w", err)
		}
	case conversation.Append:
		if _, err := l.AppendTask(ctx, scope, o.Day, o.Description); err != nil {
			return fmt.Errorf("failed to append task: %w", err)
		}
	case conversation.SetStatus:
		if !l.UpdateStatusAt(ctx, scope, o.Day, o.Generation, o.Index, o.Status) {
			return fmt.Errorf("status update of task %d on %s was not applied", o.Index, o.Day)
		}
	default:
		return fmt.Errorf("%w: unknown task op %T", perrors.ErrInvariant, op)
	}
	return nil
}

// apologise sends a generic apology without touching state. The returned
// Result carries the apology for callers without a sender.
func (a *Agent) apologise(ctx context.Context, to Recipient, state models.State) Result {
	msgs := []conversation.Message{conversation.PlainText{Body: conversation.Apology(a.newRand())}}
	res := Result{Handled: true, State: state, Messages: msgs}
	sender, ok := a.senders[to.Channel]
	if !ok {
		return res
	}
	if err := sender.Send(ctx, to, msgs); err != nil {
		log := a.scopedLogger(ctx, to.Scope)
		log.Warn().Err(err).Msg("failed to send apology")
		a.recordDelivery(to.Channel, "failed")
		return res
	}
	a.recordDelivery(to.Channel, "sent")
	res.Delivered = true
	return res
}

func (a *Agent) scopedLogger(ctx context.Context, scope models.Scope) zerolog.Logger {
	return requestid.Logger(ctx, a.logger).With().
		Str("instance_id", scope.InstanceID).
		Str("user_id", scope.UserID).
		Logger()
}

type transition struct{ from, to models.TaskStatus }

func (a *Agent) escalate(ctx context.Context, key string, e escalation.Escalation) {
	if a.alerts != nil {
		a.alerts.Escalate(ctx, key, e)
	}
}

func (a *Agent) recordDispatch(state, outcome, channel string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordDispatch(state, outcome, channel, d)
	}
}

func (a *Agent) recordDuplicate(layer string) {
	if a.metrics != nil {
		a.metrics.RecordDuplicate(layer)
	}
}

func (a *Agent) recordTransition(t transition) {
	if a.metrics != nil {
		a.metrics.RecordTransition(string(t.from), string(t.to))
	}
}

func (a *Agent) recordDelivery(ch models.Channel, result string) {
	if a.metrics != nil {
		a.metrics.RecordDelivery(string(ch), result)
	}
}

func (a *Agent) recordPrompt(kind conversation.PromptKind, result string) {
	if a.metrics != nil {
		a.metrics.RecordPrompt(string(kind), result)
	}
}

func (a *Agent) recordError(kind string) {
	if a.metrics != nil {
		a.metrics.RecordError("agent", kind)
	}
}
