package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/escalation"
	"github.com/p-blackswan/checkin-agent/internal/retry"
	"github.com/p-blackswan/checkin-agent/internal/store"
)

// MaxRedeliveries is how many times a dead letter is retried before the
// agent gives up on it.
const MaxRedeliveries = 5

// redeliveryBackoff spaces out redelivery attempts of one dead letter.
var redeliveryBackoff = retry.Config{
	BaseDelay: time.Minute,
	MaxDelay:  time.Hour,
	Jitter:    true,
}

// deliver sends msgs after commit. A failed send is dead-lettered; the
// committed state is never rolled back for it.
func (a *Agent) deliver(ctx context.Context, to Recipient, msgs []conversation.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	sender, ok := a.senders[to.Channel]
	if !ok {
		return false
	}
	log := a.scopedLogger(ctx, to.Scope)

	err := sender.Send(ctx, to, msgs)
	if err == nil {
		a.recordDelivery(to.Channel, "sent")
		return true
	}
	a.recordDelivery(to.Channel, "failed")
	log.Warn().Err(err).Str("channel", string(to.Channel)).Msg("delivery failed, dead-lettering")

	payload, encErr := encodeMessages(msgs)
	if encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode dead letter")
		return false
	}
	dl := &store.DeadLetter{
		Scope:   to.Scope,
		Channel: to.Channel,
		Payload: payload,
		Error:   err.Error(),
	}
	// The request context may already be cancelled; the dead letter must
	// still be written.
	if err := a.repo.SaveDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		log.Error().Err(err).Msg("failed to save dead letter")
		a.recordError("dead_letter")
	}
	return false
}

// Redeliver retries up to limit due dead letters and reports how many were
// delivered.
func (a *Agent) Redeliver(ctx context.Context, limit int) (int, error) {
	letters, err := a.repo.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letters: %w", err)
	}

	delivered := 0
	for _, dl := range letters {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		log := a.scopedLogger(ctx, dl.Scope).With().Str("dead_letter", dl.ID).Logger()

		sendErr := a.redeliverOne(ctx, dl)
		if sendErr == nil {
			if err := a.repo.ResolveDeadLetter(ctx, dl.ID); err != nil {
				return delivered, fmt.Errorf("failed to resolve dead letter %s: %w", dl.ID, err)
			}
			a.recordDelivery(dl.Channel, "redelivered")
			delivered++
			continue
		}

		var next time.Time
		if dl.RetryCount+1 < MaxRedeliveries {
			next = a.now().Add(retry.Backoff(redeliveryBackoff, dl.RetryCount))
		} else {
			log.Error().Err(sendErr).Int("attempts", dl.RetryCount+1).Msg("giving up on dead letter")
			a.recordDelivery(dl.Channel, "abandoned")
			a.escalate(ctx, "undeliverable:"+dl.ID, escalation.Escalation{
				Level:   escalation.LevelCritical,
				Title:   "Message undeliverable",
				Message: fmt.Sprintf("Gave up on a %s delivery after %d attempts.", dl.Channel, dl.RetryCount+1),
				Scope:   dl.Scope,
				Source:  "redelivery",
				Err:     sendErr,
			})
		}
		if err := a.repo.IncrementRetry(ctx, dl.ID, next, sendErr.Error()); err != nil {
			return delivered, fmt.Errorf("failed to record retry of %s: %w", dl.ID, err)
		}
		log.Debug().Err(sendErr).Time("next_retry_at", next).Msg("redelivery failed")
	}
	return delivered, nil
}

func (a *Agent) redeliverOne(ctx context.Context, dl *store.DeadLetter) error {
	sender, ok := a.senders[dl.Channel]
	if !ok {
		return fmt.Errorf("no sender for channel %q", dl.Channel)
	}
	msgs, err := decodeMessages(dl.Payload)
	if err != nil {
		return err
	}
	return sender.Send(ctx, Recipient{Scope: dl.Scope, Channel: dl.Channel}, msgs)
}
