// Package dispatch executes the side effects the engine decides on:
// notifications for SLA transitions, ticket mutations from rule actions, and
// escalation messages. Deliveries are retried with exponential backoff;
// exhausted deliveries are persisted for manual follow-up, never dropped.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
)

// Notifier delivers a notification to the outside world (mail, chat, webhook).
// Implementations are expected to be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, n models.Notification) error
}

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// Dispatcher applies rule actions and delivers SLA notifications. It
// implements the breach detector's Dispatcher contract.
type Dispatcher struct {
	store       repository.TicketStore
	notifier    Notifier
	logger      *log.Logger
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
	metrics     *dispatchMetrics
}

// Option applies configuration to the dispatcher.
type Option func(*Dispatcher)

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithNowFunc sets a custom time function (for testing).
func WithNowFunc(fn func() time.Time) Option {
	return func(d *Dispatcher) { d.now = fn }
}

// WithMaxAttempts bounds delivery retries per notification.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay; attempt n waits base * 2^(n-1).
func WithBackoff(base time.Duration) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.backoff = base
		}
	}
}

// NewDispatcher wires a dispatcher over the store and notifier.
func NewDispatcher(store repository.TicketStore, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		notifier:    notifier,
		logger:      log.Default(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		metrics:     globalDispatchMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchSLAEvent notifies the assignee channel about a clock transition.
func (d *Dispatcher) DispatchSLAEvent(ctx context.Context, ticket *models.Ticket, ev models.SLAEvent) error {
	n := models.Notification{
		TenantID: ev.TenantID,
		TicketID: ev.TicketID,
		Kind:     string(ev.EventType()),
		Target:   ticket.AssignedTeam,
		Message:  fmt.Sprintf("SLA %s %s for ticket #%d (%s)", ev.ClockType, ev.Kind, ev.TicketID, ticket.Title),
		At:       d.now(),
	}
	return d.deliver(ctx, ticket, n)
}

// DispatchActions applies the rule actions in firing order. Ticket field
// mutations are collapsed into one store update; later actions win on
// conflicting fields, matching the order the rule engine evaluated them in.
func (d *Dispatcher) DispatchActions(ctx context.Context, ticket *models.Ticket, actions []models.Action) error {
	var errs []error
	mutated := false

	for _, action := range actions {
		switch action.Type {
		case models.ActionSetStatus:
			if ticket.Status != action.Status {
				ticket.Status = action.Status
				mutated = true
			}
		case models.ActionSetPriority:
			if ticket.Priority != action.Priority {
				ticket.Priority = action.Priority
				mutated = true
			}
		case models.ActionReassign:
			if ticket.AssignedTeam != action.Team || ticket.AssignedAgent != action.Agent {
				ticket.AssignedTeam = action.Team
				ticket.AssignedAgent = action.Agent
				mutated = true
			}
		case models.ActionNotify:
			n := models.Notification{
				TenantID: ticket.TenantID,
				TicketID: ticket.ID,
				Kind:     string(models.ActionNotify),
				Target:   action.Target,
				Message:  action.Message,
				At:       d.now(),
			}
			if err := d.deliver(ctx, ticket, n); err != nil {
				errs = append(errs, err)
			}
		case models.ActionEscalate:
			n := models.Notification{
				TenantID: ticket.TenantID,
				TicketID: ticket.ID,
				Kind:     string(models.ActionEscalate),
				Target:   action.Target,
				Message:  fmt.Sprintf("escalation level %d: ticket #%d (%s)", action.Level, ticket.ID, ticket.Title),
				At:       d.now(),
			}
			if err := d.deliver(ctx, ticket, n); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("unknown action type %q", action.Type))
		}
	}

	if mutated {
		ticket.UpdatedAt = d.now()
		if err := d.store.UpdateTicket(ctx, ticket); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist ticket %d: %w", ticket.ID, err))
		}
	}
	return errors.Join(errs...)
}

// deliver sends one notification with bounded exponential backoff. When the
// retry budget is exhausted the payload is written to the failed-dispatch
// table so an operator can replay it.
func (d *Dispatcher) deliver(ctx context.Context, ticket *models.Ticket, n models.Notification) error {
	if d.notifier == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		d.metrics.attempts.Inc()
		lastErr = d.notifier.Send(ctx, n)
		if lastErr == nil {
			d.metrics.delivered.Inc()
			return nil
		}
		d.logger.Printf("dispatch: %s for ticket %d attempt %d/%d: %v",
			n.Kind, n.TicketID, attempt, d.maxAttempts, lastErr)
		if attempt == d.maxAttempts {
			break
		}
		if err := sleepContext(ctx, d.backoff<<(attempt-1)); err != nil {
			lastErr = err
			break
		}
	}

	d.metrics.exhausted.Inc()
	d.recordFailure(ctx, ticket, n, lastErr)
	return fmt.Errorf("failed to deliver %s for ticket %d: %w", n.Kind, n.TicketID, lastErr)
}

func (d *Dispatcher) recordFailure(ctx context.Context, ticket *models.Ticket, n models.Notification, cause error) {
	payload, err := json.Marshal(n)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", n))
	}
	fd := &models.FailedDispatch{
		TenantID:  ticket.TenantID,
		TicketID:  ticket.ID,
		Kind:      n.Kind,
		Payload:   string(payload),
		Attempts:  d.maxAttempts,
		LastError: cause.Error(),
		FailedAt:  d.now(),
	}
	if err := d.store.RecordFailedDispatch(ctx, fd); err != nil {
		d.logger.Printf("dispatch: failed to record dead letter for ticket %d: %v", ticket.ID, err)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
