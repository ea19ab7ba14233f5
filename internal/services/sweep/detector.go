// Package sweep drives SLA clock evaluation: a periodic sweep over all live
// clocks plus inline checks after every ticket mutation, so breaches are
// never missed between ticks. Each transition is emitted exactly once.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
	"github.com/tickline-io/tickline/internal/services/calendar"
	"github.com/tickline-io/tickline/internal/services/slaclock"
)

// Evaluator is the automation rule engine contract.
type Evaluator interface {
	Evaluate(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent) ([]models.Action, error)
}

// Dispatcher executes SLA events and rule actions against external
// collaborators. Called outside the per-ticket critical section.
type Dispatcher interface {
	DispatchSLAEvent(ctx context.Context, ticket *models.Ticket, ev models.SLAEvent) error
	DispatchActions(ctx context.Context, ticket *models.Ticket, actions []models.Action) error
}

// Detector owns the sweep schedule, the per-ticket locks, and the inline
// check entry points. It holds no durable state.
type Detector struct {
	store      repository.TicketStore
	calendars  calendar.Provider
	clockMgr   *slaclock.Manager
	evaluator  Evaluator
	dispatcher Dispatcher
	cron       *cron.Cron
	interval   time.Duration
	workers    int
	locks      *ticketLocks
	logger     *log.Logger
	now        func() time.Time
	metrics    *sweepMetrics
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewDetector wires a breach detector over the store and calendar provider.
func NewDetector(store repository.TicketStore, calendars calendar.Provider, clockMgr *slaclock.Manager, opts ...Option) *Detector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := o.Cron
	if c == nil {
		c = cron.New(cron.WithLocation(time.UTC))
	}
	return &Detector{
		store:      store,
		calendars:  calendars,
		clockMgr:   clockMgr,
		evaluator:  o.Evaluator,
		dispatcher: o.Dispatcher,
		cron:       c,
		interval:   o.Interval,
		workers:    o.Workers,
		locks:      newTicketLocks(),
		logger:     o.Logger,
		now:        o.Now,
		metrics:    globalSweepMetrics(),
	}
}

// Run starts the periodic sweep until the context is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	var schedErr error
	d.startOnce.Do(func() {
		spec := fmt.Sprintf("@every %s", d.interval)
		_, schedErr = d.cron.AddFunc(spec, func() {
			if err := d.Sweep(ctx); err != nil {
				d.logger.Printf("sweep: %v", err)
			}
		})
		if schedErr != nil {
			return
		}
		d.cron.Start()
	})
	if schedErr != nil {
		return fmt.Errorf("failed to schedule sweep: %w", schedErr)
	}

	<-ctx.Done()
	d.stopOnce.Do(func() {
		stopCtx := d.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			d.logger.Printf("sweep: timed out waiting for in-flight ticks")
		}
	})
	return nil
}

// Sweep evaluates every live clock once. Tickets already being evaluated
// inline are skipped, not queued behind; the next tick picks them up.
// Per-ticket failures are isolated so one malformed ticket cannot abort the
// batch.
func (d *Detector) Sweep(ctx context.Context) error {
	started := d.now()
	defer func() {
		d.metrics.sweepDuration.Observe(d.now().Sub(started).Seconds())
	}()

	d.resumeExpiredWaits(ctx)

	clocks, err := d.store.ListClocksByState(ctx, models.ClockRunning, models.ClockWarned)
	if err != nil {
		return fmt.Errorf("failed to list live clocks: %w", err)
	}
	groups := groupByTicket(clocks)

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group []*models.SLAClock) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			d.sweepTicket(ctx, group, false)
		}(group)
	}
	wg.Wait()
	return nil
}

// CheckAllTickets re-evaluates every live clock, waiting for in-flight
// tickets instead of skipping them. Used after bulk policy or calendar
// changes.
func (d *Detector) CheckAllTickets(ctx context.Context) error {
	clocks, err := d.store.ListClocksByState(ctx, models.ClockRunning, models.ClockWarned)
	if err != nil {
		return err
	}
	for _, group := range groupByTicket(clocks) {
		d.sweepTicket(ctx, group, true)
	}
	return nil
}

func (d *Detector) sweepTicket(ctx context.Context, clocks []*models.SLAClock, wait bool) {
	if len(clocks) == 0 {
		return
	}
	ticketID := clocks[0].TicketID
	tenantID := clocks[0].TenantID

	var unlock func()
	if wait {
		unlock = d.locks.Lock(ticketID)
	} else {
		var ok bool
		unlock, ok = d.locks.TryLock(ticketID)
		if !ok {
			d.metrics.skippedBusy.Inc()
			return
		}
	}

	ticket, events, actions, err := d.evaluateLocked(ctx, tenantID, ticketID)
	unlock()
	if err != nil {
		d.metrics.ticketErrors.Inc()
		d.logger.Printf("sweep: ticket %d: %v", ticketID, err)
		return
	}
	d.dispatch(ctx, ticket, events, actions)
}

// ProcessTicketEvent is the entry point for the at-least-once event source.
// It applies the lifecycle event to the ticket's clocks, runs the inline
// breach check and rule evaluation under the per-ticket lock, then hands
// results to the dispatcher outside the critical section.
func (d *Detector) ProcessTicketEvent(ctx context.Context, ev models.TicketEvent) error {
	// Calendar resolution may block on the provider; do it before taking
	// the ticket lock.
	biz, err := d.calendars.Calendar(ctx, ev.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve calendar for tenant %s: %w", ev.TenantID, err)
	}

	unlock := d.locks.Lock(ev.TicketID)
	ticket, events, actions, err := d.processLocked(ctx, ev, biz)
	unlock()
	if err != nil {
		return err
	}

	d.dispatch(ctx, ticket, events, actions)
	return nil
}

// CheckTicket runs an inline breach check for one ticket, synchronously
// after a mutation that could affect a clock.
func (d *Detector) CheckTicket(ctx context.Context, tenantID string, ticketID uint) error {
	unlock := d.locks.Lock(ticketID)
	ticket, events, actions, err := d.evaluateLocked(ctx, tenantID, ticketID)
	unlock()
	if err != nil {
		return err
	}
	d.dispatch(ctx, ticket, events, actions)
	return nil
}

func (d *Detector) processLocked(ctx context.Context, ev models.TicketEvent, biz *calendar.Business) (*models.Ticket, []models.SLAEvent, []models.Action, error) {
	ticket, err := d.store.GetTicket(ctx, ev.TenantID, ev.TicketID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := d.clockMgr.ApplyEvent(ctx, ticket, ev, biz); err != nil {
		return nil, nil, nil, err
	}

	events, err := d.checkClocks(ctx, ticket)
	if err != nil {
		return nil, nil, nil, err
	}

	actions := d.evaluateRules(ctx, ticket, ev)
	actions = append(actions, d.evaluateSLAEvents(ctx, ticket, events)...)
	return ticket, events, actions, nil
}

func (d *Detector) evaluateLocked(ctx context.Context, tenantID string, ticketID uint) (*models.Ticket, []models.SLAEvent, []models.Action, error) {
	ticket, err := d.store.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, nil, nil, err
	}
	events, err := d.checkClocks(ctx, ticket)
	if err != nil {
		return nil, nil, nil, err
	}
	actions := d.evaluateSLAEvents(ctx, ticket, events)
	return ticket, events, actions, nil
}

// checkClocks evaluates the ticket's live clocks, response before resolution,
// persisting each transition with compare-and-swap. One SLAEvent per
// transition; redundant checks yield nothing because the result is derived
// from stored state.
func (d *Detector) checkClocks(ctx context.Context, ticket *models.Ticket) ([]models.SLAEvent, error) {
	clocks, err := d.store.GetClocks(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	var events []models.SLAEvent
	for _, clock := range clocks {
		if !clock.State.Active() {
			continue
		}
		d.metrics.clocksChecked.Inc()

		policy, err := d.store.GetPolicy(ctx, clock.TenantID, clock.PolicyID)
		if err != nil {
			return events, fmt.Errorf("failed to load policy %d: %w", clock.PolicyID, err)
		}

		result := slaclock.CheckBreach(clock, policy, now)
		if result == slaclock.NoChange {
			continue
		}
		if err := d.storeTransition(ctx, clock, policy, now, &result); err != nil {
			return events, err
		}
		if result == slaclock.NoChange {
			continue // lost the race to a concurrent writer
		}

		kind := models.SLAWarning
		if result == slaclock.Breached {
			d.metrics.breaches.Inc()
			kind = models.SLABreach
		} else {
			d.metrics.warnings.Inc()
		}
		events = append(events, models.SLAEvent{
			TenantID:  clock.TenantID,
			TicketID:  clock.TicketID,
			ClockType: clock.Type,
			Kind:      kind,
			At:        now,
		})
	}
	return events, nil
}

// storeTransition persists a clock transition. A version conflict means
// another writer moved the clock first; re-read and re-derive so the event
// is still emitted at most once.
func (d *Detector) storeTransition(ctx context.Context, clock *models.SLAClock, policy *models.SLAPolicy, now time.Time, result *slaclock.BreachResult) error {
	err := d.store.UpdateClock(ctx, clock)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrVersionConflict) {
		return fmt.Errorf("failed to persist clock %d transition: %w", clock.ID, err)
	}

	fresh, err := d.store.GetClocks(ctx, clock.TicketID)
	if err != nil {
		return err
	}
	for _, c := range fresh {
		if c.ID != clock.ID {
			continue
		}
		*clock = *c
		*result = slaclock.CheckBreach(clock, policy, now)
		if *result == slaclock.NoChange {
			return nil
		}
		return d.store.UpdateClock(ctx, clock)
	}
	return fmt.Errorf("clock %d: %w", clock.ID, repository.ErrNotFound)
}

func (d *Detector) evaluateRules(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent) []models.Action {
	if d.evaluator == nil {
		return nil
	}
	actions, err := d.evaluator.Evaluate(ctx, ticket, ev)
	if err != nil {
		// Loop detection and rule failures abort the remaining chain but
		// never the caller; collected actions still execute.
		d.logger.Printf("sweep: rule evaluation for ticket %d event %s: %v", ticket.ID, ev.Type, err)
	}
	return actions
}

// evaluateSLAEvents feeds SLA transitions back through the rule engine.
// Event identity is derived from the clock transition, which happens at most
// once, so redelivered evaluations dedupe in the execution log.
func (d *Detector) evaluateSLAEvents(ctx context.Context, ticket *models.Ticket, events []models.SLAEvent) []models.Action {
	var actions []models.Action
	for _, slaEv := range events {
		ev := models.TicketEvent{
			ID:       fmt.Sprintf("sla:%d:%s:%s", slaEv.TicketID, slaEv.ClockType, slaEv.Kind),
			Type:     slaEv.EventType(),
			TenantID: slaEv.TenantID,
			TicketID: slaEv.TicketID,
			At:       slaEv.At,
			NewValue: string(slaEv.ClockType),
		}
		actions = append(actions, d.evaluateRules(ctx, ticket, ev)...)
	}
	return actions
}

func (d *Detector) dispatch(ctx context.Context, ticket *models.Ticket, events []models.SLAEvent, actions []models.Action) {
	if d.dispatcher == nil || ticket == nil {
		return
	}
	for _, ev := range events {
		if err := d.dispatcher.DispatchSLAEvent(ctx, ticket, ev); err != nil {
			d.logger.Printf("sweep: dispatch of %s/%s for ticket %d: %v", ev.ClockType, ev.Kind, ev.TicketID, err)
		}
	}
	if len(actions) > 0 {
		if err := d.dispatcher.DispatchActions(ctx, ticket, actions); err != nil {
			d.logger.Printf("sweep: action dispatch for ticket %d: %v", ticket.ID, err)
		}
	}
}

// resumeExpiredWaits moves tickets whose wait deadline has passed back to
// open, which resumes their paused clocks through the normal event path.
func (d *Detector) resumeExpiredWaits(ctx context.Context) {
	now := d.now().UTC()
	tickets, err := d.store.ListWaitingTickets(ctx, now)
	if err != nil {
		d.logger.Printf("sweep: failed to list waiting tickets: %v", err)
		return
	}

	for _, t := range tickets {
		ev := models.TicketEvent{
			ID:       fmt.Sprintf("autoresume:%d:%d", t.ID, t.WaitUntil.Unix()),
			Type:     models.EventStatusChanged,
			TenantID: t.TenantID,
			TicketID: t.ID,
			At:       now,
			OldValue: string(t.Status),
			NewValue: string(models.StatusOpen),
		}

		unlock := d.locks.Lock(t.ID)
		fresh, err := d.store.GetTicket(ctx, t.TenantID, t.ID)
		if err == nil && fresh.Status.IsWaiting() {
			fresh.Status = models.StatusOpen
			fresh.WaitUntil = nil
			fresh.UpdatedAt = now
			err = d.store.UpdateTicket(ctx, fresh)
		}
		unlock()
		if err != nil {
			d.logger.Printf("sweep: failed to auto-resume ticket %d: %v", t.ID, err)
			continue
		}

		if err := d.ProcessTicketEvent(ctx, ev); err != nil {
			d.logger.Printf("sweep: failed to process auto-resume for ticket %d: %v", t.ID, err)
		}
	}
}

func groupByTicket(clocks []*models.SLAClock) [][]*models.SLAClock {
	var groups [][]*models.SLAClock
	for _, c := range clocks {
		n := len(groups)
		if n > 0 && groups[n-1][0].TicketID == c.TicketID {
			groups[n-1] = append(groups[n-1], c)
			continue
		}
		groups = append(groups, []*models.SLAClock{c})
	}
	return groups
}
