package slaclock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
	"github.com/tickline-io/tickline/internal/services/calendar"
)

// Manager applies ticket lifecycle events to the ticket's SLA clocks. The
// caller is responsible for per-ticket serialization; the manager itself is
// stateless between invocations.
type Manager struct {
	store  repository.TicketStore
	logger *log.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets a custom logger.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerNowFunc sets a custom time function (for testing).
func WithManagerNowFunc(fn func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = fn }
}

// NewManager creates a clock manager over the given store.
func NewManager(store repository.TicketStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyEvent updates the ticket's clocks for one lifecycle event. Events are
// delivered at least once, so every branch checks current state before
// transitioning and redelivery is a no-op.
func (m *Manager) ApplyEvent(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent, biz *calendar.Business) error {
	switch ev.Type {
	case models.EventTicketCreated:
		return m.ensureClocks(ctx, ticket, biz, ev.At)
	case models.EventStatusChanged:
		return m.applyStatusChange(ctx, ticket, ev, biz)
	case models.EventCommented:
		return m.applyComment(ctx, ticket, ev, biz)
	}
	return nil
}

// ensureClocks creates the response and resolution clocks if missing. A
// tenant without a matching policy is a configuration gap, logged and
// skipped rather than failed.
func (m *Manager) ensureClocks(ctx context.Context, ticket *models.Ticket, biz *calendar.Business, at time.Time) error {
	policy, err := m.resolvePolicy(ctx, ticket)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.logger.Printf("slaclock: no policy for tenant %s priority %s, ticket %d gets no SLA clocks",
				ticket.TenantID, ticket.Priority, ticket.ID)
			return nil
		}
		return err
	}
	if ticket.SLAPolicyID == 0 {
		ticket.SLAPolicyID = policy.ID
		ticket.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("failed to assign policy to ticket %d: %w", ticket.ID, err)
		}
	}

	existing, err := m.store.GetClocks(ctx, ticket.ID)
	if err != nil {
		return err
	}
	have := make(map[models.ClockType]bool, len(existing))
	for _, c := range existing {
		have[c.Type] = true
	}

	for _, ct := range []models.ClockType{models.ClockResponse, models.ClockResolution} {
		if have[ct] || policy.TargetMinutes(ct) <= 0 {
			continue
		}
		clock := Start(ticket, policy, ct, biz, at)
		if err := m.store.CreateClock(ctx, clock); err != nil {
			return fmt.Errorf("failed to create %s clock for ticket %d: %w", ct, ticket.ID, err)
		}
	}
	return nil
}

func (m *Manager) resolvePolicy(ctx context.Context, ticket *models.Ticket) (*models.SLAPolicy, error) {
	if ticket.SLAPolicyID != 0 {
		return m.store.GetPolicy(ctx, ticket.TenantID, ticket.SLAPolicyID)
	}
	return m.store.FindPolicy(ctx, ticket.TenantID, ticket.Priority)
}

func (m *Manager) applyStatusChange(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent, biz *calendar.Business) error {
	oldStatus := models.TicketStatus(ev.OldValue)
	newStatus := models.TicketStatus(ev.NewValue)

	clocks, err := m.store.GetClocks(ctx, ticket.ID)
	if err != nil {
		return err
	}
	policy, err := m.resolvePolicy(ctx, ticket)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if policy == nil && len(clocks) > 0 {
		m.logger.Printf("slaclock: policy %d for ticket %d is gone, pause credit uses wall-clock time",
			ticket.SLAPolicyID, ticket.ID)
	}

	for _, clock := range clocks {
		switch {
		case newStatus.IsWaiting() && clock.State.Active():
			err = m.mutate(ctx, clock, func(c *models.SLAClock) error {
				return Pause(c, ev.At)
			})
		case oldStatus.IsWaiting() && !newStatus.IsWaiting() && clock.State == models.ClockPaused:
			err = m.mutate(ctx, clock, func(c *models.SLAClock) error {
				return Resume(c, policy, biz, ev.At)
			})
		}
		if err != nil {
			return fmt.Errorf("failed to transition %s clock for ticket %d: %w", clock.Type, clock.ID, err)
		}
	}

	if newStatus == models.StatusResolved {
		return m.applyResolution(ctx, ticket, ev, policy, biz)
	}
	return nil
}

// applyResolution completes the resolution clock. A clock still paused at
// resolution time (ticket resolved straight out of a waiting status) is
// resumed first so the pause credit lands before completion.
func (m *Manager) applyResolution(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent, policy *models.SLAPolicy, biz *calendar.Business) error {
	if ticket.ResolvedAt == nil {
		t := ev.At.UTC()
		ticket.ResolvedAt = &t
		ticket.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
	}

	clocks, err := m.store.GetClocks(ctx, ticket.ID)
	if err != nil {
		return err
	}
	for _, clock := range clocks {
		if clock.Type != models.ClockResolution || clock.State.Terminal() {
			continue
		}
		err := m.mutate(ctx, clock, func(c *models.SLAClock) error {
			if c.State == models.ClockPaused {
				if rerr := Resume(c, policy, biz, ev.At); rerr != nil {
					return rerr
				}
			}
			return Complete(c, ev.At)
		})
		if err != nil {
			return fmt.Errorf("failed to complete resolution clock for ticket %d: %w", ticket.ID, err)
		}
	}
	return nil
}

// applyComment completes the response clock on the first agent reply.
// Customer comments never satisfy the response commitment. A clock still
// paused when the reply lands is resumed first so the pause credit shifts the
// deadline before the completion check.
func (m *Manager) applyComment(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent, biz *calendar.Business) error {
	if ev.NewValue != "agent" {
		return nil
	}
	if ticket.FirstResponseAt == nil {
		t := ev.At.UTC()
		ticket.FirstResponseAt = &t
		ticket.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
	}

	clocks, err := m.store.GetClocks(ctx, ticket.ID)
	if err != nil {
		return err
	}
	policy, err := m.resolvePolicy(ctx, ticket)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	for _, clock := range clocks {
		if clock.Type != models.ClockResponse || clock.State.Terminal() {
			continue
		}
		err := m.mutate(ctx, clock, func(c *models.SLAClock) error {
			if c.State == models.ClockPaused {
				if rerr := Resume(c, policy, biz, ev.At); rerr != nil {
					return rerr
				}
			}
			return Complete(c, ev.At)
		})
		if err != nil {
			return fmt.Errorf("failed to complete response clock for ticket %d: %w", ticket.ID, err)
		}
	}
	return nil
}

// mutate applies fn to the clock and writes it back with compare-and-swap.
// One retry on version conflict covers a racing sweep write; the per-ticket
// lock held by the caller makes further conflicts impossible.
func (m *Manager) mutate(ctx context.Context, clock *models.SLAClock, fn func(*models.SLAClock) error) error {
	work := clock.Clone()
	if err := fn(work); err != nil {
		return err
	}
	err := m.store.UpdateClock(ctx, work)
	if !errors.Is(err, repository.ErrVersionConflict) {
		if err == nil {
			*clock = *work
		}
		return err
	}

	fresh, err := m.freshClock(ctx, clock)
	if err != nil {
		return err
	}
	if err := fn(fresh); err != nil {
		return err
	}
	if err := m.store.UpdateClock(ctx, fresh); err != nil {
		return err
	}
	*clock = *fresh
	return nil
}

func (m *Manager) freshClock(ctx context.Context, clock *models.SLAClock) (*models.SLAClock, error) {
	clocks, err := m.store.GetClocks(ctx, clock.TicketID)
	if err != nil {
		return nil, err
	}
	for _, c := range clocks {
		if c.ID == clock.ID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("clock %d: %w", clock.ID, repository.ErrNotFound)
}
