// Package slaclock implements the per-ticket SLA timer state machine.
// Operations are pure transitions over models.SLAClock; persistence and
// event emission belong to the caller.
package slaclock

import (
	"errors"
	"fmt"
	"time"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/services/calendar"
)

// ErrInvalidState is returned when a transition is requested out of sequence.
// Such calls are caller bugs or stale reads and are never retried.
var ErrInvalidState = errors.New("slaclock: invalid state for operation")

// InvalidStateError carries the rejected operation and the clock's state.
type InvalidStateError struct {
	Op    string
	State models.ClockState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("slaclock: cannot %s clock in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Start creates a running clock for the ticket under the given policy.
// With business_hours_only policies the deadline is computed in business
// time; otherwise it is a plain wall-clock offset.
func Start(ticket *models.Ticket, policy *models.SLAPolicy, ct models.ClockType, biz *calendar.Business, now time.Time) *models.SLAClock {
	target := time.Duration(policy.TargetMinutes(ct)) * time.Minute
	var targetAt time.Time
	if policy.BusinessHoursOnly && biz != nil {
		targetAt = biz.AddBusinessDuration(now, target)
	} else {
		targetAt = now.Add(target).UTC()
	}
	return &models.SLAClock{
		TicketID:  ticket.ID,
		TenantID:  ticket.TenantID,
		PolicyID:  policy.ID,
		Type:      ct,
		State:     models.ClockRunning,
		StartedAt: now.UTC(),
		TargetAt:  targetAt,
	}
}

// Pause suspends a running or warned clock.
func Pause(clock *models.SLAClock, at time.Time) error {
	if clock.State == models.ClockPaused {
		return &InvalidStateError{Op: "pause", State: clock.State}
	}
	if !clock.State.Active() {
		return &InvalidStateError{Op: "pause", State: clock.State}
	}
	t := at.UTC()
	clock.PausedSince = &t
	clock.State = models.ClockPaused
	return nil
}

// Resume reactivates a paused clock. The pause length is measured in
// business time for business_hours_only policies and the deadline is shifted
// forward by exactly that amount, so elapsed business time stays correct. A
// pause spanning only non-working time therefore leaves target_at unchanged.
// A nil policy (record deleted since the clock was created) degrades to
// wall-clock accounting.
func Resume(clock *models.SLAClock, policy *models.SLAPolicy, biz *calendar.Business, at time.Time) error {
	if clock.State != models.ClockPaused || clock.PausedSince == nil {
		return &InvalidStateError{Op: "resume", State: clock.State}
	}

	var pausedFor time.Duration
	if policy != nil && policy.BusinessHoursOnly && biz != nil {
		pausedFor = biz.BusinessDuration(*clock.PausedSince, at)
		clock.TargetAt = biz.AddBusinessDuration(clock.TargetAt, pausedFor)
	} else {
		pausedFor = at.Sub(*clock.PausedSince)
		if pausedFor < 0 {
			pausedFor = 0
		}
		clock.TargetAt = clock.TargetAt.Add(pausedFor)
	}
	clock.AccumulatedPause += pausedFor
	clock.PausedSince = nil

	// A clock that had already warned before the pause stays warned, so the
	// warning is not emitted a second time.
	if clock.WarnedAt != nil {
		clock.State = models.ClockWarned
	} else {
		clock.State = models.ClockRunning
	}
	return nil
}

// Complete marks the commitment met if the clock is still live and the
// qualifying response/resolution happened on time. A breached clock is never
// overwritten: breach is a one-way transition. Completing after the deadline
// leaves the clock live for the breach detector to flag.
func Complete(clock *models.SLAClock, at time.Time) error {
	switch clock.State {
	case models.ClockBreached, models.ClockMet:
		return nil
	case models.ClockPaused:
		return &InvalidStateError{Op: "complete", State: clock.State}
	}
	if !at.After(clock.TargetAt) {
		clock.State = models.ClockMet
	}
	return nil
}

// BreachResult is the outcome of a CheckBreach evaluation.
type BreachResult int

const (
	NoChange BreachResult = iota
	Warned
	Breached
)

// CheckBreach evaluates the clock against the current time. Transitions are
// derived from stored state, not recomputed from timestamps, so each result
// is returned exactly once no matter how often the check runs.
func CheckBreach(clock *models.SLAClock, policy *models.SLAPolicy, now time.Time) BreachResult {
	switch clock.State {
	case models.ClockRunning:
		if now.After(clock.TargetAt) {
			clock.State = models.ClockBreached
			return Breached
		}
		lead := policy.WarningLead(clock.Type)
		if lead > 0 && !now.Before(clock.TargetAt.Add(-lead)) {
			t := now.UTC()
			clock.State = models.ClockWarned
			clock.WarnedAt = &t
			return Warned
		}
	case models.ClockWarned:
		if now.After(clock.TargetAt) {
			clock.State = models.ClockBreached
			return Breached
		}
	}
	return NoChange
}
