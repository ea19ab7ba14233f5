package models

import (
	"time"
)

// ClockType distinguishes the two SLA commitments tracked per ticket.
type ClockType string

const (
	ClockResponse   ClockType = "response"
	ClockResolution ClockType = "resolution"
)

// ClockState is the state of an SLA clock. Breached is terminal.
type ClockState string

const (
	ClockRunning  ClockState = "running"
	ClockPaused   ClockState = "paused"
	ClockWarned   ClockState = "warned"
	ClockMet      ClockState = "met"
	ClockBreached ClockState = "breached"
)

// Active reports whether the clock still needs breach evaluation.
func (s ClockState) Active() bool {
	return s == ClockRunning || s == ClockWarned
}

// Terminal reports whether the clock has reached a final state.
func (s ClockState) Terminal() bool {
	return s == ClockMet || s == ClockBreached
}

// SLAPolicy defines the service commitments for one priority tier of a tenant.
type SLAPolicy struct {
	ID                      uint           `json:"id" db:"id"`
	TenantID                string         `json:"tenant_id" db:"tenant_id"`
	Name                    string         `json:"name" db:"name"`
	Priority                TicketPriority `json:"priority" db:"priority"`
	ResponseTargetMinutes   int            `json:"response_target_minutes" db:"response_target_minutes"`
	ResolutionTargetMinutes int            `json:"resolution_target_minutes" db:"resolution_target_minutes"`
	BusinessHoursOnly       bool           `json:"business_hours_only" db:"business_hours_only"`
	WarningLeadMinutes      int            `json:"warning_lead_minutes" db:"warning_lead_minutes"`
}

// TargetMinutes returns the target for the given clock type.
func (p *SLAPolicy) TargetMinutes(ct ClockType) int {
	if ct == ClockResponse {
		return p.ResponseTargetMinutes
	}
	return p.ResolutionTargetMinutes
}

// WarningLead returns the configured lead time before the deadline at which a
// warning fires. A policy without an explicit lead defaults to 20% of the
// target duration.
func (p *SLAPolicy) WarningLead(ct ClockType) time.Duration {
	if p.WarningLeadMinutes > 0 {
		return time.Duration(p.WarningLeadMinutes) * time.Minute
	}
	return time.Duration(p.TargetMinutes(ct)) * time.Minute / 5
}

// SLAClock is a per-ticket, per-commitment timer. Version supports
// compare-and-swap updates in the ticket store.
type SLAClock struct {
	ID               uint          `json:"id" db:"id"`
	TicketID         uint          `json:"ticket_id" db:"ticket_id"`
	TenantID         string        `json:"tenant_id" db:"tenant_id"`
	PolicyID         uint          `json:"policy_id" db:"policy_id"`
	Type             ClockType     `json:"clock_type" db:"clock_type"`
	State            ClockState    `json:"state" db:"state"`
	StartedAt        time.Time     `json:"started_at" db:"started_at"`
	TargetAt         time.Time     `json:"target_at" db:"target_at"`
	PausedSince      *time.Time    `json:"paused_since,omitempty" db:"paused_since"`
	AccumulatedPause time.Duration `json:"accumulated_pause" db:"accumulated_pause"`
	WarnedAt         *time.Time    `json:"warned_at,omitempty" db:"warned_at"`
	Version          int           `json:"version" db:"version"`
}

// Clone returns a deep copy of the clock.
func (c *SLAClock) Clone() *SLAClock {
	if c == nil {
		return nil
	}
	clone := *c
	if c.PausedSince != nil {
		v := *c.PausedSince
		clone.PausedSince = &v
	}
	if c.WarnedAt != nil {
		v := *c.WarnedAt
		clone.WarnedAt = &v
	}
	return &clone
}

// SLAEventKind classifies an SLA transition.
type SLAEventKind string

const (
	SLAWarning SLAEventKind = "warning"
	SLABreach  SLAEventKind = "breach"
	SLAMet     SLAEventKind = "met"
)

// SLAEvent is emitted exactly once per clock transition by the breach detector.
type SLAEvent struct {
	TenantID  string       `json:"tenant_id"`
	TicketID  uint         `json:"ticket_id"`
	ClockType ClockType    `json:"clock_type"`
	Kind      SLAEventKind `json:"kind"`
	At        time.Time    `json:"at"`
}

// EventType maps the SLA transition to the automation trigger it raises.
func (e SLAEvent) EventType() EventType {
	if e.Kind == SLABreach {
		return EventSLABreach
	}
	return EventSLAWarning
}
