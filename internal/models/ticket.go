package models

import (
	"time"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusNew               TicketStatus = "new"
	StatusOpen              TicketStatus = "open"
	StatusWaitingCustomer   TicketStatus = "waiting_customer"
	StatusWaitingThirdParty TicketStatus = "waiting_third_party"
	StatusResolved          TicketStatus = "resolved"
	StatusClosed            TicketStatus = "closed"
)

// IsWaiting reports whether the status pauses SLA clocks.
func (s TicketStatus) IsWaiting() bool {
	return s == StatusWaitingCustomer || s == StatusWaitingThirdParty
}

// IsFinal reports whether the status terminates the ticket lifecycle.
func (s TicketStatus) IsFinal() bool {
	return s == StatusResolved || s == StatusClosed
}

// TicketPriority is the priority tier used to select an SLA policy.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// Ticket is the engine's view of a ticket. The surrounding application owns
// the full record; the engine reads and mutates only the fields below.
type Ticket struct {
	ID              uint           `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	Title           string         `json:"title" db:"title"`
	Priority        TicketPriority `json:"priority" db:"priority"`
	Status          TicketStatus   `json:"status" db:"status"`
	AssignedTeam    string         `json:"assigned_team" db:"assigned_team"`
	AssignedAgent   string         `json:"assigned_agent" db:"assigned_agent"`
	SLAPolicyID     uint           `json:"sla_policy_id" db:"sla_policy_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	FirstResponseAt *time.Time     `json:"first_response_at,omitempty" db:"first_response_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	WaitUntil       *time.Time     `json:"wait_until,omitempty" db:"wait_until"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	if t.FirstResponseAt != nil {
		v := *t.FirstResponseAt
		clone.FirstResponseAt = &v
	}
	if t.ResolvedAt != nil {
		v := *t.ResolvedAt
		clone.ResolvedAt = &v
	}
	if t.WaitUntil != nil {
		v := *t.WaitUntil
		clone.WaitUntil = &v
	}
	return &clone
}

// EventType identifies a ticket or SLA lifecycle event.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventStatusChanged   EventType = "status_changed"
	EventCommented       EventType = "commented"
	EventReassigned      EventType = "reassigned"
	EventPriorityChanged EventType = "priority_changed"
	EventSLAWarning      EventType = "sla_warning"
	EventSLABreach       EventType = "sla_breach"
)

// TicketEvent is a single lifecycle event delivered to the engine. Delivery is
// at-least-once, so consumers key idempotency off Identity().
type TicketEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	TicketID  uint      `json:"ticket_id"`
	At        time.Time `json:"at"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// Identity returns the stable key used for idempotent rule firing.
// Redelivered events carry the same ID; events synthesized by automation rules
// set DedupeKey derived from the triggering event so chains dedupe the same way.
func (e TicketEvent) Identity() string {
	if e.DedupeKey != "" {
		return e.DedupeKey
	}
	return e.ID
}
