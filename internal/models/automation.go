package models

import (
	"time"
)

// ConditionOp is the closed set of predicate operators supported by
// automation rule conditions. Conditions are data, never executable code.
type ConditionOp string

const (
	OpEquals      ConditionOp = "equals"
	OpNotEquals   ConditionOp = "not_equals"
	OpIn          ConditionOp = "in"
	OpGreaterThan ConditionOp = "greater_than"
	OpLessThan    ConditionOp = "less_than"
	// OpOlderThanMinutes matches when the referenced timestamp field is older
	// than Minutes relative to evaluation time.
	OpOlderThanMinutes ConditionOp = "older_than_minutes"
)

// Condition is a single predicate over ticket/event fields. A rule's
// conditions are AND-combined in order.
type Condition struct {
	Field   string      `json:"field" yaml:"field"`
	Op      ConditionOp `json:"op" yaml:"op"`
	Value   string      `json:"value,omitempty" yaml:"value,omitempty"`
	Values  []string    `json:"values,omitempty" yaml:"values,omitempty"`
	Minutes int         `json:"minutes,omitempty" yaml:"minutes,omitempty"`
}

// ActionType is the closed set of automation action variants.
type ActionType string

const (
	ActionSetStatus   ActionType = "set_status"
	ActionSetPriority ActionType = "set_priority"
	ActionReassign    ActionType = "reassign"
	ActionNotify      ActionType = "notify"
	ActionEscalate    ActionType = "escalate"
)

// Action is one step of a rule's ordered action list.
type Action struct {
	Type     ActionType     `json:"type" yaml:"type"`
	Status   TicketStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	Priority TicketPriority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Team     string         `json:"team,omitempty" yaml:"team,omitempty"`
	Agent    string         `json:"agent,omitempty" yaml:"agent,omitempty"`
	Target   string         `json:"target,omitempty" yaml:"target,omitempty"`
	Message  string         `json:"message,omitempty" yaml:"message,omitempty"`
	Level    int            `json:"level,omitempty" yaml:"level,omitempty"`
}

// Mutates reports whether executing the action changes ticket fields and
// therefore synthesizes a follow-up event during evaluation.
func (a Action) Mutates() bool {
	switch a.Type {
	case ActionSetStatus, ActionSetPriority, ActionReassign:
		return true
	}
	return false
}

// AutomationRule is a tenant-configured trigger -> conditions -> actions
// record. Lower Priority fires first.
type AutomationRule struct {
	ID         uint        `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	Name       string      `json:"name" db:"name"`
	Trigger    EventType   `json:"trigger" db:"trigger_type"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Priority   int         `json:"priority" db:"priority"`
	Enabled    bool        `json:"enabled" db:"enabled"`
}

// RuleExecution records one firing of a rule for one ticket and triggering
// event. The (RuleID, TicketID, EventKey) tuple is unique; a second append
// with the same tuple is rejected, which makes redelivery idempotent.
type RuleExecution struct {
	RuleID   uint      `json:"rule_id" db:"rule_id"`
	TicketID uint      `json:"ticket_id" db:"ticket_id"`
	EventKey string    `json:"event_key" db:"event_key"`
	FiredAt  time.Time `json:"fired_at" db:"fired_at"`
}

// Notification is the payload handed to the external notifier.
type Notification struct {
	TenantID string    `json:"tenant_id"`
	TicketID uint      `json:"ticket_id"`
	Kind     string    `json:"kind"`
	Target   string    `json:"target,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// FailedDispatch is persisted when an action exhausts its retry budget so the
// failure can be followed up manually instead of dropped.
type FailedDispatch struct {
	ID        uint      `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	TicketID  uint      `json:"ticket_id" db:"ticket_id"`
	Kind      string    `json:"kind" db:"kind"`
	Payload   string    `json:"payload" db:"payload"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error" db:"last_error"`
	FailedAt  time.Time `json:"failed_at" db:"failed_at"`
}
