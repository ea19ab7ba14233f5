// Package repository provides the ticket store: the single source of durable
// truth for tickets, SLA clocks, automation rules and execution logs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tickline-io/tickline/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrVersionConflict is returned by UpdateClock when the stored version
	// does not match the caller's copy. The caller re-reads and retries.
	ErrVersionConflict = errors.New("repository: clock version conflict")

	// ErrDuplicateExecution is returned by AppendRuleExecution when the
	// (rule, ticket, event) tuple has already fired.
	ErrDuplicateExecution = errors.New("repository: rule execution already recorded")
)

// TicketStore is the contract the engine requires of the persistence layer.
type TicketStore interface {
	// Tickets
	GetTicket(ctx context.Context, tenantID string, id uint) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error
	ListWaitingTickets(ctx context.Context, before time.Time) ([]*models.Ticket, error)

	// SLA clocks
	CreateClock(ctx context.Context, clock *models.SLAClock) error
	GetClocks(ctx context.Context, ticketID uint) ([]*models.SLAClock, error)
	ListClocksByState(ctx context.Context, states ...models.ClockState) ([]*models.SLAClock, error)
	// UpdateClock performs a compare-and-swap on the clock's version and
	// returns ErrVersionConflict when the stored record has moved on.
	UpdateClock(ctx context.Context, clock *models.SLAClock) error

	// Policies and rules
	GetPolicy(ctx context.Context, tenantID string, id uint) (*models.SLAPolicy, error)
	FindPolicy(ctx context.Context, tenantID string, priority models.TicketPriority) (*models.SLAPolicy, error)
	ListRules(ctx context.Context, tenantID string, trigger models.EventType) ([]*models.AutomationRule, error)

	// Audit
	AppendRuleExecution(ctx context.Context, exec *models.RuleExecution) error
	RecordFailedDispatch(ctx context.Context, fd *models.FailedDispatch) error
}
