package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tickline-io/tickline/internal/models"
)

// MemoryStore is an in-memory implementation of TicketStore. It backs tests
// and single-node deployments without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	tickets     map[uint]*models.Ticket
	clocks      map[uint]*models.SLAClock
	policies    map[uint]*models.SLAPolicy
	rules       map[uint]*models.AutomationRule
	executions  map[string]*models.RuleExecution
	dispatches  []*models.FailedDispatch
	nextClockID uint
	nextFDID    uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:     make(map[uint]*models.Ticket),
		clocks:      make(map[uint]*models.SLAClock),
		policies:    make(map[uint]*models.SLAPolicy),
		rules:       make(map[uint]*models.AutomationRule),
		executions:  make(map[string]*models.RuleExecution),
		nextClockID: 1,
		nextFDID:    1,
	}
}

// PutTicket seeds or replaces a ticket record.
func (s *MemoryStore) PutTicket(ticket *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket.ID] = ticket.Clone()
}

// PutPolicy seeds an SLA policy.
func (s *MemoryStore) PutPolicy(policy *models.SLAPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *policy
	s.policies[policy.ID] = &stored
}

// PutRule seeds an automation rule.
func (s *MemoryStore) PutRule(rule *models.AutomationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rule
	s.rules[rule.ID] = &stored
}

// GetTicket returns the ticket with the given tenant and id.
func (s *MemoryStore) GetTicket(ctx context.Context, tenantID string, id uint) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok || t.TenantID != tenantID {
		return nil, fmt.Errorf("ticket %d for tenant %s: %w", id, tenantID, ErrNotFound)
	}
	return t.Clone(), nil
}

// UpdateTicket replaces the stored ticket.
func (s *MemoryStore) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticket.ID]; !ok {
		return fmt.Errorf("ticket %d: %w", ticket.ID, ErrNotFound)
	}
	s.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// ListWaitingTickets returns tickets in a waiting status whose wait deadline
// has passed.
func (s *MemoryStore) ListWaitingTickets(ctx context.Context, before time.Time) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.Status.IsWaiting() && t.WaitUntil != nil && !t.WaitUntil.After(before) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateClock stores a new clock, assigning its id and initial version.
func (s *MemoryStore) CreateClock(ctx context.Context, clock *models.SLAClock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock.ID = s.nextClockID
	s.nextClockID++
	clock.Version = 1
	s.clocks[clock.ID] = clock.Clone()
	return nil
}

// GetClocks returns all clocks for a ticket, response clock first.
func (s *MemoryStore) GetClocks(ctx context.Context, ticketID uint) ([]*models.SLAClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SLAClock
	for _, c := range s.clocks {
		if c.TicketID == ticketID {
			out = append(out, c.Clone())
		}
	}
	sortClocks(out)
	return out, nil
}

// ListClocksByState returns all clocks in any of the given states.
func (s *MemoryStore) ListClocksByState(ctx context.Context, states ...models.ClockState) ([]*models.SLAClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[models.ClockState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var out []*models.SLAClock
	for _, c := range s.clocks {
		if want[c.State] {
			out = append(out, c.Clone())
		}
	}
	sortClocks(out)
	return out, nil
}

// UpdateClock applies a compare-and-swap update keyed on Version.
func (s *MemoryStore) UpdateClock(ctx context.Context, clock *models.SLAClock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.clocks[clock.ID]
	if !ok {
		return fmt.Errorf("clock %d: %w", clock.ID, ErrNotFound)
	}
	if current.Version != clock.Version {
		return ErrVersionConflict
	}
	clock.Version++
	s.clocks[clock.ID] = clock.Clone()
	return nil
}

// GetPolicy returns the policy with the given tenant and id.
func (s *MemoryStore) GetPolicy(ctx context.Context, tenantID string, id uint) (*models.SLAPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok || p.TenantID != tenantID {
		return nil, fmt.Errorf("policy %d for tenant %s: %w", id, tenantID, ErrNotFound)
	}
	stored := *p
	return &stored, nil
}

// FindPolicy returns the tenant's policy for a priority tier.
func (s *MemoryStore) FindPolicy(ctx context.Context, tenantID string, priority models.TicketPriority) (*models.SLAPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.TenantID == tenantID && p.Priority == priority {
			stored := *p
			return &stored, nil
		}
	}
	return nil, fmt.Errorf("policy for tenant %s priority %s: %w", tenantID, priority, ErrNotFound)
}

// ListRules returns the tenant's enabled rules for a trigger, ascending priority.
func (s *MemoryStore) ListRules(ctx context.Context, tenantID string, trigger models.EventType) ([]*models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AutomationRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.Trigger == trigger && r.Enabled {
			stored := *r
			out = append(out, &stored)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendRuleExecution records a rule firing, rejecting duplicates.
func (s *MemoryStore) AppendRuleExecution(ctx context.Context, exec *models.RuleExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := executionKey(exec.RuleID, exec.TicketID, exec.EventKey)
	if _, ok := s.executions[key]; ok {
		return ErrDuplicateExecution
	}
	stored := *exec
	s.executions[key] = &stored
	return nil
}

// ExecutionCount returns the number of recorded rule firings.
func (s *MemoryStore) ExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

// RecordFailedDispatch appends a failed-dispatch record.
func (s *MemoryStore) RecordFailedDispatch(ctx context.Context, fd *models.FailedDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *fd
	stored.ID = s.nextFDID
	s.nextFDID++
	s.dispatches = append(s.dispatches, &stored)
	return nil
}

// FailedDispatches returns a copy of the failed-dispatch records.
func (s *MemoryStore) FailedDispatches() []*models.FailedDispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.FailedDispatch, len(s.dispatches))
	for i, fd := range s.dispatches {
		stored := *fd
		out[i] = &stored
	}
	return out
}

// sortClocks orders clocks by ticket, response before resolution. The breach
// detector relies on this ordering for deterministic rule evaluation.
func sortClocks(clocks []*models.SLAClock) {
	sort.Slice(clocks, func(i, j int) bool {
		if clocks[i].TicketID != clocks[j].TicketID {
			return clocks[i].TicketID < clocks[j].TicketID
		}
		return clocks[i].Type == models.ClockResponse && clocks[j].Type != models.ClockResponse
	})
}

func executionKey(ruleID, ticketID uint, eventKey string) string {
	return fmt.Sprintf("%d:%d:%s", ruleID, ticketID, eventKey)
}
