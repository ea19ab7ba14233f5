// Package automation evaluates tenant-configured rules against ticket events
// and produces the ordered list of actions to dispatch. Rules are data
// (trigger, conditions, actions); the engine never executes tenant code.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
)

// ErrAutomationLoop marks an aborted rule chain. Use errors.Is to detect it
// and errors.As with *LoopError to inspect the offending rule sequence.
var ErrAutomationLoop = errors.New("automation: rule chain exceeded depth cap")

// LoopError carries the chain of rule ids that fed back into each other until
// the depth cap was hit.
type LoopError struct {
	TicketID uint
	Depth    int
	RuleIDs  []uint
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("automation: ticket %d rule chain %v exceeded depth %d", e.TicketID, e.RuleIDs, e.Depth)
}

func (e *LoopError) Unwrap() error { return ErrAutomationLoop }

const defaultDepthCap = 5

// Engine is the automation rule evaluator. It implements the breach
// detector's Evaluator contract.
type Engine struct {
	store    repository.TicketStore
	logger   *log.Logger
	now      func() time.Time
	depthCap int
}

// Option applies configuration to the engine.
type Option func(*Engine)

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNowFunc sets a custom time function (for testing).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithDepthCap overrides the synthetic-event recursion limit.
func WithDepthCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.depthCap = n
		}
	}
}

// NewEngine creates a rule engine backed by the given store.
func NewEngine(store repository.TicketStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   log.Default(),
		now:      time.Now,
		depthCap: defaultDepthCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// queuedEvent is one pending evaluation in a rule chain. Depth 0 is the
// externally delivered event; each synthesized event inherits depth+1.
type queuedEvent struct {
	ev    models.TicketEvent
	depth int
}

// Evaluate runs every enabled rule matching the event's trigger, in ascending
// priority order, against a working copy of the ticket. Mutating actions are
// applied to the working copy and synthesize follow-up events that are fed
// back through evaluation with a bounded depth counter.
//
// Firing is idempotent: each (rule, ticket, event identity) tuple is recorded
// in the execution log before its actions are collected, and a duplicate
// tuple skips the rule. Redelivering an event therefore yields no new actions.
//
// The returned actions are in firing order and are not yet applied to the
// store; the dispatcher owns side effects. When the depth cap is exceeded the
// actions collected so far are returned together with a *LoopError.
func (e *Engine) Evaluate(ctx context.Context, ticket *models.Ticket, ev models.TicketEvent) ([]models.Action, error) {
	work := ticket.Clone()
	queue := []queuedEvent{{ev: ev, depth: 0}}

	var actions []models.Action
	var chain []uint
	// field -> rule that last set it, for override audit within one evaluation
	setBy := make(map[string]*models.AutomationRule)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		rules, err := e.store.ListRules(ctx, work.TenantID, item.ev.Type)
		if err != nil {
			return actions, fmt.Errorf("list rules for %s: %w", item.ev.Type, err)
		}

		for _, rule := range rules {
			if !rule.Enabled {
				continue
			}
			if !e.matches(rule, work, item.ev) {
				continue
			}

			exec := &models.RuleExecution{
				RuleID:   rule.ID,
				TicketID: work.ID,
				EventKey: item.ev.Identity(),
				FiredAt:  e.now(),
			}
			if err := e.store.AppendRuleExecution(ctx, exec); err != nil {
				if errors.Is(err, repository.ErrDuplicateExecution) {
					continue
				}
				return actions, fmt.Errorf("record execution of rule %d: %w", rule.ID, err)
			}
			chain = append(chain, rule.ID)

			for idx, action := range rule.Actions {
				actions = append(actions, action)
				if !action.Mutates() {
					continue
				}
				synth, field, changed := e.applyMutation(work, rule, action, item.ev, idx)
				if !changed {
					continue
				}
				if prev, ok := setBy[field]; ok && prev.ID != rule.ID {
					e.logger.Printf("automation: ticket %d field %q set by rule %d (%s) overridden by rule %d (%s)",
						work.ID, field, prev.ID, prev.Name, rule.ID, rule.Name)
				}
				setBy[field] = rule
				if item.depth+1 > e.depthCap {
					return actions, &LoopError{TicketID: work.ID, Depth: e.depthCap, RuleIDs: chain}
				}
				queue = append(queue, queuedEvent{ev: synth, depth: item.depth + 1})
			}
		}
	}
	return actions, nil
}

func (e *Engine) matches(rule *models.AutomationRule, ticket *models.Ticket, ev models.TicketEvent) bool {
	now := e.now()
	for _, cond := range rule.Conditions {
		if !matchCondition(cond, ticket, ev, now) {
			return false
		}
	}
	return true
}

// applyMutation updates the working ticket copy and builds the synthetic
// follow-up event. The event's DedupeKey chains off the triggering event's
// identity so redelivered chains dedupe end to end.
func (e *Engine) applyMutation(work *models.Ticket, rule *models.AutomationRule, action models.Action, parent models.TicketEvent, actionIdx int) (models.TicketEvent, string, bool) {
	synth := models.TicketEvent{
		ID:        uuid.NewString(),
		TenantID:  work.TenantID,
		TicketID:  work.ID,
		At:        e.now(),
		DedupeKey: fmt.Sprintf("%s/r%d.%d", parent.Identity(), rule.ID, actionIdx),
		Synthetic: true,
	}

	switch action.Type {
	case models.ActionSetStatus:
		if work.Status == action.Status {
			return synth, "status", false
		}
		synth.Type = models.EventStatusChanged
		synth.OldValue = string(work.Status)
		synth.NewValue = string(action.Status)
		work.Status = action.Status
		return synth, "status", true
	case models.ActionSetPriority:
		if work.Priority == action.Priority {
			return synth, "priority", false
		}
		synth.Type = models.EventPriorityChanged
		synth.OldValue = string(work.Priority)
		synth.NewValue = string(action.Priority)
		work.Priority = action.Priority
		return synth, "priority", true
	case models.ActionReassign:
		if work.AssignedTeam == action.Team && work.AssignedAgent == action.Agent {
			return synth, "assignment", false
		}
		synth.Type = models.EventReassigned
		synth.OldValue = work.AssignedTeam
		synth.NewValue = action.Team
		work.AssignedTeam = action.Team
		work.AssignedAgent = action.Agent
		return synth, "assignment", true
	}
	return synth, "", false
}
