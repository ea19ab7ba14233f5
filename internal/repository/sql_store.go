package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/tickline-io/tickline/internal/models"
)

// SQLStore implements TicketStore on a relational database via sqlx.
//
// Expected schema (managed by the surrounding application's migrations):
//
//	ticket(id, tenant_id, title, priority, status, assigned_team,
//	       assigned_agent, sla_policy_id, created_at, first_response_at,
//	       resolved_at, wait_until, updated_at)
//	sla_policy(id, tenant_id, name, priority, response_target_minutes,
//	       resolution_target_minutes, business_hours_only, warning_lead_minutes)
//	sla_clock(id, ticket_id, tenant_id, policy_id, clock_type, state,
//	       started_at, target_at, paused_since, accumulated_pause_seconds,
//	       warned_at, version)
//	automation_rule(id, tenant_id, name, trigger_type, conditions, actions,
//	       priority, enabled)           -- conditions/actions as JSON
//	rule_execution_log(rule_id, ticket_id, event_key, fired_at,
//	       UNIQUE(rule_id, ticket_id, event_key))
//	failed_dispatch(id, tenant_id, ticket_id, kind, payload, attempts,
//	       last_error, failed_at)
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open sqlx handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open connects to the database and verifies the connection.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetTicket returns the ticket with the given tenant and id.
func (s *SQLStore) GetTicket(ctx context.Context, tenantID string, id uint) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`
		SELECT id, tenant_id, title, priority, status, assigned_team,
		       assigned_agent, sla_policy_id, created_at, first_response_at,
		       resolved_at, wait_until, updated_at
		FROM ticket WHERE id = ? AND tenant_id = ?`), id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %d for tenant %s: %w", id, tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTicket persists the engine-owned ticket fields.
func (s *SQLStore) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE ticket SET
			priority = ?, status = ?, assigned_team = ?, assigned_agent = ?,
			first_response_at = ?, resolved_at = ?, wait_until = ?,
			updated_at = ?
		WHERE id = ? AND tenant_id = ?`),
		ticket.Priority, ticket.Status, ticket.AssignedTeam, ticket.AssignedAgent,
		ticket.FirstResponseAt, ticket.ResolvedAt, ticket.WaitUntil,
		ticket.UpdatedAt, ticket.ID, ticket.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update ticket %d: %w", ticket.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %d: %w", ticket.ID, ErrNotFound)
	}
	return nil
}

// ListWaitingTickets returns tickets whose wait deadline has passed.
func (s *SQLStore) ListWaitingTickets(ctx context.Context, before time.Time) ([]*models.Ticket, error) {
	var out []*models.Ticket
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, tenant_id, title, priority, status, assigned_team,
		       assigned_agent, sla_policy_id, created_at, first_response_at,
		       resolved_at, wait_until, updated_at
		FROM ticket
		WHERE status IN (?, ?) AND wait_until IS NOT NULL AND wait_until <= ?
		ORDER BY id LIMIT 1000`),
		models.StatusWaitingCustomer, models.StatusWaitingThirdParty, before)
	return out, err
}

type clockRow struct {
	ID           uint              `db:"id"`
	TicketID     uint              `db:"ticket_id"`
	TenantID     string            `db:"tenant_id"`
	PolicyID     uint              `db:"policy_id"`
	Type         models.ClockType  `db:"clock_type"`
	State        models.ClockState `db:"state"`
	StartedAt    time.Time         `db:"started_at"`
	TargetAt     time.Time         `db:"target_at"`
	PausedSince  *time.Time        `db:"paused_since"`
	PauseSeconds int64             `db:"accumulated_pause_seconds"`
	WarnedAt     *time.Time        `db:"warned_at"`
	Version      int               `db:"version"`
}

func (r clockRow) toModel() *models.SLAClock {
	return &models.SLAClock{
		ID:               r.ID,
		TicketID:         r.TicketID,
		TenantID:         r.TenantID,
		PolicyID:         r.PolicyID,
		Type:             r.Type,
		State:            r.State,
		StartedAt:        r.StartedAt,
		TargetAt:         r.TargetAt,
		PausedSince:      r.PausedSince,
		AccumulatedPause: time.Duration(r.PauseSeconds) * time.Second,
		WarnedAt:         r.WarnedAt,
		Version:          r.Version,
	}
}

const clockColumns = `id, ticket_id, tenant_id, policy_id, clock_type, state,
	started_at, target_at, paused_since, accumulated_pause_seconds, warned_at,
	version`

// CreateClock inserts a new clock at version 1.
func (s *SQLStore) CreateClock(ctx context.Context, clock *models.SLAClock) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sla_clock (ticket_id, tenant_id, policy_id, clock_type,
			state, started_at, target_at, paused_since,
			accumulated_pause_seconds, warned_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`),
		clock.TicketID, clock.TenantID, clock.PolicyID, clock.Type,
		clock.State, clock.StartedAt, clock.TargetAt, clock.PausedSince,
		int64(clock.AccumulatedPause/time.Second), clock.WarnedAt)
	if err != nil {
		return fmt.Errorf("failed to create clock for ticket %d: %w", clock.TicketID, err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		clock.ID = uint(id)
	}
	clock.Version = 1
	return nil
}

// GetClocks returns all clocks for a ticket, response clock first.
func (s *SQLStore) GetClocks(ctx context.Context, ticketID uint) ([]*models.SLAClock, error) {
	var rows []clockRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+clockColumns+` FROM sla_clock
		WHERE ticket_id = ?
		ORDER BY CASE clock_type WHEN 'response' THEN 0 ELSE 1 END`), ticketID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SLAClock, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ListClocksByState returns clocks in any of the given states, ordered by
// ticket with the response clock first.
func (s *SQLStore) ListClocksByState(ctx context.Context, states ...models.ClockState) ([]*models.SLAClock, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+clockColumns+` FROM sla_clock
		WHERE state IN (?)
		ORDER BY ticket_id, CASE clock_type WHEN 'response' THEN 0 ELSE 1 END`, states)
	if err != nil {
		return nil, err
	}
	var rows []clockRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*models.SLAClock, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateClock applies a compare-and-swap update keyed on the clock version.
func (s *SQLStore) UpdateClock(ctx context.Context, clock *models.SLAClock) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sla_clock SET
			state = ?, target_at = ?, paused_since = ?,
			accumulated_pause_seconds = ?, warned_at = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		clock.State, clock.TargetAt, clock.PausedSince,
		int64(clock.AccumulatedPause/time.Second), clock.WarnedAt, clock.ID, clock.Version)
	if err != nil {
		return fmt.Errorf("failed to update clock %d: %w", clock.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	clock.Version++
	return nil
}

// GetPolicy returns the policy with the given tenant and id.
func (s *SQLStore) GetPolicy(ctx context.Context, tenantID string, id uint) (*models.SLAPolicy, error) {
	var p models.SLAPolicy
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`
		SELECT id, tenant_id, name, priority, response_target_minutes,
		       resolution_target_minutes, business_hours_only,
		       warning_lead_minutes
		FROM sla_policy WHERE id = ? AND tenant_id = ?`), id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %d for tenant %s: %w", id, tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPolicy returns the tenant's policy for a priority tier.
func (s *SQLStore) FindPolicy(ctx context.Context, tenantID string, priority models.TicketPriority) (*models.SLAPolicy, error) {
	var p models.SLAPolicy
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`
		SELECT id, tenant_id, name, priority, response_target_minutes,
		       resolution_target_minutes, business_hours_only,
		       warning_lead_minutes
		FROM sla_policy WHERE tenant_id = ? AND priority = ?
		LIMIT 1`), tenantID, priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy for tenant %s priority %s: %w", tenantID, priority, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type ruleRow struct {
	ID         uint             `db:"id"`
	TenantID   string           `db:"tenant_id"`
	Name       string           `db:"name"`
	Trigger    models.EventType `db:"trigger_type"`
	Conditions []byte           `db:"conditions"`
	Actions    []byte           `db:"actions"`
	Priority   int              `db:"priority"`
	Enabled    bool             `db:"enabled"`
}

// ListRules returns the tenant's enabled rules for a trigger, ascending priority.
func (s *SQLStore) ListRules(ctx context.Context, tenantID string, trigger models.EventType) ([]*models.AutomationRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, tenant_id, name, trigger_type, conditions, actions,
		       priority, enabled
		FROM automation_rule
		WHERE tenant_id = ? AND trigger_type = ? AND enabled = 1
		ORDER BY priority, id`), tenantID, trigger)
	if err != nil {
		return nil, err
	}
	out := make([]*models.AutomationRule, 0, len(rows))
	for _, r := range rows {
		rule := &models.AutomationRule{
			ID:       r.ID,
			TenantID: r.TenantID,
			Name:     r.Name,
			Trigger:  r.Trigger,
			Priority: r.Priority,
			Enabled:  r.Enabled,
		}
		if err := unmarshalJSON(r.Conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("rule %d has malformed conditions: %w", r.ID, err)
		}
		if err := unmarshalJSON(r.Actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %d has malformed actions: %w", r.ID, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// AppendRuleExecution records a rule firing. The unique key on
// (rule_id, ticket_id, event_key) turns redelivered firings into
// ErrDuplicateExecution.
func (s *SQLStore) AppendRuleExecution(ctx context.Context, exec *models.RuleExecution) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO rule_execution_log (rule_id, ticket_id, event_key, fired_at)
		VALUES (?, ?, ?, ?)`),
		exec.RuleID, exec.TicketID, exec.EventKey, exec.FiredAt)
	if isDuplicateKey(err) {
		return ErrDuplicateExecution
	}
	return err
}

// RecordFailedDispatch appends a failed-dispatch record for manual follow-up.
func (s *SQLStore) RecordFailedDispatch(ctx context.Context, fd *models.FailedDispatch) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO failed_dispatch (tenant_id, ticket_id, kind, payload,
			attempts, last_error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		fd.TenantID, fd.TicketID, fd.Kind, fd.Payload,
		fd.Attempts, fd.LastError, fd.FailedAt)
	return err
}

// isDuplicateKey reports whether the error is a MySQL duplicate-entry error.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
