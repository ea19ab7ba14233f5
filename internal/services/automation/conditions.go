package automation

import (
	"strconv"
	"time"

	"github.com/tickline-io/tickline/internal/models"
)

// matchCondition evaluates one predicate against ticket and event fields.
// Unknown fields and unparseable operands fail the predicate rather than
// erroring; a rule with a bad condition simply never matches.
func matchCondition(c models.Condition, ticket *models.Ticket, ev models.TicketEvent, now time.Time) bool {
	switch c.Op {
	case models.OpEquals:
		v, ok := fieldString(c.Field, ticket, ev)
		return ok && v == c.Value
	case models.OpNotEquals:
		v, ok := fieldString(c.Field, ticket, ev)
		return ok && v != c.Value
	case models.OpIn:
		v, ok := fieldString(c.Field, ticket, ev)
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if v == candidate {
				return true
			}
		}
		return false
	case models.OpGreaterThan, models.OpLessThan:
		v, ok := fieldString(c.Field, ticket, ev)
		if !ok {
			return false
		}
		left, err1 := strconv.ParseFloat(v, 64)
		right, err2 := strconv.ParseFloat(c.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if c.Op == models.OpGreaterThan {
			return left > right
		}
		return left < right
	case models.OpOlderThanMinutes:
		ts, ok := fieldTime(c.Field, ticket, ev)
		if !ok {
			return false
		}
		return now.Sub(ts) > time.Duration(c.Minutes)*time.Minute
	}
	return false
}

func fieldString(field string, ticket *models.Ticket, ev models.TicketEvent) (string, bool) {
	switch field {
	case "priority":
		return string(ticket.Priority), true
	case "status":
		return string(ticket.Status), true
	case "assigned_team":
		return ticket.AssignedTeam, true
	case "assigned_agent":
		return ticket.AssignedAgent, true
	case "title":
		return ticket.Title, true
	case "tenant_id":
		return ticket.TenantID, true
	case "old_value":
		return ev.OldValue, true
	case "new_value":
		return ev.NewValue, true
	}
	return "", false
}

func fieldTime(field string, ticket *models.Ticket, ev models.TicketEvent) (time.Time, bool) {
	switch field {
	case "created_at":
		return ticket.CreatedAt, true
	case "updated_at":
		return ticket.UpdatedAt, true
	case "first_response_at":
		if ticket.FirstResponseAt == nil {
			return time.Time{}, false
		}
		return *ticket.FirstResponseAt, true
	case "resolved_at":
		if ticket.ResolvedAt == nil {
			return time.Time{}, false
		}
		return *ticket.ResolvedAt, true
	case "event_at":
		return ev.At, true
	}
	return time.Time{}, false
}
