package slaclock

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
)

func newTestManager(store *repository.MemoryStore) *Manager {
	return NewManager(store, WithManagerLogger(log.New(io.Discard, "", 0)))
}

func seedManagerFixture(store *repository.MemoryStore, now time.Time) *models.Ticket {
	ticket := &models.Ticket{
		ID:        42,
		TenantID:  "acme",
		Title:     "printer on fire",
		Priority:  models.PriorityHigh,
		Status:    models.StatusNew,
		CreatedAt: now,
	}
	store.PutTicket(ticket)
	store.PutPolicy(&models.SLAPolicy{
		ID:                      1,
		TenantID:                "acme",
		Priority:                models.PriorityHigh,
		ResponseTargetMinutes:   60,
		ResolutionTargetMinutes: 480,
	})
	return ticket
}

func event(ticket *models.Ticket, typ models.EventType, at time.Time, oldVal, newVal string) models.TicketEvent {
	return models.TicketEvent{
		ID:       "evt-" + string(typ),
		Type:     typ,
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		At:       at,
		OldValue: oldVal,
		NewValue: newVal,
	}
}

func TestApplyEventCreatesClocksOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	ev := event(ticket, models.EventTicketCreated, now, "", "")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, ev, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, clocks, 2)
	assert.Equal(t, now.Add(time.Hour), clocks[0].TargetAt)
	assert.Equal(t, now.Add(8*time.Hour), clocks[1].TargetAt)

	// Redelivery creates nothing new.
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, ev, nil))
	clocks, err = store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, clocks, 2)
}

func TestApplyEventNoPolicyIsNotAnError(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := &models.Ticket{ID: 7, TenantID: "nopolicy", Priority: models.PriorityLow, CreatedAt: now}
	store.PutTicket(ticket)
	mgr := newTestManager(store)

	ev := event(ticket, models.EventTicketCreated, now, "", "")
	require.NoError(t, mgr.ApplyEvent(context.Background(), ticket, ev, nil))

	clocks, err := store.GetClocks(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, clocks)
}

func TestStatusChangePausesAndResumes(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))

	pauseAt := now.Add(30 * time.Minute)
	pause := event(ticket, models.EventStatusChanged, pauseAt, "open", "waiting_customer")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, pause, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	for _, c := range clocks {
		assert.Equal(t, models.ClockPaused, c.State)
		require.NotNil(t, c.PausedSince)
	}

	// Redelivered pause is a no-op against already-paused clocks.
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, pause, nil))

	resumeAt := pauseAt.Add(2 * time.Hour)
	resume := event(ticket, models.EventStatusChanged, resumeAt, "waiting_customer", "open")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, resume, nil))

	clocks, err = store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	for _, c := range clocks {
		assert.Equal(t, models.ClockRunning, c.State)
		assert.Equal(t, 2*time.Hour, c.AccumulatedPause)
	}
	// Wall-clock policy: deadlines shift by the full pause.
	assert.Equal(t, now.Add(3*time.Hour), clocks[0].TargetAt)
}

func TestAgentCommentCompletesResponseClock(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))

	// Customer comments never satisfy the response commitment.
	customer := event(ticket, models.EventCommented, now.Add(10*time.Minute), "", "customer")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, customer, nil))
	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockRunning, clocks[0].State)

	agent := event(ticket, models.EventCommented, now.Add(20*time.Minute), "", "agent")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, agent, nil))

	clocks, err = store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockMet, clocks[0].State)
	assert.Equal(t, models.ClockRunning, clocks[1].State)

	stored, err := store.GetTicket(ctx, "acme", ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FirstResponseAt)
	assert.Equal(t, now.Add(20*time.Minute), *stored.FirstResponseAt)
}

func TestAgentCommentDuringPauseCreditsPause(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))
	pause := event(ticket, models.EventStatusChanged, now.Add(30*time.Minute), "open", "waiting_customer")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, pause, nil))

	// Agent replies two hours in, past the original 60-minute target but
	// inside the pause-adjusted deadline: the pause credit lands before the
	// completion check, so the commitment is met.
	agent := event(ticket, models.EventCommented, now.Add(2*time.Hour), "", "agent")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, agent, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockMet, clocks[0].State)
	assert.Equal(t, 90*time.Minute, clocks[0].AccumulatedPause)
	assert.Equal(t, now.Add(150*time.Minute), clocks[0].TargetAt)
	// The resolution clock is untouched; only a status change resumes it.
	assert.Equal(t, models.ClockPaused, clocks[1].State)
}

func TestResumeWithDeletedPolicyFallsBackToWallClock(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))
	pause := event(ticket, models.EventStatusChanged, now.Add(30*time.Minute), "open", "waiting_customer")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, pause, nil))

	// The policy record disappears while the ticket waits. Resume must
	// degrade to wall-clock accounting instead of failing.
	ticket.SLAPolicyID = 99
	require.NoError(t, store.UpdateTicket(ctx, ticket))

	resume := event(ticket, models.EventStatusChanged, now.Add(90*time.Minute), "waiting_customer", "open")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, resume, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockRunning, clocks[0].State)
	assert.Equal(t, time.Hour, clocks[0].AccumulatedPause)
	assert.Equal(t, now.Add(2*time.Hour), clocks[0].TargetAt)
}

func TestResolutionCompletesResolutionClock(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))

	resolve := event(ticket, models.EventStatusChanged, now.Add(4*time.Hour), "open", "resolved")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, resolve, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockMet, clocks[1].State)

	stored, err := store.GetTicket(ctx, "acme", ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt)
}

func TestResolutionFromWaitingResumesFirst(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticket := seedManagerFixture(store, now)
	mgr := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, mgr.ApplyEvent(ctx, ticket, event(ticket, models.EventTicketCreated, now, "", ""), nil))
	pause := event(ticket, models.EventStatusChanged, now.Add(time.Hour), "open", "waiting_customer")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, pause, nil))

	// Resolving straight out of waiting: the pause credit lands before the
	// completion check, so a long wait does not turn into a miss.
	resolve := event(ticket, models.EventStatusChanged, now.Add(10*time.Hour), "waiting_customer", "resolved")
	require.NoError(t, mgr.ApplyEvent(ctx, ticket, resolve, nil))

	clocks, err := store.GetClocks(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClockMet, clocks[1].State)
	assert.Equal(t, 9*time.Hour, clocks[1].AccumulatedPause)
}
