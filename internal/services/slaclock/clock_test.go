package slaclock

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/services/calendar"
)

// 2026-03-02 is a Monday.
func utc(day, hour, min int) time.Time {
	return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC)
}

func businessCalendar(t *testing.T) *calendar.Business {
	t.Helper()
	window := []models.WorkingWindow{{Start: "09:00", End: "17:00"}}
	b, err := calendar.Compile(&models.CalendarConfig{
		ID:       "acme",
		Timezone: "UTC",
		Workdays: map[string][]models.WorkingWindow{
			"Mon": window, "Tue": window, "Wed": window, "Thu": window, "Fri": window,
		},
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return b
}

func testPolicy(businessHours bool) *models.SLAPolicy {
	return &models.SLAPolicy{
		ID:                      1,
		TenantID:                "acme",
		Priority:                models.PriorityHigh,
		ResponseTargetMinutes:   60,
		ResolutionTargetMinutes: 480,
		BusinessHoursOnly:       businessHours,
	}
}

func testTicket() *models.Ticket {
	return &models.Ticket{ID: 7, TenantID: "acme", Priority: models.PriorityHigh}
}

func TestStartBusinessHours(t *testing.T) {
	biz := businessCalendar(t)
	// Friday 16:30 plus a 60 minute response target crosses the weekend.
	clock := Start(testTicket(), testPolicy(true), models.ClockResponse, biz, utc(6, 16, 30))

	if clock.State != models.ClockRunning {
		t.Fatalf("state = %s, want running", clock.State)
	}
	if want := utc(9, 9, 30); !clock.TargetAt.Equal(want) {
		t.Errorf("TargetAt = %v, want %v", clock.TargetAt, want)
	}
}

func TestStartWallClock(t *testing.T) {
	clock := Start(testTicket(), testPolicy(false), models.ClockResponse, nil, utc(6, 16, 30))
	if want := utc(6, 17, 30); !clock.TargetAt.Equal(want) {
		t.Errorf("TargetAt = %v, want %v", clock.TargetAt, want)
	}
}

func TestPauseResumeAcrossNonWorkingTime(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)
	clock := Start(testTicket(), policy, models.ClockResolution, biz, utc(6, 16, 0))
	originalTarget := clock.TargetAt

	// Paused Friday evening, resumed Sunday: zero business time elapsed, so
	// the deadline must not move.
	if err := Pause(clock, utc(6, 18, 0)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := Resume(clock, policy, biz, utc(8, 12, 0)); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !clock.TargetAt.Equal(originalTarget) {
		t.Errorf("TargetAt = %v, want unchanged %v", clock.TargetAt, originalTarget)
	}
	if clock.State != models.ClockRunning {
		t.Errorf("state = %s, want running", clock.State)
	}
	if clock.AccumulatedPause != 0 {
		t.Errorf("AccumulatedPause = %v, want 0", clock.AccumulatedPause)
	}
}

func TestPauseResumeShiftsDeadline(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)
	clock := Start(testTicket(), policy, models.ClockResolution, biz, utc(2, 9, 0))
	originalTarget := clock.TargetAt

	// Two business hours of pause push the deadline out two business hours.
	if err := Pause(clock, utc(2, 10, 0)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := Resume(clock, policy, biz, utc(2, 12, 0)); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	want := biz.AddBusinessDuration(originalTarget, 2*time.Hour)
	if !clock.TargetAt.Equal(want) {
		t.Errorf("TargetAt = %v, want %v", clock.TargetAt, want)
	}
	if clock.AccumulatedPause != 2*time.Hour {
		t.Errorf("AccumulatedPause = %v, want 2h", clock.AccumulatedPause)
	}
}

func TestInvalidTransitions(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)
	clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))

	if err := Resume(clock, policy, biz, utc(2, 10, 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume on running clock: err = %v, want ErrInvalidState", err)
	}

	if err := Pause(clock, utc(2, 10, 0)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := Pause(clock, utc(2, 11, 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double Pause: err = %v, want ErrInvalidState", err)
	}
	if err := Complete(clock, utc(2, 11, 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Complete on paused clock: err = %v, want ErrInvalidState", err)
	}

	var ise *InvalidStateError
	err := Pause(clock, utc(2, 11, 0))
	if !errors.As(err, &ise) || ise.Op != "pause" {
		t.Errorf("err = %v, want *InvalidStateError for pause", err)
	}
}

func TestComplete(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)

	t.Run("on time", func(t *testing.T) {
		clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))
		if err := Complete(clock, utc(2, 9, 30)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if clock.State != models.ClockMet {
			t.Errorf("state = %s, want met", clock.State)
		}
	})

	t.Run("exactly at deadline", func(t *testing.T) {
		clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))
		if err := Complete(clock, clock.TargetAt); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if clock.State != models.ClockMet {
			t.Errorf("state = %s, want met", clock.State)
		}
	})

	t.Run("late completion leaves clock live", func(t *testing.T) {
		clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))
		if err := Complete(clock, clock.TargetAt.Add(time.Minute)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if clock.State != models.ClockRunning {
			t.Errorf("state = %s, want running for the breach sweep", clock.State)
		}
	})

	t.Run("breached clock stays breached", func(t *testing.T) {
		clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))
		clock.State = models.ClockBreached
		if err := Complete(clock, utc(2, 9, 30)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if clock.State != models.ClockBreached {
			t.Errorf("state = %s, want breached", clock.State)
		}
	})
}

func TestCheckBreachExactlyOnce(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)
	clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))

	// Default warning lead is 20% of the 60 minute target.
	beforeLead := clock.TargetAt.Add(-20 * time.Minute)
	if got := CheckBreach(clock, policy, beforeLead); got != NoChange {
		t.Fatalf("before lead: result = %v, want NoChange", got)
	}

	inLead := clock.TargetAt.Add(-10 * time.Minute)
	if got := CheckBreach(clock, policy, inLead); got != Warned {
		t.Fatalf("within lead: result = %v, want Warned", got)
	}
	if clock.WarnedAt == nil {
		t.Fatal("WarnedAt not set")
	}
	if got := CheckBreach(clock, policy, inLead.Add(time.Minute)); got != NoChange {
		t.Fatalf("repeat within lead: result = %v, want NoChange", got)
	}

	past := clock.TargetAt.Add(time.Minute)
	if got := CheckBreach(clock, policy, past); got != Breached {
		t.Fatalf("past deadline: result = %v, want Breached", got)
	}
	if got := CheckBreach(clock, policy, past.Add(time.Hour)); got != NoChange {
		t.Fatalf("repeat past deadline: result = %v, want NoChange", got)
	}
}

func TestWarnedStateSurvivesPause(t *testing.T) {
	biz := businessCalendar(t)
	policy := testPolicy(true)
	clock := Start(testTicket(), policy, models.ClockResponse, biz, utc(2, 9, 0))

	if got := CheckBreach(clock, policy, clock.TargetAt.Add(-10*time.Minute)); got != Warned {
		t.Fatalf("result = %v, want Warned", got)
	}
	if err := Pause(clock, utc(2, 9, 55)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := Resume(clock, policy, biz, utc(2, 10, 30)); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if clock.State != models.ClockWarned {
		t.Fatalf("state = %s, want warned after resume", clock.State)
	}
	// Still inside the (shifted) deadline: no second warning.
	if got := CheckBreach(clock, policy, clock.TargetAt.Add(-time.Minute)); got != NoChange {
		t.Errorf("result = %v, want NoChange", got)
	}
}
