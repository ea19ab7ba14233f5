// Package calendar converts between wall-clock and business time for tenant
// working-hour configurations, wrapping rickar/cal for workday and holiday
// determination.
package calendar

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/tickline-io/tickline/internal/models"
)

// ErrCalendarResolution indicates calendar data that could not be interpreted.
// Callers fall back to plain wall-clock targets.
var ErrCalendarResolution = errors.New("calendar: unresolvable calendar data")

// Business is a compiled, immutable tenant calendar. All methods are pure and
// safe for concurrent use.
type Business struct {
	loc       *time.Location
	cal       *cal.BusinessCalendar
	windows   map[time.Weekday][]window
	overrides map[string]dayOverride
	allHours  bool
}

// window is one working interval, in minutes since local midnight.
type window struct {
	startMin int
	endMin   int
}

type dayOverride struct {
	working bool
	windows []window
}

// iteration guard for AddBusinessDuration: ten years of days.
const maxWalkDays = 3660

// AllHours returns a calendar that treats all time as business time. It is
// the fallback for missing or unresolvable configurations.
func AllHours() *Business {
	return &Business{loc: time.UTC, allHours: true}
}

// Compile builds a Business calendar from a raw tenant configuration.
// Unresolvable data returns the all-hours fallback together with an error
// wrapping ErrCalendarResolution; an empty but well-formed configuration
// falls back to all-hours with a logged warning, not an error.
func Compile(cfg *models.CalendarConfig, logger *log.Logger) (*Business, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		return AllHours(), fmt.Errorf("%w: nil configuration", ErrCalendarResolution)
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return AllHours(), fmt.Errorf("%w: timezone %q: %v", ErrCalendarResolution, cfg.Timezone, err)
		}
	}

	b := &Business{
		loc:       loc,
		cal:       cal.NewBusinessCalendar(),
		windows:   make(map[time.Weekday][]window),
		overrides: make(map[string]dayOverride),
	}

	var minStart, maxEnd = 24 * 60, 0
	for dayName, wins := range cfg.Workdays {
		weekday, ok := weekdayNames[dayName]
		if !ok {
			return AllHours(), fmt.Errorf("%w: unknown weekday %q", ErrCalendarResolution, dayName)
		}
		compiled, err := compileWindows(wins)
		if err != nil {
			return AllHours(), err
		}
		b.cal.SetWorkday(weekday, len(compiled) > 0)
		if len(compiled) == 0 {
			continue
		}
		b.windows[weekday] = compiled
		if compiled[0].startMin < minStart {
			minStart = compiled[0].startMin
		}
		if last := compiled[len(compiled)-1].endMin; last > maxEnd {
			maxEnd = last
		}
	}
	// Days absent from the config are not workdays.
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if _, ok := b.windows[wd]; !ok {
			b.cal.SetWorkday(wd, false)
		}
	}

	if len(b.windows) == 0 {
		logger.Printf("calendar: %s has no working days configured, treating all time as business time", cfg.ID)
		return AllHours(), nil
	}

	// Keep the wrapped calendar's contiguous range aligned with the widest
	// configured span so its own work-time queries stay consistent.
	b.cal.SetWorkHours(time.Duration(minStart)*time.Minute, time.Duration(maxEnd)*time.Minute)

	for _, h := range cfg.Holidays {
		if h.Month < 1 || h.Month > 12 || h.Day < 1 || h.Day > 31 {
			return AllHours(), fmt.Errorf("%w: holiday %q has invalid date %d-%d", ErrCalendarResolution, h.Name, h.Month, h.Day)
		}
		holiday := &cal.Holiday{
			Name:  h.Name,
			Type:  cal.ObservancePublic,
			Month: time.Month(h.Month),
			Day:   h.Day,
			Func:  cal.CalcDayOfMonth,
		}
		if h.Year != 0 {
			holiday.StartYear = h.Year
			holiday.EndYear = h.Year
		}
		b.cal.AddHoliday(holiday)
	}

	for _, ov := range cfg.Overrides {
		if _, err := time.ParseInLocation("2006-01-02", ov.Date, loc); err != nil {
			return AllHours(), fmt.Errorf("%w: override date %q: %v", ErrCalendarResolution, ov.Date, err)
		}
		compiled, err := compileWindows(ov.Windows)
		if err != nil {
			return AllHours(), err
		}
		b.overrides[ov.Date] = dayOverride{working: ov.Working, windows: compiled}
	}

	return b, nil
}

var weekdayNames = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

func compileWindows(wins []models.WorkingWindow) ([]window, error) {
	out := make([]window, 0, len(wins))
	for _, w := range wins {
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("%w: window %s-%s is empty", ErrCalendarResolution, w.Start, w.End)
		}
		out = append(out, window{startMin: start, endMin: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].startMin < out[j].startMin })
	return out, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q: %v", ErrCalendarResolution, s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the calendar's timezone.
func (b *Business) Location() *time.Location {
	return b.loc
}

// dayWindows returns the working windows for a local date. Date overrides win
// over the weekly pattern and over holidays; otherwise rickar/cal decides
// whether the date is a workday at all.
func (b *Business) dayWindows(local time.Time) []window {
	if ov, ok := b.overrides[local.Format("2006-01-02")]; ok {
		if !ov.working {
			return nil
		}
		if len(ov.windows) > 0 {
			return ov.windows
		}
		return b.windows[local.Weekday()]
	}
	if !b.cal.IsWorkday(local) {
		return nil
	}
	return b.windows[local.Weekday()]
}

// windowBounds materializes a window on a specific local date. Building the
// bounds with time.Date keeps them correct across DST transitions.
func windowBounds(local time.Time, w window, loc *time.Location) (time.Time, time.Time) {
	y, m, d := local.Date()
	start := time.Date(y, m, d, w.startMin/60, w.startMin%60, 0, 0, loc)
	end := time.Date(y, m, d, w.endMin/60, w.endMin%60, 0, 0, loc)
	return start, end
}

// BusinessDuration returns the elapsed business time between two instants.
// An interval entirely outside working hours yields zero.
func (b *Business) BusinessDuration(start, end time.Time) time.Duration {
	if !end.After(start) {
		return 0
	}
	if b.allHours {
		return end.Sub(start)
	}

	start = start.In(b.loc)
	end = end.In(b.loc)

	var total time.Duration
	for day := start; !day.After(end); day = nextMidnight(day, b.loc) {
		for _, w := range b.dayWindows(day) {
			winStart, winEnd := windowBounds(day, w, b.loc)
			if winStart.Before(start) {
				winStart = start
			}
			if winEnd.After(end) {
				winEnd = end
			}
			if winEnd.After(winStart) {
				total += winEnd.Sub(winStart)
			}
		}
	}
	return total
}

// AddBusinessDuration walks forward through working windows consuming the
// budget and returns the resulting instant in UTC. A target landing exactly
// on a window boundary resolves to that boundary.
func (b *Business) AddBusinessDuration(start time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return start.UTC()
	}
	if b.allHours {
		return start.Add(d).UTC()
	}

	remaining := d
	cursor := start.In(b.loc)

	for i := 0; i < maxWalkDays; i++ {
		for _, w := range b.dayWindows(cursor) {
			winStart, winEnd := windowBounds(cursor, w, b.loc)
			if cursor.After(winStart) {
				winStart = cursor
			}
			if !winStart.Before(winEnd) {
				continue
			}
			avail := winEnd.Sub(winStart)
			if avail >= remaining {
				return winStart.Add(remaining).UTC()
			}
			remaining -= avail
		}
		cursor = nextMidnight(cursor, b.loc)
	}

	// No reachable working window within the walk horizon. Degrade to a
	// wall-clock target rather than spinning.
	return cursor.Add(remaining).UTC()
}

// IsWorkingTime reports whether the instant falls inside a working window.
func (b *Business) IsWorkingTime(t time.Time) bool {
	if b.allHours {
		return true
	}
	local := t.In(b.loc)
	for _, w := range b.dayWindows(local) {
		winStart, winEnd := windowBounds(local, w, b.loc)
		if !local.Before(winStart) && local.Before(winEnd) {
			return true
		}
	}
	return false
}

func nextMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
