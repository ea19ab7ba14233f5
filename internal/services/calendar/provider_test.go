package calendar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const acmeCalendarYAML = `
timezone: UTC
workdays:
  Mon:
    - start: "09:00"
      end: "17:00"
  Tue:
    - start: "09:00"
      end: "17:00"
  Wed:
    - start: "09:00"
      end: "17:00"
  Thu:
    - start: "09:00"
      end: "17:00"
  Fri:
    - start: "09:00"
      end: "17:00"
holidays:
  - name: "New Year"
    month: 1
    day: 1
`

func writeCalendar(t *testing.T, dir, tenantID, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, tenantID+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write calendar: %v", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeCalendar(t, dir, "acme", acmeCalendarYAML)
	source := NewDirSource(dir)

	cfg, err := source.CalendarConfig(context.Background(), "acme")
	if err != nil {
		t.Fatalf("CalendarConfig: %v", err)
	}
	if cfg.ID != "acme" {
		t.Errorf("ID = %q, want acme (defaulted from tenant)", cfg.ID)
	}
	if len(cfg.Workdays) != 5 {
		t.Errorf("workdays = %d, want 5", len(cfg.Workdays))
	}
	if len(cfg.Holidays) != 1 || cfg.Holidays[0].Month != 1 {
		t.Errorf("holidays = %+v, want New Year", cfg.Holidays)
	}
}

func TestDirSourceMissingTenant(t *testing.T) {
	source := NewDirSource(t.TempDir())
	if _, err := source.CalendarConfig(context.Background(), "ghost"); !errors.Is(err, ErrNoCalendar) {
		t.Fatalf("err = %v, want ErrNoCalendar", err)
	}
}

func TestCachedProviderCompilesAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeCalendar(t, dir, "acme", acmeCalendarYAML)
	provider := NewCachedProvider(NewDirSource(dir), time.Minute, WithLogger(discardLogger()))

	b, err := provider.Calendar(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if b.IsWorkingTime(utc(7, 12, 0)) {
		t.Error("Saturday should not be working time")
	}

	// Cached: a file change is invisible until invalidation.
	writeCalendar(t, dir, "acme", "timezone: UTC\n")
	again, err := provider.Calendar(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if again != b {
		t.Error("expected the cached compiled calendar")
	}

	provider.Invalidate(context.Background(), "acme")
	fresh, err := provider.Calendar(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Calendar after invalidate: %v", err)
	}
	// The rewritten config has no workdays, so it degrades to all-hours.
	if !fresh.IsWorkingTime(utc(7, 12, 0)) {
		t.Error("expected the recompiled calendar to treat all time as working")
	}
}

func TestCachedProviderMissingTenantFallsBack(t *testing.T) {
	provider := NewCachedProvider(NewDirSource(t.TempDir()), time.Minute, WithLogger(discardLogger()))

	b, err := provider.Calendar(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if !b.IsWorkingTime(utc(7, 3, 0)) {
		t.Error("missing calendar should degrade to all-hours")
	}
}

func TestCachedProviderBrokenConfigFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeCalendar(t, dir, "acme", "timezone: Mars/Olympus\nworkdays:\n  Mon:\n    - start: \"09:00\"\n      end: \"17:00\"\n")
	provider := NewCachedProvider(NewDirSource(dir), time.Minute, WithLogger(discardLogger()))

	b, err := provider.Calendar(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if !b.IsWorkingTime(utc(7, 3, 0)) {
		t.Error("broken calendar should degrade to all-hours")
	}
}
