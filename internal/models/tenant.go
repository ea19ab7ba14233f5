package models

// Tenant identifies one customer organization and its calendar binding.
type Tenant struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Timezone   string `json:"timezone" db:"timezone"`
	CalendarID string `json:"calendar_id" db:"calendar_id"`
}

// CalendarConfig is the raw, tenant-supplied business calendar definition.
// It is loaded from YAML and compiled by the calendar service.
type CalendarConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Timezone string `yaml:"timezone" json:"timezone"`

	// Workdays maps short weekday names (Mon..Sun) to working windows.
	// A day with no entry or an empty window list is not a workday.
	Workdays map[string][]WorkingWindow `yaml:"workdays" json:"workdays"`

	Holidays  []HolidayConfig `yaml:"holidays,omitempty" json:"holidays,omitempty"`
	Overrides []DayOverride   `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// WorkingWindow is one contiguous working interval within a day,
// expressed as local wall-clock times in HH:MM format.
type WorkingWindow struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// HolidayConfig is a non-working day. Year 0 means the holiday recurs annually.
type HolidayConfig struct {
	Name  string `yaml:"name" json:"name"`
	Month int    `yaml:"month" json:"month"`
	Day   int    `yaml:"day" json:"day"`
	Year  int    `yaml:"year,omitempty" json:"year,omitempty"`
}

// DayOverride replaces the working windows of one specific date, covering
// half days and exceptional openings. Working=false closes the whole day.
type DayOverride struct {
	Date    string          `yaml:"date" json:"date"` // YYYY-MM-DD in calendar timezone
	Working bool            `yaml:"working" json:"working"`
	Windows []WorkingWindow `yaml:"windows,omitempty" json:"windows,omitempty"`
	Reason  string          `yaml:"reason,omitempty" json:"reason,omitempty"`
}
