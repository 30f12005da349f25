package domain

import "time"

type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Known reports whether the frequency is one of the named values.
// Anything else is treated as a cron expression and validated by the
// schedule engine.
func (f Frequency) Known() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// ScheduleRequest is the validated input for registering a schedule.
// FireAt is a local wall-clock time in HH:MM form, interpreted in
// Timezone and converted to UTC before the schedule is stored.
type ScheduleRequest struct {
	TenantID  string
	Repo      string
	Prompt    string
	Frequency Frequency
	FireAt    string
	Timezone  string
}

// Schedule is a recurring report request. NextFireAt is always stored
// and compared in UTC; Timezone only matters when the user-facing local
// time is converted at creation or when the next occurrence is computed.
type Schedule struct {
	ID          string
	TenantID    string
	Repo        string
	Prompt      string
	Frequency   Frequency
	WindowStart time.Time
	WindowEnd   time.Time
	Timezone    string
	Active      bool
	NextFireAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
