package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/robfig/cron/v3"
)

// ValidateFrequency accepts the named frequencies and anything the
// standard five-field cron parser accepts.
func ValidateFrequency(frequency domain.Frequency) error {
	if frequency.Known() {
		return nil
	}
	if _, err := cron.ParseStandard(string(frequency)); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", frequency, err)
	}
	return nil
}

// NextOccurrence returns the first fire time strictly after the given
// instant. The result is always UTC. Named frequencies step by calendar
// arithmetic in the schedule's timezone so a daily 09:00 schedule keeps
// firing at 09:00 local across DST changes.
func NextOccurrence(frequency domain.Frequency, after time.Time, location *time.Location) (time.Time, error) {
	switch frequency {
	case domain.FrequencyOnce:
		return time.Time{}, nil
	case domain.FrequencyDaily:
		return after.In(location).AddDate(0, 0, 1).UTC(), nil
	case domain.FrequencyWeekly:
		return after.In(location).AddDate(0, 0, 7).UTC(), nil
	case domain.FrequencyMonthly:
		return after.In(location).AddDate(0, 1, 0).UTC(), nil
	default:
		spec, err := cron.ParseStandard(string(frequency))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", frequency, err)
		}
		return spec.Next(after.In(location)).UTC(), nil
	}
}

// FirstOccurrence resolves the initial fire time for a new schedule:
// the next moment the local wall-clock reads fireAt (HH:MM) in the
// given timezone, converted to UTC.
func FirstOccurrence(fireAt string, location *time.Location, now time.Time) (time.Time, error) {
	parsed, err := parseWallClock(fireAt)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(location)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		parsed.hour, parsed.minute, 0, 0, location)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC(), nil
}

type wallClock struct {
	hour   int
	minute int
}

func parseWallClock(value string) (wallClock, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return wallClock{}, fmt.Errorf("fire time %q is not HH:MM", value)
	}
	var clock wallClock
	if _, err := fmt.Sscanf(parts[0]+":"+parts[1], "%d:%d", &clock.hour, &clock.minute); err != nil {
		return wallClock{}, fmt.Errorf("fire time %q is not HH:MM", value)
	}
	if clock.hour < 0 || clock.hour > 23 || clock.minute < 0 || clock.minute > 59 {
		return wallClock{}, fmt.Errorf("fire time %q is out of range", value)
	}
	return clock, nil
}
