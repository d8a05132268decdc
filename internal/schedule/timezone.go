// Package schedule converts between the tenant's local wall clock, used when
// a campaign is authored, and the UTC instants the store works with.
package schedule

import (
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
)

// LocalLayout is the wall-clock format produced by datetime-local inputs.
const LocalLayout = "2006-01-02T15:04"

// DefaultOffset is the UTC offset of the default local zone (WIB).
const DefaultOffset = 7 * time.Hour

// FixedZone returns a location for a whole-minute UTC offset.
func FixedZone(offset time.Duration) *time.Location {
	return time.FixedZone(formatOffset(offset), int(offset/time.Second))
}

// ParseOffset reads offsets such as "+07:00", "-03:30" or "7h".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultOffset, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return 0, fmt.Errorf("parse utc offset %q: %w", s, err)
	}
	_, secs := t.Zone()
	return time.Duration(secs) * time.Second, nil
}

func formatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
}

func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

func ToLocal(t time.Time, loc *time.Location) time.Time {
	return t.In(loc)
}

// ParseLocal interprets a wall-clock value in loc and returns the UTC instant.
func ParseLocal(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(LocalLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, appErrors.NewValidationError("scheduled_at", fmt.Sprintf("expected %s local time: %v", LocalLayout, err))
	}
	return t.UTC(), nil
}

// FormatLocal renders t as a wall-clock value in loc.
func FormatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(LocalLayout)
}

// ParseScheduleInput accepts either an RFC3339 instant or a local wall-clock
// value and returns the UTC instant.
func ParseScheduleInput(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
		return t.UTC(), nil
	}
	return ParseLocal(s, loc)
}

// IsScheduledTimeReached reports whether current is at or after scheduled.
func IsScheduledTimeReached(scheduled, current time.Time) bool {
	return !current.Before(scheduled)
}
