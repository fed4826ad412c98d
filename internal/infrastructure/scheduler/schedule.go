// Package scheduler implements background job scheduling.
package scheduler

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// DailySchedule runs a job once a day at a fixed wall-clock time.
type DailySchedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// NewDailySchedule creates a schedule for hour:minute in the given location.
func NewDailySchedule(hour, minute int, loc *time.Location) *DailySchedule {
	if loc == nil {
		loc = time.UTC
	}
	return &DailySchedule{Hour: hour, Minute: minute, Location: loc}
}

// Next returns the next scheduled time.
func (s *DailySchedule) Next(t time.Time) time.Time {
	local := t.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *DailySchedule) String() string {
	return fmt.Sprintf("@daily %02d:%02d %s", s.Hour, s.Minute, s.Location)
}

// WeeklySchedule runs a job once a week on a fixed weekday and time.
type WeeklySchedule struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location
}

// NewWeeklySchedule creates a schedule for the weekday at hour:minute.
func NewWeeklySchedule(weekday time.Weekday, hour, minute int, loc *time.Location) *WeeklySchedule {
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklySchedule{Weekday: weekday, Hour: hour, Minute: minute, Location: loc}
}

// Next returns the next scheduled time.
func (s *WeeklySchedule) Next(t time.Time) time.Time {
	local := t.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Location)

	days := (int(s.Weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(local) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *WeeklySchedule) String() string {
	return fmt.Sprintf("@weekly %s %02d:%02d %s", s.Weekday, s.Hour, s.Minute, s.Location)
}
