package timecalc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // reference zone must resolve without system zoneinfo

	"github.com/google/uuid"
)

const (
	// DateLayout is the calendar-date format used for work dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the wall-clock format used for start and end times.
	ClockLayout = "15:04"
	// MonthLayout is the format of month keys (cache partitions, --month flags).
	MonthLayout = "2006-01"

	minutesPerDay = 24 * 60
)

// DefaultTimezone is the reference zone used to decide what "today" is.
const DefaultTimezone = "Europe/Copenhagen"

// GenerateID creates an identifier of the form <prefix>_<unix millis>_<random>.
// Uniqueness is probabilistic.
func GenerateID(prefix string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, t.UnixMilli(), suffix)
}

// TimeToMinutes converts "HH:MM" (or "HH:MM:SS", seconds ignored) to minutes
// since midnight.
func TimeToMinutes(hm string) (int, error) {
	parts := strings.Split(strings.TrimSpace(hm), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", hm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hm)
	}
	return h*60 + m, nil
}

// MinutesToTime formats minutes since midnight as HH:MM. Values outside a
// single day wrap around, so 1440 becomes "00:00".
func MinutesToTime(minutes int) string {
	minutes %= minutesPerDay
	if minutes < 0 {
		minutes += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeClock parses a clock string and re-formats it as HH:MM.
func NormalizeClock(hm string) (string, error) {
	m, err := TimeToMinutes(hm)
	if err != nil {
		return "", err
	}
	return MinutesToTime(m), nil
}

// RoundTo rounds minutes to the nearest multiple of step. Exact halves round
// up. A step of zero leaves the value unchanged.
func RoundTo(minutes, step int) int {
	if step <= 0 {
		return minutes
	}
	return (minutes + step/2) / step * step
}

// RoundTimeString rounds an HH:MM string to the nearest step.
func RoundTimeString(hm string, step int) (string, error) {
	m, err := TimeToMinutes(hm)
	if err != nil {
		return "", err
	}
	if step <= 0 {
		return MinutesToTime(m), nil
	}
	return MinutesToTime(RoundTo(m, step)), nil
}

// TotalMinutes returns the length of the span start..end. An end before the
// start is taken to be on the following day.
func TotalMinutes(start, end string) (int, error) {
	s, err := TimeToMinutes(start)
	if err != nil {
		return 0, err
	}
	e, err := TimeToMinutes(end)
	if err != nil {
		return 0, err
	}
	total := e - s
	if total < 0 {
		total += minutesPerDay
	}
	return total, nil
}

// LoadLocation resolves an IANA zone name, falling back to DefaultTimezone
// for an empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}

// Today returns the calendar date of t in loc.
func Today(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ClockTime returns the wall-clock HH:MM of t in loc.
func ClockTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(ClockLayout)
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// MonthKey returns the YYYY-MM month a work date belongs to.
func MonthKey(date string) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.Format(MonthLayout), nil
}

// MonthRange returns the first and last calendar date of month (YYYY-MM).
func MonthRange(month string) (string, string, error) {
	first, err := time.Parse(MonthLayout, month)
	if err != nil {
		return "", "", fmt.Errorf("invalid month %q: want YYYY-MM", month)
	}
	last := first.AddDate(0, 1, -1)
	return first.Format(DateLayout), last.Format(DateLayout), nil
}

// Period is a half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// FirstDate is the calendar date of the period start.
func (p Period) FirstDate() string { return p.Start.Format(DateLayout) }

// LastDate is the last calendar date touched by the period.
func (p Period) LastDate() string {
	return p.End.Add(-time.Nanosecond).Format(DateLayout)
}

// Label formats the period as "2026-01-15 – 2026-02-14".
func (p Period) Label() string {
	return p.FirstDate() + " – " + p.LastDate()
}

// CurrentPeriod returns the rollover period containing now. Each period
// begins on rolloverDay at rolloverHour; a day past the end of a short month
// clamps to that month's last day.
func CurrentPeriod(now time.Time, rolloverDay, rolloverHour int) Period {
	loc := now.Location()
	boundary := func(year int, month time.Month) time.Time {
		day := rolloverDay
		if last := daysIn(year, month, loc); day > last {
			day = last
		}
		if day < 1 {
			day = 1
		}
		return time.Date(year, month, day, rolloverHour, 0, 0, 0, loc)
	}

	y, m, _ := now.Date()
	this := boundary(y, m)
	if !now.Before(this) {
		ny, nm, _ := time.Date(y, m+1, 1, 0, 0, 0, 0, loc).Date()
		return Period{Start: this, End: boundary(ny, nm)}
	}
	py, pm, _ := time.Date(y, m-1, 1, 0, 0, 0, 0, loc).Date()
	return Period{Start: boundary(py, pm), End: this}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// FormatDuration formats minutes as a human-readable string like "1h 40m" or "45m".
func FormatDuration(minutes int) string {
	h := minutes / 60
	m := minutes % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// FormatHours formats minutes as decimal hours with two digits, e.g. "7.75".
func FormatHours(minutes int) string {
	return fmt.Sprintf("%.2f", float64(minutes)/60)
}
