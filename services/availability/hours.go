package availability

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tablebook/models"
)

// DateLayout is the calendar-day format used across the service.
const DateLayout = "2006-01-02"

// Window is one open interval of a day.
type Window struct {
	Start time.Time
	End   time.Time
}

var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey returns the openingHours key for t.
func WeekdayKey(t time.Time) string {
	return weekdayKeys[t.Weekday()]
}

// ParseDate reads a calendar day in loc.
func ParseDate(dateISO string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, dateISO, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", dateISO, err)
	}
	return day, nil
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// WindowsForDate resolves the open windows of dateISO. A special-day override replaces
// the weekly template entirely; a closed override yields no windows.
func WindowsForDate(s models.TenantSettings, dateISO string) ([]Window, error) {
	day, err := ParseDate(dateISO, s.Location)
	if err != nil {
		return nil, err
	}

	ranges := s.OpeningHours[WeekdayKey(day)]
	if override, ok := s.SpecialDays[dateISO]; ok {
		if override.Closed {
			return nil, nil
		}
		ranges = override.Ranges
	}

	windows := make([]Window, 0, len(ranges))
	for _, r := range ranges {
		w, ok := parseRange(day, r)
		if !ok {
			continue
		}
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	return windows, nil
}

// parseRange reads "HH:mm-HH:mm" on day. Malformed or inverted ranges are rejected.
func parseRange(day time.Time, r string) (Window, bool) {
	from, to, found := strings.Cut(strings.TrimSpace(r), "-")
	if !found {
		return Window{}, false
	}
	start, ok := ClockOn(day, from)
	if !ok {
		return Window{}, false
	}
	end, ok := ClockOn(day, to)
	if !ok || !end.After(start) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// ClockOn places an "HH:mm" wall-clock time on day in day's location.
func ClockOn(day time.Time, hhmm string) (time.Time, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), true
}

// Inside reports whether [start, end) lies entirely within one window.
func Inside(windows []Window, start, end time.Time) bool {
	for _, w := range windows {
		if !start.Before(w.Start) && !end.After(w.End) {
			return true
		}
	}
	return false
}
