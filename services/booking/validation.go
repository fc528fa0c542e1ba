package booking

import (
	"fmt"
	"strings"
	"time"

	"tablebook/models"
	"tablebook/services/availability"
	"tablebook/utils"
)

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// ParseInstant reads an ISO-8601 timestamp. Values without an offset are taken in loc.
func ParseInstant(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

type bookingFields struct {
	Name    string
	People  int
	StartAt time.Time
	EndAt   time.Time
}

// validate enforces the structural booking rules of a tenant. checkAdvance is false when a
// modification leaves the time untouched.
func validate(s models.TenantSettings, f bookingFields, now time.Time, checkAdvance bool) error {
	if strings.TrimSpace(f.Name) == "" {
		return utils.NewValidationError("name is required", "name")
	}
	if f.People < 1 {
		return utils.NewValidationError("people must be at least 1", "people")
	}
	if f.People > s.MaxPeople {
		return utils.NewValidationError(fmt.Sprintf("people must not exceed %d", s.MaxPeople), "people")
	}
	if !f.StartAt.Before(f.EndAt) {
		return utils.NewValidationError("start must precede end", "startAt", "endAt")
	}
	if checkAdvance {
		earliest := now.Add(time.Duration(s.MinAdvanceMinutes) * time.Minute)
		if f.StartAt.Before(earliest) {
			return utils.NewValidationError(fmt.Sprintf("bookings need at least %d minutes notice", s.MinAdvanceMinutes), "startAt")
		}
	}
	if f.EndAt.Sub(f.StartAt) > time.Duration(s.MaxDurationMinutes)*time.Minute {
		return utils.NewValidationError(fmt.Sprintf("duration must not exceed %d minutes", s.MaxDurationMinutes), "endAt")
	}

	dateISO := availability.DateOf(f.StartAt, s.Location)
	if availability.DateOf(f.EndAt.Add(-time.Nanosecond), s.Location) != dateISO {
		return utils.NewValidationError("booking must start and end on the same day", "startAt", "endAt")
	}
	windows, err := availability.WindowsForDate(s, dateISO)
	if err != nil {
		return utils.NewValidationError(err.Error(), "startAt")
	}
	if !availability.Inside(windows, f.StartAt, f.EndAt) {
		return utils.NewValidationError("booking is outside opening hours", "startAt", "endAt")
	}
	return nil
}
