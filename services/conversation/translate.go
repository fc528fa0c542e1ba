package conversation

import (
	"fmt"
	"strings"
	"time"

	"tablebook/models"
	"tablebook/services/availability"
)

var partOfDayStart = map[string]string{
	models.PartMorning:   "12:00",
	models.PartAfternoon: "13:00",
	models.PartEvening:   "20:00",
	models.PartNight:     "22:00",
}

const defaultStartClock = "20:00"

// ProposalWindow turns a proposal's date and time hints into a concrete booking window
// lasting the tenant's average dining time.
func ProposalWindow(p models.BookingProposal, settings models.TenantSettings) (time.Time, time.Time, error) {
	day, err := availability.ParseDate(p.DateISO, settings.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("proposal date %q: %w", p.DateISO, err)
	}
	clock := proposalClock(p)
	start, ok := availability.ClockOn(day, clock)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("proposal time %q is not HH:mm", clock)
	}
	return start, start.Add(time.Duration(settings.AvgDiningMinutes) * time.Minute), nil
}

func proposalClock(p models.BookingProposal) string {
	if t := strings.TrimSpace(p.TimeISO); t != "" {
		// Accept "20:30", "20:30:00" and full timestamps such as "2030-06-04T20:30".
		if i := strings.IndexByte(t, 'T'); i >= 0 {
			t = t[i+1:]
		}
		if len(t) >= 5 {
			return t[:5]
		}
		return t
	}
	if clock, ok := partOfDayStart[NormalizePartOfDay(p.PartOfDay)]; ok {
		return clock
	}
	return defaultStartClock
}
