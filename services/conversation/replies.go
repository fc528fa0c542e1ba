package conversation

import (
	"fmt"
	"strings"
	"time"

	"tablebook/models"
)

var cannedReplies = map[string]string{
	KeyTimeoutReset:      "The request expired before it was confirmed. Let's start again whenever you are ready.",
	KeyResetOK:           "Done, we can start over.",
	KeyCancelledOK:       "No problem, nothing was changed.",
	KeyNothingToConfirm:  "There is nothing waiting for confirmation.",
	KeyNLUMissing:        "Sorry, I could not read that message.",
	KeyAskClarifyLowConf: "I am not sure I understood. Could you rephrase?",
	KeyAskClarify:        "How can I help? You can book, change or cancel a table.",
	KeyMissingFields:     "Some details are missing.",
	KeyActionOK:          "All set.",
	KeyActionFailed:      "That did not work.",
}

var fieldLabels = map[string]string{
	"name":       "the name for the booking",
	"people":     "how many people",
	"dateISO":    "the date",
	"timeISO":    "the time",
	"bookingRef": "the booking reference",
}

// Reply renders the user-facing text of an effect. Commit effects have no text of their own.
func Reply(e Effect, loc *time.Location) string {
	switch e.Type {
	case EffectRespondText:
		text := cannedReplies[e.Key]
		if len(e.Fields) > 0 {
			text += " Please tell me " + labels(e.Fields) + "."
		}
		if e.Result != nil {
			text = resultReply(text, e.Result, loc)
		}
		return text
	case EffectAskMissing:
		return "Please tell me " + labels(e.Fields) + "."
	case EffectProposeBooking:
		if e.Proposal == nil {
			return ""
		}
		return proposalReply(*e.Proposal) + " Shall I go ahead? (yes/no)"
	}
	return ""
}

func labels(fields []string) string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if l, ok := fieldLabels[f]; ok {
			out = append(out, l)
		} else {
			out = append(out, f)
		}
	}
	return strings.Join(out, ", ")
}

func proposalReply(p models.BookingProposal) string {
	when := p.DateISO
	switch {
	case p.TimeISO != "":
		when += " at " + proposalClock(p)
	case p.PartOfDay != "":
		when += " (" + NormalizePartOfDay(p.PartOfDay) + ")"
	}
	switch {
	case p.BookingRef != "" && p.DateISO == "":
		return fmt.Sprintf("Cancel booking %s?", p.BookingRef)
	case p.BookingRef != "":
		return fmt.Sprintf("Move booking %s to %s?", p.BookingRef, when)
	}
	return fmt.Sprintf("A table for %d under %s on %s.", p.People, p.Name, when)
}

func resultReply(text string, r *ActionResult, loc *time.Location) string {
	if r.Message != "" {
		text += " " + r.Message
	}
	if len(r.Alternatives) == 0 {
		return text
	}
	times := make([]string, 0, len(r.Alternatives))
	for _, alt := range r.Alternatives {
		if t, err := time.Parse(time.RFC3339, alt.Start); err == nil {
			if loc != nil {
				t = t.In(loc)
			}
			times = append(times, t.Format("15:04"))
		}
	}
	return text + " Available instead: " + strings.Join(times, ", ") + "."
}

// ListReply renders a user's bookings.
func ListReply(bookings []models.Booking, loc *time.Location) string {
	var lines []string
	for _, b := range bookings {
		if !b.IsConfirmed() {
			continue
		}
		start := b.StartAt
		if loc != nil {
			start = start.In(loc)
		}
		lines = append(lines, fmt.Sprintf("%s: %s, %d people, ref %s", start.Format("2006-01-02 15:04"), b.Name, b.People, b.ID))
	}
	if len(lines) == 0 {
		return "You have no bookings."
	}
	return "Your bookings:\n" + strings.Join(lines, "\n")
}
