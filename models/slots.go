package models

import "time"

// Reasons an availability check can fail.
const (
	ReasonInvalid  = "invalid"
	ReasonPast     = "past"
	ReasonClosed   = "closed"
	ReasonCapacity = "capacity"
)

// Alternative tags.
const (
	AlternativeClosest      = "closest"
	AlternativeShiftEarlier = "shift_earlier"
	AlternativeShiftLater   = "shift_later"
)

// AvailabilitySlot is one cell of the daily capacity grid. Timestamps are ISO-8601 in the tenant timezone.
type AvailabilitySlot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Capacity  int    `json:"capacity"`
	Used      int    `json:"used"`
	Left      int    `json:"left"`
	Available bool   `json:"available"`
}

// AvailabilityCheckInput asks whether People can be seated in [StartAt, EndAt).
type AvailabilityCheckInput struct {
	TenantID string    `json:"tenantId"`
	StartAt  time.Time `json:"startAt"`
	EndAt    time.Time `json:"endAt"`
	People   int       `json:"people"`

	// ExcludeBookingID removes one booking's own contribution from the load.
	ExcludeBookingID string `json:"-"`
	// Authoritative bypasses the grid cache and reads committed bookings directly.
	Authoritative bool `json:"-"`
}

// AvailabilityCheckResult answers an AvailabilityCheckInput.
type AvailabilityCheckResult struct {
	Available    bool                    `json:"available"`
	Capacity     int                     `json:"capacity"`
	Used         int                     `json:"used"`
	Left         int                     `json:"left"`
	Reason       string                  `json:"reason,omitempty"`
	Alternatives []AlternativeSuggestion `json:"alternatives,omitempty"`
}

// AlternativeSuggestion proposes another start for the same duration and party size.
type AlternativeSuggestion struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Left   int    `json:"left"`
	Reason string `json:"reason"`
}
