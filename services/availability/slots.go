package availability

import "time"

// Slot is one grid cell before any booking load is applied.
type Slot struct {
	Start time.Time
	End   time.Time
}

// BuildSlots slices every window into slotSize cells from its start. A trailing
// partial cell is dropped, so slots never cross a window boundary.
func BuildSlots(windows []Window, slotSize time.Duration) []Slot {
	if slotSize <= 0 {
		return nil
	}
	var slots []Slot
	for _, w := range windows {
		for t := w.Start; !t.Add(slotSize).After(w.End); t = t.Add(slotSize) {
			slots = append(slots, Slot{Start: t, End: t.Add(slotSize)})
		}
	}
	return slots
}
