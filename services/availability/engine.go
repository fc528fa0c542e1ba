package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	bookingRepo "tablebook/database/repository/booking"
	"tablebook/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MaxAlternatives bounds the suggestions attached to a failed check.
const MaxAlternatives = 6

var tracer = otel.Tracer("tablebook/services/availability")

// Engine turns opening hours and committed bookings into a capacity grid.
type Engine struct {
	bookings bookingRepo.BookingRepository
	cache    GridCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine wires an Engine. cache and logger may be nil; now defaults to time.Now.
func NewEngine(bookings bookingRepo.BookingRepository, cache GridCache, logger *zap.Logger, now func() time.Time) *Engine {
	if cache == nil {
		cache = noopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{bookings: bookings, cache: cache, logger: logger, now: now}
}

// cell is a slot with its load applied.
type cell struct {
	Start    time.Time
	End      time.Time
	Capacity int
	Used     int
	Left     int
}

// DailyAvailability returns the grid for dateISO, served from cache when the tenant's
// configuration fingerprint still matches.
func (e *Engine) DailyAvailability(ctx context.Context, tenant *models.Tenant, dateISO string) ([]models.AvailabilitySlot, error) {
	ctx, span := tracer.Start(ctx, "availability.DailyAvailability")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("date", dateISO))

	fp := Fingerprint(tenant.Settings, dateISO)
	if slots, ok := e.cache.Get(ctx, tenant.ID, dateISO, fp); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return slots, nil
	}

	gen := e.cache.Generation(ctx, tenant.ID, dateISO)
	cells, err := e.grid(ctx, tenant, dateISO, "")
	if err != nil {
		return nil, err
	}
	slots := toSlots(cells, tenant.Settings.Location)
	e.cache.Set(ctx, tenant.ID, dateISO, fp, gen, slots)
	return slots, nil
}

// Invalidate drops the cached grid of one tenant day.
func (e *Engine) Invalidate(ctx context.Context, tenantID, dateISO string) {
	e.cache.InvalidateDate(ctx, tenantID, dateISO)
}

// InvalidateTenant drops every cached grid of a tenant, e.g. after a configuration change.
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID string) {
	e.cache.InvalidateTenant(ctx, tenantID)
}

// CheckAvailability answers whether in.People fit in [in.StartAt, in.EndAt).
// Authoritative checks and checks excluding a booking bypass the cache.
func (e *Engine) CheckAvailability(ctx context.Context, tenant *models.Tenant, in models.AvailabilityCheckInput) (models.AvailabilityCheckResult, error) {
	ctx, span := tracer.Start(ctx, "availability.CheckAvailability")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.Int("people", in.People),
		attribute.Bool("authoritative", in.Authoritative),
	)

	s := tenant.Settings
	res := models.AvailabilityCheckResult{Capacity: s.Capacity}

	if !in.StartAt.Before(in.EndAt) || in.People <= 0 {
		res.Reason = models.ReasonInvalid
		return res, nil
	}
	if in.StartAt.Before(e.now()) {
		res.Reason = models.ReasonPast
		return res, nil
	}

	dateISO := DateOf(in.StartAt, s.Location)
	cells, err := e.cellsFor(ctx, tenant, dateISO, in)
	if err != nil {
		return res, err
	}
	if len(cells) == 0 {
		res.Reason = models.ReasonClosed
		res.Used = s.Capacity
		return res, nil
	}

	// Every slot the window touches counts, including a partial last one.
	start := alignDown(cells, in.StartAt)
	left, covered := runLeft(cells, start, in.EndAt)
	if !covered {
		left = 0
	}
	res.Left = left
	res.Used = s.Capacity - left

	if covered && left > 0 && left >= in.People {
		res.Available = true
		return res, nil
	}

	if covered {
		res.Reason = models.ReasonCapacity
	} else {
		res.Reason = models.ReasonClosed
	}
	res.Alternatives = e.alternatives(cells, in.StartAt, in.EndAt.Sub(in.StartAt), in.People, s.Location)
	span.SetAttributes(attribute.String("reason", res.Reason), attribute.Int("alternatives", len(res.Alternatives)))
	return res, nil
}

func (e *Engine) cellsFor(ctx context.Context, tenant *models.Tenant, dateISO string, in models.AvailabilityCheckInput) ([]cell, error) {
	if in.Authoritative || in.ExcludeBookingID != "" {
		return e.grid(ctx, tenant, dateISO, in.ExcludeBookingID)
	}
	slots, err := e.DailyAvailability(ctx, tenant, dateISO)
	if err != nil {
		return nil, err
	}
	return fromSlots(slots)
}

// grid computes the loaded grid straight from the booking repository.
func (e *Engine) grid(ctx context.Context, tenant *models.Tenant, dateISO, excludeID string) ([]cell, error) {
	s := tenant.Settings
	windows, err := WindowsForDate(s, dateISO)
	if err != nil {
		return nil, err
	}
	slots := BuildSlots(windows, s.SlotSize())
	if len(slots) == 0 {
		return nil, nil
	}

	turnover := s.Turnover()
	from := slots[0].Start.Add(-turnover)
	to := slots[len(slots)-1].End
	bookings, err := e.bookings.FindOverlapping(ctx, tenant.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bookings for %s: %w", dateISO, err)
	}

	cells := make([]cell, len(slots))
	for i, slot := range slots {
		used := 0
		for _, b := range bookings {
			if b.ID == excludeID || !b.IsConfirmed() {
				continue
			}
			// Turnover extends occupancy after the end only.
			if b.StartAt.Before(slot.End) && b.EndAt.Add(turnover).After(slot.Start) {
				used += b.People
			}
		}
		cells[i] = cell{Start: slot.Start, End: slot.End, Capacity: s.Capacity, Used: used, Left: max(s.Capacity-used, 0)}
	}
	e.logger.Debug("grid computed",
		zap.String("tenantID", tenant.ID),
		zap.String("date", dateISO),
		zap.Int("slots", len(cells)),
		zap.Int("bookings", len(bookings)),
		zap.String("exclude", excludeID),
	)
	return cells, nil
}

// alternatives scans every slot start for a fully available run of the same duration.
// Candidates start on slot boundaries, so [start, start+duration) spans every slot they touch.
func (e *Engine) alternatives(cells []cell, requested time.Time, duration time.Duration, people int, loc *time.Location) []models.AlternativeSuggestion {
	type candidate struct {
		idx   int
		start time.Time
		left  int
	}
	now := e.now()
	var found []candidate
	for i, c := range cells {
		if c.Start.Equal(requested) || c.Start.Before(now) {
			continue
		}
		left, covered := runLeft(cells, c.Start, c.Start.Add(duration))
		if covered && left > 0 && left >= people {
			found = append(found, candidate{idx: i, start: c.Start, left: left})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		di, dj := absDuration(found[i].start.Sub(requested)), absDuration(found[j].start.Sub(requested))
		if di != dj {
			return di < dj
		}
		return found[i].idx < found[j].idx
	})
	if len(found) > MaxAlternatives {
		found = found[:MaxAlternatives]
	}

	out := make([]models.AlternativeSuggestion, 0, len(found))
	for i, c := range found {
		reason := models.AlternativeShiftLater
		switch {
		case i == 0:
			reason = models.AlternativeClosest
		case c.start.Before(requested):
			reason = models.AlternativeShiftEarlier
		}
		out = append(out, models.AlternativeSuggestion{
			Start:  c.start.In(loc).Format(time.RFC3339),
			End:    c.start.Add(duration).In(loc).Format(time.RFC3339),
			Left:   c.left,
			Reason: reason,
		})
	}
	return out
}

// alignDown returns the start of the slot containing t, or t itself when no slot does.
func alignDown(cells []cell, t time.Time) time.Time {
	for _, c := range cells {
		if !t.Before(c.Start) && t.Before(c.End) {
			return c.Start
		}
	}
	return t
}

// runLeft walks the contiguous slots covering [start, end) and returns the tightest left.
// covered is false when start is not a slot boundary or the run has a gap or falls short.
func runLeft(cells []cell, start, end time.Time) (left int, covered bool) {
	first := -1
	for i, c := range cells {
		if c.Start.Equal(start) {
			first = i
			break
		}
	}
	if first < 0 {
		return 0, false
	}
	left = cells[first].Left
	reached := cells[first].End
	for j := first + 1; reached.Before(end); j++ {
		if j >= len(cells) || !cells[j].Start.Equal(reached) {
			return 0, false
		}
		left = min(left, cells[j].Left)
		reached = cells[j].End
	}
	return left, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func toSlots(cells []cell, loc *time.Location) []models.AvailabilitySlot {
	slots := make([]models.AvailabilitySlot, len(cells))
	for i, c := range cells {
		slots[i] = models.AvailabilitySlot{
			Start:     c.Start.In(loc).Format(time.RFC3339),
			End:       c.End.In(loc).Format(time.RFC3339),
			Capacity:  c.Capacity,
			Used:      c.Used,
			Left:      c.Left,
			Available: c.Left > 0,
		}
	}
	return slots
}

func fromSlots(slots []models.AvailabilitySlot) ([]cell, error) {
	cells := make([]cell, len(slots))
	for i, s := range slots {
		start, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			return nil, fmt.Errorf("cached slot start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, s.End)
		if err != nil {
			return nil, fmt.Errorf("cached slot end: %w", err)
		}
		cells[i] = cell{Start: start, End: end, Capacity: s.Capacity, Used: s.Used, Left: s.Left}
	}
	return cells, nil
}

// Fingerprint identifies the configuration a cached grid was computed from.
func Fingerprint(s models.TenantSettings, dateISO string) string {
	h := fnv.New64a()
	hours, _ := json.Marshal(s.OpeningHours)
	_, _ = h.Write(hours)
	if override, ok := s.SpecialDays[dateISO]; ok {
		_, _ = fmt.Fprintf(h, "|%v|%v", override.Closed, override.Ranges)
	}
	return fmt.Sprintf("c%d:s%d:d%d:t%d:%s:%x",
		s.Capacity, s.SlotSizeMinutes, s.AvgDiningMinutes, s.TurnoverMinutes, s.Timezone, h.Sum64())
}
