package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingRepo "tablebook/database/repository/booking"
	tenantRepo "tablebook/database/repository/tenant"
	"tablebook/models"
	"tablebook/services/availability"
	"tablebook/services/events"
	"tablebook/services/locks"
	"tablebook/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("tablebook/services/booking")

// DefaultLockTimeout bounds the wait for a tenant-day critical section.
const DefaultLockTimeout = 5 * time.Second

// BookingManager creates, modifies and cancels reservations with a two-phase
// check-then-commit: an advisory pre-check, then an authoritative recheck and write
// inside a critical section scoped to (tenant, day).
type BookingManager struct {
	Tenants      tenantRepo.TenantRepository
	Bookings     bookingRepo.BookingRepository
	Availability *availability.Engine
	Locker       locks.Locker
	Events       events.Publisher
	Logger       *zap.Logger
	Now          func() time.Time
	LockTimeout  time.Duration
}

// NewBookingManager wires a BookingManager, filling optional collaborators.
func NewBookingManager(
	tenants tenantRepo.TenantRepository,
	bookings bookingRepo.BookingRepository,
	engine *availability.Engine,
	locker locks.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
	now func() time.Time,
) *BookingManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	if now == nil {
		now = time.Now
	}
	return &BookingManager{
		Tenants:      tenants,
		Bookings:     bookings,
		Availability: engine,
		Locker:       locker,
		Events:       publisher,
		Logger:       logger,
		Now:          now,
		LockTimeout:  DefaultLockTimeout,
	}
}

// LockKey names the critical section of one tenant day.
func LockKey(tenantID, dateISO string) string {
	return fmt.Sprintf("avail:%s:%s", tenantID, dateISO)
}

// CreateBooking validates, pre-checks, and commits a new booking under the tenant-day lock.
func (m *BookingManager) CreateBooking(ctx context.Context, dto models.CreateBookingDTO) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Create")
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("tenant.id", dto.TenantID), attribute.Int("people", dto.People))

	tenant, err := m.tenant(ctx, dto.TenantID)
	if err != nil {
		return nil, err
	}
	loc := tenant.Settings.Location

	// Step 1: structural validation
	startAt, errStart := ParseInstant(dto.StartAtISO, loc)
	endAt, errEnd := ParseInstant(dto.EndAtISO, loc)
	if errStart != nil || errEnd != nil {
		return nil, utils.NewValidationError("startAt and endAt must be ISO-8601 timestamps", "startAt", "endAt")
	}
	fields := bookingFields{Name: dto.Name, People: dto.People, StartAt: startAt, EndAt: endAt}
	now := m.Now()
	if err := validate(tenant.Settings, fields, now, true); err != nil {
		return nil, err
	}

	// Step 2: optimistic pre-check, no lock
	check := models.AvailabilityCheckInput{TenantID: tenant.ID, StartAt: startAt, EndAt: endAt, People: dto.People}
	pre, err := m.Availability.CheckAvailability(ctx, tenant, check)
	if err != nil {
		return nil, fmt.Errorf("availability pre-check: %w", err)
	}
	if !pre.Available {
		m.Logger.Info("booking rejected by pre-check",
			zap.String("tenantID", tenant.ID), zap.String("reason", pre.Reason), zap.Int("people", dto.People))
		return nil, rejection(pre, "requested time is not available")
	}

	dateISO := availability.DateOf(startAt, loc)
	booking := &models.Booking{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		UserPhone: dto.UserPhone,
		Name:      dto.Name,
		People:    dto.People,
		StartAt:   startAt,
		EndAt:     endAt,
		Status:    models.BookingConfirmed,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Steps 3-5: authoritative recheck and insert inside the tenant-day section
	err = m.withDayLock(ctx, tenant.ID, dateISO, func(ctx context.Context) error {
		check.Authoritative = true
		res, err := m.Availability.CheckAvailability(ctx, tenant, check)
		if err != nil {
			return fmt.Errorf("availability recheck: %w", err)
		}
		if !res.Available {
			return m.lostRace(ctx, tenant.ID, "", res)
		}
		if err := m.Bookings.Create(ctx, booking); err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Availability.Invalidate(ctx, tenant.ID, dateISO)

	// Step 6: observability
	m.Logger.Info("booking created",
		zap.String("tenantID", tenant.ID), zap.String("bookingID", booking.ID),
		zap.String("date", dateISO), zap.Int("people", booking.People))
	m.publish(ctx, events.BookingCreated, booking, map[string]any{
		"people":  booking.People,
		"startAt": booking.StartAt,
		"endAt":   booking.EndAt,
	})
	return booking, nil
}

// ModifyBooking merges dto.Patch into the stored booking and applies it under optimistic
// versioning. Capacity is rechecked only when people or time change, excluding the
// booking's own load.
func (m *BookingManager) ModifyBooking(ctx context.Context, dto models.ModifyBookingDTO) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Modify")
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("tenant.id", dto.TenantID), attribute.String("booking.id", dto.ID))

	tenant, err := m.tenant(ctx, dto.TenantID)
	if err != nil {
		return nil, err
	}
	existing, err := m.booking(ctx, tenant.ID, dto.ID)
	if err != nil {
		return nil, err
	}
	if !existing.IsConfirmed() {
		return nil, utils.NewBusinessRuleError("booking_cancelled", "a cancelled booking cannot be modified")
	}

	patch, err := toPatch(dto.Patch, tenant.Settings.Location)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return existing, nil
	}

	merged := *existing
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.People != nil {
		merged.People = *patch.People
	}
	if patch.StartAt != nil {
		merged.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		merged.EndAt = *patch.EndAt
	}

	timeChanged := !merged.StartAt.Equal(existing.StartAt) || !merged.EndAt.Equal(existing.EndAt)
	loadChanged := timeChanged || merged.People != existing.People
	cancelling := patch.Status != nil && *patch.Status == models.BookingCancelled

	if !cancelling {
		fields := bookingFields{Name: merged.Name, People: merged.People, StartAt: merged.StartAt, EndAt: merged.EndAt}
		if err := validate(tenant.Settings, fields, m.Now(), timeChanged); err != nil {
			return nil, err
		}
	}

	expected := existing.Version
	if dto.ExpectedVersion != nil {
		expected = *dto.ExpectedVersion
	}

	loc := tenant.Settings.Location
	oldDate := availability.DateOf(existing.StartAt, loc)
	newDate := availability.DateOf(merged.StartAt, loc)

	var updated *models.Booking
	commit := func(ctx context.Context) error {
		b, err := m.Bookings.UpdateVersioned(ctx, tenant.ID, existing.ID, patch, expected, m.Now())
		if err != nil {
			return m.translateRepoErr(err, existing.ID, expected)
		}
		updated = b
		return nil
	}

	if loadChanged && !cancelling {
		err = m.recheckAndCommit(ctx, tenant, existing.ID, merged, newDate, commit)
	} else {
		err = commit(ctx)
	}
	if err != nil {
		return nil, err
	}

	m.Availability.Invalidate(ctx, tenant.ID, oldDate)
	if newDate != oldDate {
		m.Availability.Invalidate(ctx, tenant.ID, newDate)
	}

	m.Logger.Info("booking modified",
		zap.String("tenantID", tenant.ID), zap.String("bookingID", updated.ID),
		zap.Int("version", updated.Version), zap.Bool("loadChanged", loadChanged))
	evType := events.BookingModified
	if cancelling {
		evType = events.BookingCancelled
	}
	m.publish(ctx, evType, updated, map[string]any{"version": updated.Version, "previousVersion": existing.Version})
	return updated, nil
}

// CancelBooking flips a booking to cancelled. The version is bumped without an
// expected-version check: the last cancel wins.
func (m *BookingManager) CancelBooking(ctx context.Context, tenantID, id string) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Cancel")
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("booking.id", id))

	tenant, err := m.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := m.booking(ctx, tenant.ID, id); err != nil {
		return nil, err
	}
	cancelled, err := m.Bookings.Cancel(ctx, tenant.ID, id, m.Now())
	if err != nil {
		return nil, m.translateRepoErr(err, id, 0)
	}
	dateISO := availability.DateOf(cancelled.StartAt, tenant.Settings.Location)
	m.Availability.Invalidate(ctx, tenant.ID, dateISO)

	m.Logger.Info("booking cancelled", zap.String("tenantID", tenant.ID), zap.String("bookingID", id), zap.String("date", dateISO))
	m.publish(ctx, events.BookingCancelled, cancelled, map[string]any{"version": cancelled.Version})
	return cancelled, nil
}

// GetBookingByID returns one booking of the tenant.
func (m *BookingManager) GetBookingByID(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	return m.booking(ctx, tenantID, id)
}

// GetBookingsByUser lists a guest's bookings, newest start first.
func (m *BookingManager) GetBookingsByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error) {
	if userPhone == "" {
		return nil, utils.NewValidationError("userPhone is required", "userPhone")
	}
	bookings, err := m.Bookings.FindByUser(ctx, tenantID, userPhone)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// DailyAvailability exposes the cached grid of a tenant day.
func (m *BookingManager) DailyAvailability(ctx context.Context, tenantID, dateISO string) ([]models.AvailabilitySlot, error) {
	tenant, err := m.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := availability.ParseDate(dateISO, tenant.Settings.Location); err != nil {
		return nil, utils.NewValidationError(err.Error(), "date")
	}
	return m.Availability.DailyAvailability(ctx, tenant, dateISO)
}

// CheckAvailability runs an advisory check for a tenant.
func (m *BookingManager) CheckAvailability(ctx context.Context, in models.AvailabilityCheckInput) (models.AvailabilityCheckResult, error) {
	tenant, err := m.tenant(ctx, in.TenantID)
	if err != nil {
		return models.AvailabilityCheckResult{}, err
	}
	return m.Availability.CheckAvailability(ctx, tenant, in)
}

// Tenant returns the resolved tenant or a NotFoundError.
func (m *BookingManager) Tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return m.tenant(ctx, tenantID)
}

// recheckAndCommit runs the two-phase check for the merged booking, excluding its own load.
func (m *BookingManager) recheckAndCommit(ctx context.Context, tenant *models.Tenant, bookingID string, merged models.Booking, dateISO string, commit func(context.Context) error) error {
	check := models.AvailabilityCheckInput{
		TenantID:         tenant.ID,
		StartAt:          merged.StartAt,
		EndAt:            merged.EndAt,
		People:           merged.People,
		ExcludeBookingID: bookingID,
	}
	pre, err := m.Availability.CheckAvailability(ctx, tenant, check)
	if err != nil {
		return fmt.Errorf("availability pre-check: %w", err)
	}
	if !pre.Available {
		return rejection(pre, "requested change is not available")
	}
	return m.withDayLock(ctx, tenant.ID, dateISO, func(ctx context.Context) error {
		check.Authoritative = true
		res, err := m.Availability.CheckAvailability(ctx, tenant, check)
		if err != nil {
			return fmt.Errorf("availability recheck: %w", err)
		}
		if !res.Available {
			return m.lostRace(ctx, tenant.ID, bookingID, res)
		}
		return commit(ctx)
	})
}

func (m *BookingManager) withDayLock(ctx context.Context, tenantID, dateISO string, fn func(ctx context.Context) error) error {
	key := LockKey(tenantID, dateISO)
	lockCtx, cancel := context.WithTimeout(ctx, m.LockTimeout)
	defer cancel()

	release, err := m.Locker.Acquire(lockCtx, key)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer release()
	return fn(ctx)
}

// lostRace reports a capacity failure detected after the lock was taken.
func (m *BookingManager) lostRace(ctx context.Context, tenantID, bookingID string, res models.AvailabilityCheckResult) error {
	m.Logger.Warn("capacity conflict inside critical section",
		zap.String("tenantID", tenantID), zap.String("reason", res.Reason), zap.Int("left", res.Left))
	m.publish(ctx, events.BookingConflict, &models.Booking{ID: bookingID, TenantID: tenantID}, map[string]any{
		"reason": res.Reason,
		"left":   res.Left,
	})
	return &utils.ConflictError{
		Kind:    utils.ConflictCapacity,
		Message: "capacity no longer available",
		Data:    utils.ConflictData{Reason: res.Reason, Alternatives: res.Alternatives},
	}
}

func (m *BookingManager) translateRepoErr(err error, id string, expected int) error {
	switch {
	case errors.Is(err, bookingRepo.ErrBookingNotFound):
		return &utils.NotFoundError{Entity: "booking", ID: id}
	case errors.Is(err, bookingRepo.ErrVersionConflict):
		return &utils.ConflictError{
			Kind:    utils.ConflictVersion,
			Message: fmt.Sprintf("booking %s was modified concurrently (expected version %d)", id, expected),
			Data:    utils.ConflictData{Reason: utils.ConflictVersion},
		}
	default:
		return fmt.Errorf("booking %s: %w", id, err)
	}
}

func (m *BookingManager) tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tenant, err := m.Tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenantRepo.ErrTenantNotFound) {
			return nil, &utils.NotFoundError{Entity: "tenant", ID: tenantID}
		}
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

func (m *BookingManager) booking(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	b, err := m.Bookings.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, m.translateRepoErr(err, id, 0)
	}
	return b, nil
}

func (m *BookingManager) publish(ctx context.Context, typ string, b *models.Booking, data map[string]any) {
	ev := events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		TenantID:  b.TenantID,
		BookingID: b.ID,
		At:        m.Now(),
		Data:      data,
	}
	if err := m.Events.Publish(ctx, ev); err != nil {
		m.Logger.Warn("event publish failed", zap.String("event", typ), zap.String("bookingID", b.ID), zap.Error(err))
	}
}

// rejection converts a failed pre-check into the caller-facing error.
func rejection(res models.AvailabilityCheckResult, msg string) error {
	if res.Reason == models.ReasonCapacity {
		return &utils.ConflictError{
			Kind:    utils.ConflictCapacity,
			Message: msg,
			Data:    utils.ConflictData{Reason: res.Reason, Alternatives: res.Alternatives},
		}
	}
	if res.Reason == models.ReasonInvalid {
		return utils.NewValidationError(msg, "startAt", "endAt")
	}
	return utils.NewBusinessRuleError(res.Reason, msg)
}

func toPatch(p models.ModifyBookingPatch, loc *time.Location) (models.BookingPatch, error) {
	patch := models.BookingPatch{Name: p.Name, People: p.People}
	if p.StartAtISO != nil {
		t, err := ParseInstant(*p.StartAtISO, loc)
		if err != nil {
			return patch, utils.NewValidationError(err.Error(), "startAt")
		}
		patch.StartAt = &t
	}
	if p.EndAtISO != nil {
		t, err := ParseInstant(*p.EndAtISO, loc)
		if err != nil {
			return patch, utils.NewValidationError(err.Error(), "endAt")
		}
		patch.EndAt = &t
	}
	if p.Status != nil {
		if *p.Status != models.BookingConfirmed && *p.Status != models.BookingCancelled {
			return patch, utils.NewValidationError(fmt.Sprintf("unknown status %q", *p.Status), "status")
		}
		patch.Status = p.Status
	}
	return patch, nil
}

func endSpan(span trace.Span, errp *error) {
	if *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
