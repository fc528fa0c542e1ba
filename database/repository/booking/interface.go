package bookingRepo

import (
	"context"
	"errors"
	"time"

	"tablebook/models"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrVersionConflict = errors.New("booking version conflict")
	ErrDuplicateID     = errors.New("booking id already exists")
)

// BookingRepository persists bookings. Every query is tenant-scoped.
type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, tenantID, id string) (*models.Booking, error)
	FindByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error)
	// FindOverlapping returns confirmed bookings with StartAt < to and EndAt > from.
	FindOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]models.Booking, error)
	// UpdateVersioned applies patch only if the stored version equals expectedVersion,
	// bumping the version by one. A mismatch yields ErrVersionConflict.
	UpdateVersioned(ctx context.Context, tenantID, id string, patch models.BookingPatch, expectedVersion int, now time.Time) (*models.Booking, error)
	// Cancel marks the booking cancelled and bumps its version regardless of the current one.
	Cancel(ctx context.Context, tenantID, id string, now time.Time) (*models.Booking, error)
}

func applyPatch(b *models.Booking, patch models.BookingPatch) {
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.People != nil {
		b.People = *patch.People
	}
	if patch.StartAt != nil {
		b.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		b.EndAt = *patch.EndAt
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
}
