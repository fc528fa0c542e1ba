package bookingRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"tablebook/models"
)

// MemoryBookingRepo keeps bookings in process. Used by tests and BOOKING_STORE=memory.
type MemoryBookingRepo struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
}

func NewMemoryBookingRepo() *MemoryBookingRepo {
	return &MemoryBookingRepo{bookings: make(map[string]models.Booking)}
}

func (r *MemoryBookingRepo) Create(_ context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bookings[booking.ID]; exists {
		return ErrDuplicateID
	}
	r.bookings[booking.ID] = *booking
	return nil
}

func (r *MemoryBookingRepo) FindByID(_ context.Context, tenantID, id string) (*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryBookingRepo) FindByUser(_ context.Context, tenantID, userPhone string) ([]models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.TenantID == tenantID && b.UserPhone == userPhone {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	return out, nil
}

func (r *MemoryBookingRepo) FindOverlapping(_ context.Context, tenantID string, from, to time.Time) ([]models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.TenantID != tenantID || !b.IsConfirmed() {
			continue
		}
		if b.StartAt.Before(to) && b.EndAt.After(from) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (r *MemoryBookingRepo) UpdateVersioned(_ context.Context, tenantID, id string, patch models.BookingPatch, expectedVersion int, now time.Time) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, ErrBookingNotFound
	}
	if b.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	applyPatch(&b, patch)
	b.Version++
	b.UpdatedAt = now
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryBookingRepo) Cancel(_ context.Context, tenantID, id string, now time.Time) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, ErrBookingNotFound
	}
	b.Status = models.BookingCancelled
	b.Version++
	b.UpdatedAt = now
	r.bookings[id] = b
	return &b, nil
}
