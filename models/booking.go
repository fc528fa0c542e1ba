package models

import "time"

const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking represents a reservation held by a tenant.
type Booking struct {
	ID        string    `bson:"id" json:"id"`                                    // Unique booking identifier (UUID)
	TenantID  string    `bson:"tenant_id" json:"tenantId"`                       // Tenant owning the booking
	UserPhone string    `bson:"user_phone,omitempty" json:"userPhone,omitempty"` // Phone of the guest who booked, if known
	Name      string    `bson:"name" json:"name"`                                // Name the table is held under
	People    int       `bson:"people" json:"people"`                            // Seats consumed
	StartAt   time.Time `bson:"start_at" json:"startAt"`                         // Absolute start instant
	EndAt     time.Time `bson:"end_at" json:"endAt"`                             // Absolute end instant
	Status    string    `bson:"status" json:"status"`                            // "confirmed" or "cancelled"
	Version   int       `bson:"version" json:"version"`                          // Optimistic concurrency counter
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`                     // Timestamp when booking was created
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updatedAt,omitempty"` // Timestamp of the last successful write
}

// IsConfirmed reports whether the booking still consumes capacity.
func (b Booking) IsConfirmed() bool {
	return b.Status == BookingConfirmed
}

// BookingPatch carries the fields a modification may change. Nil means unchanged.
type BookingPatch struct {
	Name    *string    `json:"name,omitempty"`
	People  *int       `json:"people,omitempty"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`
	Status  *string    `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p BookingPatch) Empty() bool {
	return p.Name == nil && p.People == nil && p.StartAt == nil && p.EndAt == nil && p.Status == nil
}

// CreateBookingDTO is the input of a booking creation.
type CreateBookingDTO struct {
	TenantID   string `json:"tenantId"`
	UserPhone  string `json:"userPhone,omitempty"`
	Name       string `json:"name" binding:"required"`
	People     int    `json:"people" binding:"required"`
	StartAtISO string `json:"startAt" binding:"required"`
	EndAtISO   string `json:"endAt" binding:"required"`
}

// ModifyBookingPatch is the user supplied part of a modification. Times are ISO-8601 strings.
type ModifyBookingPatch struct {
	Name       *string `json:"name,omitempty"`
	People     *int    `json:"people,omitempty"`
	StartAtISO *string `json:"startAt,omitempty"`
	EndAtISO   *string `json:"endAt,omitempty"`
	Status     *string `json:"status,omitempty"`
}

// ModifyBookingDTO is the input of a booking modification.
type ModifyBookingDTO struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenantId"`
	Patch           ModifyBookingPatch `json:"patch"`
	ExpectedVersion *int               `json:"expectedVersion,omitempty"`
}
