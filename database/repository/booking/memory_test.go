package bookingRepo

import (
	"context"
	"testing"
	"time"

	"tablebook/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, repo *MemoryBookingRepo, id, phone string, start time.Time, people int) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &models.Booking{
		ID: id, TenantID: "t1", UserPhone: phone, Name: "Rossi", People: people,
		StartAt: start, EndAt: start.Add(2 * time.Hour), Status: models.BookingConfirmed, Version: 1,
	}))
}

func TestMemoryBookingRepo_FindOverlapping(t *testing.T) {
	repo := NewMemoryBookingRepo()
	base := time.Date(2030, 6, 4, 17, 0, 0, 0, time.UTC)
	seed(t, repo, "a", "p1", base, 2)
	seed(t, repo, "b", "p1", base.Add(3*time.Hour), 4)

	got, err := repo.FindOverlapping(context.Background(), "t1", base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1, "intervals touching at the boundary do not overlap")
	assert.Equal(t, "a", got[0].ID)

	_, err = repo.Cancel(context.Background(), "t1", "a", base)
	require.NoError(t, err)
	got, err = repo.FindOverlapping(context.Background(), "t1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got, "cancelled bookings hold no capacity")

	got, err = repo.FindOverlapping(context.Background(), "other", base, base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryBookingRepo_UpdateVersioned(t *testing.T) {
	repo := NewMemoryBookingRepo()
	start := time.Date(2030, 6, 4, 17, 0, 0, 0, time.UTC)
	seed(t, repo, "a", "p1", start, 2)

	people := 3
	updated, err := repo.UpdateVersioned(context.Background(), "t1", "a", models.BookingPatch{People: &people}, 1, start)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 3, updated.People)

	_, err = repo.UpdateVersioned(context.Background(), "t1", "a", models.BookingPatch{People: &people}, 1, start)
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = repo.UpdateVersioned(context.Background(), "t2", "a", models.BookingPatch{}, 2, start)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestMemoryBookingRepo_CancelBumpsVersion(t *testing.T) {
	repo := NewMemoryBookingRepo()
	start := time.Date(2030, 6, 4, 17, 0, 0, 0, time.UTC)
	seed(t, repo, "a", "p1", start, 2)

	cancelled, err := repo.Cancel(context.Background(), "t1", "a", start)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.Version)
}

func TestMemoryBookingRepo_FindByUserNewestFirst(t *testing.T) {
	repo := NewMemoryBookingRepo()
	start := time.Date(2030, 6, 4, 17, 0, 0, 0, time.UTC)
	seed(t, repo, "a", "p1", start, 2)
	seed(t, repo, "b", "p1", start.Add(24*time.Hour), 2)
	seed(t, repo, "c", "p2", start, 2)

	got, err := repo.FindByUser(context.Background(), "t1", "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}
