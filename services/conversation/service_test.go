package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	bookingRepo "tablebook/database/repository/booking"
	tenantRepo "tablebook/database/repository/tenant"
	"tablebook/models"
	"tablebook/services/availability"
	"tablebook/services/booking"
	"tablebook/services/events"
	"tablebook/services/locks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rome, _ = time.LoadLocation("Europe/Rome")

const phone = "+39000"

type sampleRecorder struct {
	mu      sync.Mutex
	samples []bool
}

func (r *sampleRecorder) Threshold(context.Context, string) float64 { return 0.6 }
func (r *sampleRecorder) RecordSample(_ context.Context, _ string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, ok)
}

type serviceFixture struct {
	svc      *Service
	store    *MemoryStateStore
	bookings *bookingRepo.MemoryBookingRepo
	samples  *sampleRecorder
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	now := func() time.Time { return time.Date(2030, 6, 1, 12, 0, 0, 0, rome) }
	tenants := tenantRepo.NewMemoryTenantRepo("Europe/Rome", models.Tenant{
		ID: "t1",
		Config: models.TenantConfig{
			Capacity:        10,
			OpeningHours:    map[string][]string{"tue": {"19:00-23:00"}},
			SlotSizeMinutes: 30,
		},
	})
	repo := bookingRepo.NewMemoryBookingRepo()
	engine := availability.NewEngine(repo, availability.NewMemoryGridCache(time.Minute), nil, now)
	manager := booking.NewBookingManager(tenants, repo, engine, locks.NewKeyedMutex(), &events.Recorder{}, nil, now)

	store := NewMemoryStateStore(30*time.Minute, now)
	store.Strict = true
	machine := NewMachine(20*time.Minute, 0.6)
	samples := &sampleRecorder{}
	return serviceFixture{
		svc:      NewService(store, machine, manager, samples, nil, now),
		store:    store,
		bookings: repo,
		samples:  samples,
	}
}

func (f serviceFixture) seed(t *testing.T, id, owner string, people, fromHour, toHour int) {
	t.Helper()
	require.NoError(t, f.bookings.Create(context.Background(), &models.Booking{
		ID: id, TenantID: "t1", UserPhone: owner, Name: "Seed", People: people,
		StartAt: time.Date(2030, 6, 4, fromHour, 0, 0, 0, rome),
		EndAt:   time.Date(2030, 6, 4, toHour, 0, 0, 0, rome),
		Status:  models.BookingConfirmed, Version: 1,
	}))
}

func intentTurn(intent string, e models.IntentEntities) Turn {
	return Turn{TenantID: "t1", Phone: phone, Intent: &models.ParsedIntent{Intent: intent, Confidence: 0.9, Entities: e}}
}

func textTurn(text string) Turn {
	return Turn{TenantID: "t1", Phone: phone, Text: text}
}

func TestHandleTurn_CreateFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	out, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{People: 4, DateISO: "2030-06-04", PartOfDay: "sera"}))
	require.NoError(t, err)
	assert.Equal(t, models.FlowGatheringInfo, out.State.Flow)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "the name for the booking")

	out, err = f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{Name: "Rossi"}))
	require.NoError(t, err)
	assert.Equal(t, models.FlowConfirmingAction, out.State.Flow)
	assert.Equal(t, 2, out.State.Version)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "A table for 4 under Rossi on 2030-06-04 (evening)")

	out, err = f.svc.HandleTurn(ctx, textTurn("Sì, perfetto"))
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, "Rossi", out.Booking.Name)
	assert.Equal(t, phone, out.Booking.UserPhone)
	assert.Equal(t, time.Date(2030, 6, 4, 20, 0, 0, 0, rome), out.Booking.StartAt.In(rome))
	assert.Equal(t, time.Date(2030, 6, 4, 22, 0, 0, 0, rome), out.Booking.EndAt.In(rome))
	assert.Equal(t, models.FlowIdle, out.State.Flow)
	assert.Equal(t, 4, out.State.Version, "claim and result are persisted separately")
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "Your reference is "+out.Booking.ID)
	assert.Equal(t, []bool{true}, f.samples.samples)

	stored, err := f.store.Get(ctx, "t1", phone)
	require.NoError(t, err)
	assert.Equal(t, out.State.Version, stored.Version)
	assert.Equal(t, models.ConversationContext{}, stored.Context)

	out, err = f.svc.HandleTurn(ctx, Turn{TenantID: "t1", Phone: phone, Event: EventConfirm})
	require.NoError(t, err)
	assert.Nil(t, out.Booking)
	assert.Equal(t, []string{cannedReplies[KeyNothingToConfirm]}, out.Replies)

	all, err := f.bookings.FindByUser(ctx, "t1", phone)
	require.NoError(t, err)
	assert.Len(t, all, 1, "a second confirmation never books twice")
}

func TestHandleTurn_CapacityFailureReturnsToGathering(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, "seed-1", "+39999", 8, 19, 21)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{Name: "Rossi", People: 4, DateISO: "2030-06-04", TimeISO: "20:00"}))
	require.NoError(t, err)

	out, err := f.svc.HandleTurn(ctx, textTurn("ok"))
	require.NoError(t, err)
	assert.Nil(t, out.Booking)
	assert.Equal(t, models.FlowGatheringInfo, out.State.Flow)
	assert.Nil(t, out.State.PendingAction)
	assert.Equal(t, "Rossi", out.State.Context.Name, "context survives a failed commit")
	require.Len(t, out.Replies, 1)
	assert.True(t, strings.HasPrefix(out.Replies[0], cannedReplies[KeyActionFailed]))
}

func TestHandleTurn_Reject(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{Name: "Rossi", People: 2, DateISO: "2030-06-04"}))
	require.NoError(t, err)

	out, err := f.svc.HandleTurn(ctx, textTurn("No, annulla"))
	require.NoError(t, err)
	assert.Equal(t, models.FlowIdle, out.State.Flow)
	assert.Equal(t, []string{cannedReplies[KeyCancelledOK]}, out.Replies)
	assert.Equal(t, []bool{false}, f.samples.samples)

	all, err := f.bookings.FindByUser(ctx, "t1", phone)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHandleTurn_CancelOwnBooking(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, "b-1", phone, 2, 20, 22)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCancelBooking, models.IntentEntities{BookingRef: "b-1"}))
	require.NoError(t, err)
	out, err := f.svc.HandleTurn(ctx, Turn{TenantID: "t1", Phone: phone, Event: EventConfirm})
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, models.BookingCancelled, out.Booking.Status)
	assert.Equal(t, 2, out.Booking.Version)
}

func TestHandleTurn_ModifyOwnBooking(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, "b-1", phone, 2, 19, 21)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentModifyBooking, models.IntentEntities{BookingRef: "b-1", DateISO: "2030-06-04", TimeISO: "20:30"}))
	require.NoError(t, err)
	out, err := f.svc.HandleTurn(ctx, textTurn("yes"))
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, time.Date(2030, 6, 4, 20, 30, 0, 0, rome), out.Booking.StartAt.In(rome))
	assert.Equal(t, 2, out.Booking.Version)
}

func TestHandleTurn_CannotCancelSomeoneElsesBooking(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, "b-1", "+39999", 2, 20, 22)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCancelBooking, models.IntentEntities{BookingRef: "b-1"}))
	require.NoError(t, err)
	out, err := f.svc.HandleTurn(ctx, textTurn("confermo"))
	require.NoError(t, err)
	assert.Nil(t, out.Booking)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "I could not find that booking.")

	b, err := f.bookings.FindByID(ctx, "t1", "b-1")
	require.NoError(t, err)
	assert.True(t, b.IsConfirmed())
}

func TestHandleTurn_ListBookings(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, "b-1", phone, 2, 20, 22)

	out, err := f.svc.HandleTurn(context.Background(), intentTurn(models.IntentGetInformation, models.IntentEntities{}))
	require.NoError(t, err)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "2030-06-04 20:00: Seed, 2 people, ref b-1")
}

func TestHandleTurn_Validation(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.HandleTurn(context.Background(), Turn{TenantID: "t1"})
	assert.Error(t, err)
}

type contendedStore struct {
	*MemoryStateStore
}

func (contendedStore) SetCAS(context.Context, string, string, models.ConversationState, int) (CASResult, error) {
	return CASPreconditionFailed, nil
}

func TestHandleTurn_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.Store = contendedStore{f.store}

	_, err := f.svc.HandleTurn(context.Background(), intentTurn(models.IntentUnknown, models.IntentEntities{}))
	assert.ErrorIs(t, err, ErrStateConflict)
}

// interleavingStore runs a competing turn just before its n-th write.
type interleavingStore struct {
	*MemoryStateStore
	writes     int
	at         int
	interleave func()
}

func (s *interleavingStore) SetCAS(ctx context.Context, tenantID, phone string, next models.ConversationState, expected int) (CASResult, error) {
	s.writes++
	if s.writes == s.at && s.interleave != nil {
		fn := s.interleave
		s.interleave = nil
		fn()
	}
	return s.MemoryStateStore.SetCAS(ctx, tenantID, phone, next, expected)
}

func TestHandleTurn_ResultDoesNotClobberNewerProposal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{Name: "Rossi", People: 4, DateISO: "2030-06-04", TimeISO: "20:00"}))
	require.NoError(t, err)

	// Between the claim and the result write, the user starts another booking.
	store := &interleavingStore{MemoryStateStore: f.store, at: 2}
	f.svc.Store = store
	store.interleave = func() {
		out, err := f.svc.HandleTurn(ctx, intentTurn(models.IntentCreateBooking, models.IntentEntities{Name: "Bianchi", People: 2, TimeISO: "21:00"}))
		require.NoError(t, err)
		require.Equal(t, models.FlowConfirmingAction, out.State.Flow)
	}

	out, err := f.svc.HandleTurn(ctx, Turn{TenantID: "t1", Phone: phone, Event: EventConfirm})
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, "Rossi", out.Booking.Name)
	assert.Contains(t, out.Replies[0], "Your reference is "+out.Booking.ID)

	stored, err := f.store.Get(ctx, "t1", phone)
	require.NoError(t, err)
	assert.Equal(t, models.FlowConfirmingAction, stored.Flow)
	require.NotNil(t, stored.PendingAction)
	assert.Equal(t, "Bianchi", stored.PendingAction.Proposal.Name)
	assert.Equal(t, "21:00", stored.PendingAction.Proposal.TimeISO)
}

func TestProposalWindow(t *testing.T) {
	tenant := models.Tenant{ID: "t1", Config: models.TenantConfig{AvgDiningMinutes: 90}}
	require.NoError(t, tenant.Resolve("Europe/Rome"))

	cases := []struct {
		proposal models.BookingProposal
		start    string
	}{
		{models.BookingProposal{DateISO: "2030-06-04", TimeISO: "19:45"}, "19:45"},
		{models.BookingProposal{DateISO: "2030-06-04", TimeISO: "2030-06-04T21:15:00"}, "21:15"},
		{models.BookingProposal{DateISO: "2030-06-04", PartOfDay: "pranzo"}, "12:00"},
		{models.BookingProposal{DateISO: "2030-06-04", PartOfDay: "afternoon"}, "13:00"},
		{models.BookingProposal{DateISO: "2030-06-04", PartOfDay: "notte"}, "22:00"},
		{models.BookingProposal{DateISO: "2030-06-04"}, "20:00"},
	}
	for _, c := range cases {
		start, end, err := ProposalWindow(c.proposal, tenant.Settings)
		require.NoError(t, err)
		assert.Equal(t, c.start, start.Format("15:04"))
		assert.Equal(t, 90*time.Minute, end.Sub(start))
		assert.Equal(t, rome.String(), start.Location().String())
	}

	_, _, err := ProposalWindow(models.BookingProposal{DateISO: "04/06/2030"}, tenant.Settings)
	assert.Error(t, err)
}
