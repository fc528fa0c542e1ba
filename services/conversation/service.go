package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablebook/models"
	"tablebook/utils"

	"go.uber.org/zap"
)

// ErrStateConflict is returned when concurrent turns kept winning the CAS race.
var ErrStateConflict = errors.New("conversation: state changed concurrently, retry the turn")

const DefaultMaxAttempts = 3

// Bookings is the part of the booking manager the conversation drives.
type Bookings interface {
	Tenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	CreateBooking(ctx context.Context, dto models.CreateBookingDTO) (*models.Booking, error)
	ModifyBooking(ctx context.Context, dto models.ModifyBookingDTO) (*models.Booking, error)
	CancelBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingByID(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingsByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error)
}

// Turn is one inbound message.
type Turn struct {
	TenantID string               `json:"tenantId"`
	Phone    string               `json:"phone"`
	Text     string               `json:"text,omitempty"`
	Intent   *models.ParsedIntent `json:"intent,omitempty"`
	// Event forces an explicit control event (CONFIRM, REJECT, RESET) instead of reading Text.
	Event EventType `json:"event,omitempty"`
}

// TurnResult is what a turn produced.
type TurnResult struct {
	State    models.ConversationState `json:"state"`
	Replies  []string                 `json:"replies"`
	Warnings []string                 `json:"warnings,omitempty"`
	Booking  *models.Booking          `json:"booking,omitempty"`
}

// Service runs conversation turns: reduce, persist, then execute the effects.
type Service struct {
	Store       StateStore
	Machine     *Machine
	Bookings    Bookings
	Thresholds  ThresholdProvider
	Logger      *zap.Logger
	Now         func() time.Time
	MaxAttempts int
}

func NewService(store StateStore, machine *Machine, bookings Bookings, thresholds ThresholdProvider, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if thresholds == nil {
		thresholds = StaticThreshold(machine.MinConfidence)
	}
	return &Service{
		Store:       store,
		Machine:     machine,
		Bookings:    bookings,
		Thresholds:  thresholds,
		Logger:      logger,
		Now:         now,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// HandleTurn drives one inbound message through the reducer.
func (s *Service) HandleTurn(ctx context.Context, turn Turn) (*TurnResult, error) {
	if turn.TenantID == "" || turn.Phone == "" {
		return nil, utils.NewValidationError("tenantId and phone are required", "tenantId", "phone")
	}
	tenant, err := s.Bookings.Tenant(ctx, turn.TenantID)
	if err != nil {
		return nil, err
	}
	loc := tenant.Settings.Location

	var ev Event
	prev, res, err := s.step(ctx, turn.TenantID, turn.Phone, func(current models.ConversationState) Event {
		ev = s.eventFor(ctx, turn, current)
		return ev
	})
	if err != nil {
		return nil, err
	}
	s.calibrate(ctx, turn.TenantID, prev, ev, res)

	out := &TurnResult{State: res.State, Warnings: res.Warnings}
	for _, w := range res.Warnings {
		s.Logger.Warn("conversation warning", zap.String("tenantID", turn.TenantID), zap.String("warning", w))
	}

	for _, effect := range res.Effects {
		switch effect.Type {
		case EffectConfirmBooking, EffectModifyBooking, EffectCancelBooking:
			result, booking := s.commit(ctx, tenant, turn.Phone, effect)
			out.Booking = booking
			state, replies, err := s.feedResult(ctx, turn, result, loc)
			if err != nil {
				return nil, err
			}
			out.State = state
			out.Replies = append(out.Replies, replies...)
		case EffectListBookings:
			bookings, err := s.Bookings.GetBookingsByUser(ctx, turn.TenantID, turn.Phone)
			if err != nil {
				return nil, err
			}
			out.Replies = append(out.Replies, ListReply(bookings, loc))
		default:
			if text := Reply(effect, loc); text != "" {
				out.Replies = append(out.Replies, text)
			}
		}
	}
	return out, nil
}

// step loads, reduces and CAS-writes, reloading on lost races.
func (s *Service) step(ctx context.Context, tenantID, phone string, build func(models.ConversationState) Event) (models.ConversationState, Result, error) {
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		stored, err := s.Store.Get(ctx, tenantID, phone)
		if err != nil {
			return models.ConversationState{}, Result{}, err
		}
		current := models.NewConversationState(s.Now())
		if stored != nil {
			current = *stored
		}

		res := s.Machine.Reduce(current, build(current))
		res.State.Version = current.Version + 1
		cas, err := s.Store.SetCAS(ctx, tenantID, phone, res.State, current.Version)
		if err != nil {
			return models.ConversationState{}, Result{}, err
		}
		if cas == CASOK {
			return current, res, nil
		}
		s.Logger.Debug("conversation CAS lost, retrying",
			zap.String("tenantID", tenantID), zap.String("phone", phone), zap.String("result", string(cas)), zap.Int("attempt", attempt))
	}
	return models.ConversationState{}, Result{}, ErrStateConflict
}

func (s *Service) eventFor(ctx context.Context, turn Turn, current models.ConversationState) Event {
	ev := Event{Type: EventUserMessage, At: s.Now(), TenantID: turn.TenantID, Intent: turn.Intent}
	if turn.Event != "" {
		ev.Type = turn.Event
		return ev
	}
	if current.Flow == models.FlowConfirmingAction && turn.Text != "" {
		switch ParseConfirmation(turn.Text) {
		case AnswerYes:
			ev.Type = EventConfirm
			return ev
		case AnswerNo:
			ev.Type = EventReject
			return ev
		}
	}
	ev.Threshold = s.Thresholds.Threshold(ctx, turn.TenantID)
	return ev
}

// calibrate records whether the user accepted a proposal built from NLU output.
func (s *Service) calibrate(ctx context.Context, tenantID string, prev models.ConversationState, ev Event, res Result) {
	if prev.PendingAction == nil {
		return
	}
	switch {
	case ev.Type == EventReject:
		s.Thresholds.RecordSample(ctx, tenantID, false)
	case hasCommit(res.Effects):
		s.Thresholds.RecordSample(ctx, tenantID, true)
	}
}

func hasCommit(effects []Effect) bool {
	for _, e := range effects {
		switch e.Type {
		case EffectConfirmBooking, EffectModifyBooking, EffectCancelBooking:
			return true
		}
	}
	return false
}

func (s *Service) feedResult(ctx context.Context, turn Turn, result ActionResult, loc *time.Location) (models.ConversationState, []string, error) {
	_, res, err := s.step(ctx, turn.TenantID, turn.Phone, func(models.ConversationState) Event {
		return Event{Type: EventActionResult, At: s.Now(), TenantID: turn.TenantID, Result: &result}
	})
	if err != nil {
		return models.ConversationState{}, nil, fmt.Errorf("persist action result: %w", err)
	}
	var replies []string
	for _, e := range res.Effects {
		if text := Reply(e, loc); text != "" {
			replies = append(replies, text)
		}
	}
	return res.State, replies, nil
}

// commit executes a confirmed pending action against the booking manager.
func (s *Service) commit(ctx context.Context, tenant *models.Tenant, phone string, effect Effect) (ActionResult, *models.Booking) {
	p := effect.Proposal
	var (
		booking *models.Booking
		err     error
		action  models.PendingActionType
	)
	switch effect.Type {
	case EffectConfirmBooking:
		action = models.ActionCreate
		booking, err = s.create(ctx, tenant, phone, *p)
	case EffectModifyBooking:
		action = models.ActionModify
		booking, err = s.modify(ctx, tenant, phone, *p)
	case EffectCancelBooking:
		action = models.ActionCancel
		if _, err = s.owned(ctx, tenant.ID, phone, p.BookingRef); err == nil {
			booking, err = s.Bookings.CancelBooking(ctx, tenant.ID, p.BookingRef)
		}
	}

	logger := s.Logger.With(zap.String("tenantID", tenant.ID), zap.String("pendingActionID", effect.PendingActionID), zap.String("action", string(action)))
	if err != nil {
		logger.Info("conversation action failed", zap.Error(err))
		result := failure(action, err)
		result.PendingActionID = effect.PendingActionID
		return result, nil
	}
	logger.Info("conversation action committed", zap.String("bookingID", booking.ID))
	return ActionResult{
		PendingActionID: effect.PendingActionID,
		Action:          action,
		Success:         true,
		BookingID:       booking.ID,
		Message:         successMessage(action, booking, tenant.Settings.Location),
	}, booking
}

func (s *Service) create(ctx context.Context, tenant *models.Tenant, phone string, p models.BookingProposal) (*models.Booking, error) {
	start, end, err := ProposalWindow(p, tenant.Settings)
	if err != nil {
		return nil, utils.NewValidationError(err.Error(), "dateISO", "timeISO")
	}
	return s.Bookings.CreateBooking(ctx, models.CreateBookingDTO{
		TenantID:   tenant.ID,
		UserPhone:  phone,
		Name:       p.Name,
		People:     p.People,
		StartAtISO: start.Format(time.RFC3339),
		EndAtISO:   end.Format(time.RFC3339),
	})
}

func (s *Service) modify(ctx context.Context, tenant *models.Tenant, phone string, p models.BookingProposal) (*models.Booking, error) {
	existing, err := s.owned(ctx, tenant.ID, phone, p.BookingRef)
	if err != nil {
		return nil, err
	}
	start, end, err := ProposalWindow(p, tenant.Settings)
	if err != nil {
		return nil, utils.NewValidationError(err.Error(), "dateISO", "timeISO")
	}
	startISO, endISO := start.Format(time.RFC3339), end.Format(time.RFC3339)
	patch := models.ModifyBookingPatch{StartAtISO: &startISO, EndAtISO: &endISO}
	if p.People > 0 {
		people := p.People
		patch.People = &people
	}
	if p.Name != "" {
		name := p.Name
		patch.Name = &name
	}
	version := existing.Version
	return s.Bookings.ModifyBooking(ctx, models.ModifyBookingDTO{
		ID:              existing.ID,
		TenantID:        tenant.ID,
		Patch:           patch,
		ExpectedVersion: &version,
	})
}

// owned loads a booking the caller may change. Bookings made by another phone read as not found.
func (s *Service) owned(ctx context.Context, tenantID, phone, id string) (*models.Booking, error) {
	b, err := s.Bookings.GetBookingByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if b.UserPhone != "" && b.UserPhone != phone {
		return nil, &utils.NotFoundError{Entity: "booking", ID: id}
	}
	return b, nil
}

func failure(action models.PendingActionType, err error) ActionResult {
	r := ActionResult{Action: action, Reason: "error", Message: "Please try again later."}
	var (
		conflict   *utils.ConflictError
		validation *utils.ValidationError
		rule       *utils.BusinessRuleError
		notFound   *utils.NotFoundError
	)
	switch {
	case errors.As(err, &conflict):
		r.Reason = conflict.Kind
		if conflict.Data.Reason != "" {
			r.Reason = conflict.Data.Reason
		}
		r.Message = conflict.Message
		r.Alternatives = conflict.Data.Alternatives
	case errors.As(err, &validation):
		r.Reason = models.ReasonInvalid
		r.Message = validation.Message
	case errors.As(err, &rule):
		r.Reason = rule.Rule
		r.Message = rule.Message
	case errors.As(err, &notFound):
		r.Reason = "not_found"
		r.Message = "I could not find that booking."
	}
	return r
}

func successMessage(action models.PendingActionType, b *models.Booking, loc *time.Location) string {
	when := b.StartAt
	if loc != nil {
		when = when.In(loc)
	}
	switch action {
	case models.ActionCancel:
		return fmt.Sprintf("Booking %s is cancelled.", b.ID)
	case models.ActionModify:
		return fmt.Sprintf("Booking %s moved to %s.", b.ID, when.Format("2006-01-02 15:04"))
	}
	return fmt.Sprintf("Table for %d under %s on %s. Your reference is %s.", b.People, b.Name, when.Format("2006-01-02 15:04"), b.ID)
}
