package conversation

import (
	"strings"
	"time"

	"tablebook/models"

	"github.com/google/uuid"
)

// EventType is the kind of input driven through the reducer.
type EventType string

const (
	EventUserMessage  EventType = "USER_MESSAGE"
	EventConfirm      EventType = "CONFIRM"
	EventReject       EventType = "REJECT"
	EventTimeout      EventType = "TIMEOUT"
	EventReset        EventType = "RESET"
	EventActionResult EventType = "ACTION_RESULT"
)

// EffectType names a side effect the caller must execute.
type EffectType string

const (
	EffectAskMissing     EffectType = "ASK_MISSING"
	EffectProposeBooking EffectType = "PROPOSE_BOOKING"
	EffectConfirmBooking EffectType = "CONFIRM_BOOKING"
	EffectModifyBooking  EffectType = "MODIFY_BOOKING"
	EffectCancelBooking  EffectType = "CANCEL_BOOKING"
	EffectListBookings   EffectType = "LIST_BOOKINGS"
	EffectRespondText    EffectType = "RESPOND_TEXT"
)

// Canned reply keys.
const (
	KeyTimeoutReset      = "timeout_reset"
	KeyResetOK           = "reset_ok"
	KeyCancelledOK       = "cancelled_ok"
	KeyNothingToConfirm  = "nothing_to_confirm"
	KeyNLUMissing        = "nlu_missing"
	KeyAskClarifyLowConf = "ask_clarify_low_conf"
	KeyAskClarify        = "ask_clarify"
	KeyMissingFields     = "missing_fields"
	KeyActionOK          = "action_ok"
	KeyActionFailed      = "action_failed"
)

// WarnInvariantBeforeConfirm is reported when a pending proposal lost a critical field.
const WarnInvariantBeforeConfirm = "invariants_violation_before_confirm"

// ActionResult is the outcome of a commit effect, fed back through the reducer.
type ActionResult struct {
	// PendingActionID is the claimed action this result settles.
	PendingActionID string                         `json:"pendingActionId,omitempty"`
	Action          models.PendingActionType       `json:"action"`
	Success         bool                           `json:"success"`
	BookingID       string                         `json:"bookingId,omitempty"`
	Reason          string                         `json:"reason,omitempty"`
	Message         string                         `json:"message,omitempty"`
	Alternatives    []models.AlternativeSuggestion `json:"alternatives,omitempty"`
}

// Event is one input to Reduce.
type Event struct {
	Type     EventType
	At       time.Time
	TenantID string
	Intent   *models.ParsedIntent
	// Threshold overrides the machine's minimum confidence when positive.
	Threshold float64
	Result    *ActionResult
}

// Effect describes work for the caller. Only the fields relevant to Type are set.
type Effect struct {
	Type            EffectType
	Key             string
	Fields          []string
	PendingActionID string
	Proposal        *models.BookingProposal
	Result          *ActionResult
}

// Result is the reducer output.
type Result struct {
	State    models.ConversationState
	Effects  []Effect
	Warnings []string
}

// Machine is the conversation reducer. It performs no I/O.
type Machine struct {
	PendingTTL    time.Duration
	MinConfidence float64
	NewID         func() string
}

func NewMachine(pendingTTL time.Duration, minConfidence float64) *Machine {
	return &Machine{PendingTTL: pendingTTL, MinConfidence: minConfidence, NewID: uuid.NewString}
}

// criticals lists the fields a pending action of each type cannot be confirmed without.
var criticals = map[models.PendingActionType][]string{
	models.ActionCreate: {"name", "people", "dateISO"},
	models.ActionModify: {"bookingRef", "dateISO"},
	models.ActionCancel: {"bookingRef"},
}

type fieldSource struct {
	Name       string
	People     int
	DateISO    string
	BookingRef string
}

func (f fieldSource) has(field string) bool {
	switch field {
	case "name":
		return strings.TrimSpace(f.Name) != ""
	case "people":
		return f.People > 0
	case "dateISO":
		return f.DateISO != ""
	case "bookingRef":
		return f.BookingRef != ""
	}
	return false
}

// MissingCriticals returns the critical fields of typ absent from p, in declaration order.
func MissingCriticals(typ models.PendingActionType, p models.BookingProposal) []string {
	return missing(typ, fieldSource{Name: p.Name, People: p.People, DateISO: p.DateISO, BookingRef: p.BookingRef})
}

func missing(typ models.PendingActionType, src fieldSource) []string {
	var out []string
	for _, field := range criticals[typ] {
		if !src.has(field) {
			out = append(out, field)
		}
	}
	return out
}

// Reduce computes the next state and effects for ev.
func (m *Machine) Reduce(current models.ConversationState, ev Event) Result {
	s := current
	s.UpdatedAt = ev.At
	if s.MachineVersion == 0 {
		s.MachineVersion = models.MachineVersion
	}

	switch ev.Type {
	case EventTimeout:
		if current.Flow != models.FlowConfirmingAction {
			return Result{State: current}
		}
		s.Flow = models.FlowIdle
		s.Context = models.ConversationContext{}
		s.PendingAction = nil
		return respond(s, KeyTimeoutReset)

	case EventReset:
		s.Flow = models.FlowIdle
		s.Context = models.ConversationContext{}
		s.PendingAction = nil
		return respond(s, KeyResetOK)

	case EventReject:
		s.Flow = models.FlowIdle
		s.PendingAction = nil
		return respond(s, KeyCancelledOK)

	case EventConfirm:
		return m.confirmPending(s, ev)

	case EventActionResult:
		return m.actionResult(s, ev)

	case EventUserMessage:
		return m.userMessage(s, ev)
	}
	return Result{State: s}
}

func (m *Machine) userMessage(s models.ConversationState, ev Event) Result {
	nlu := ev.Intent
	if nlu == nil {
		return respond(s, KeyNLUMissing)
	}

	s.Context = mergeEntities(s.Context, nlu)
	s.Context.LastNLU = nlu

	threshold := m.MinConfidence
	if ev.Threshold > 0 {
		threshold = ev.Threshold
	}
	if nlu.Confidence < threshold && nlu.Intent != models.IntentConfirmation {
		return respond(s, KeyAskClarifyLowConf)
	}

	switch nlu.Intent {
	case models.IntentConfirmation:
		return m.confirmPending(s, ev)
	case models.IntentCreateBooking:
		return m.propose(s, ev, models.ActionCreate)
	case models.IntentModifyBooking:
		return m.propose(s, ev, models.ActionModify)
	case models.IntentCancelBooking:
		return m.propose(s, ev, models.ActionCancel)
	case models.IntentGetInformation:
		return Result{State: s, Effects: []Effect{{Type: EffectListBookings}}}
	}

	s.Flow = models.FlowGatheringInfo
	s.PendingAction = nil
	if len(nlu.Missing) > 0 {
		return Result{State: s, Effects: []Effect{{Type: EffectAskMissing, Fields: append([]string(nil), nlu.Missing...)}}}
	}
	return respond(s, KeyAskClarify)
}

func (m *Machine) propose(s models.ConversationState, ev Event, typ models.PendingActionType) Result {
	c := s.Context
	if gaps := missing(typ, fieldSource{Name: c.Name, People: c.People, DateISO: c.DateISO, BookingRef: c.BookingRef}); len(gaps) > 0 {
		s.Flow = models.FlowGatheringInfo
		s.PendingAction = nil
		return Result{State: s, Effects: []Effect{{Type: EffectAskMissing, Fields: gaps}}}
	}

	proposal := models.BookingProposal{TenantID: m.tenantID(s, ev), Name: c.Name}
	switch typ {
	case models.ActionCreate:
		proposal.People = c.People
		proposal.DateISO = c.DateISO
		proposal.TimeISO = c.TimeISO
		proposal.PartOfDay = c.PartOfDay
	case models.ActionModify:
		proposal.People = c.People
		proposal.DateISO = c.DateISO
		proposal.TimeISO = c.TimeISO
		proposal.PartOfDay = c.PartOfDay
		proposal.BookingRef = c.BookingRef
	case models.ActionCancel:
		proposal.BookingRef = c.BookingRef
	}

	pending := &models.PendingAction{
		ID:        m.NewID(),
		Type:      typ,
		Proposal:  proposal,
		CreatedAt: ev.At,
		ExpiresAt: ev.At.Add(m.PendingTTL),
	}
	s.Flow = models.FlowConfirmingAction
	s.PendingAction = pending
	p := pending.Proposal
	return Result{State: s, Effects: []Effect{{Type: EffectProposeBooking, PendingActionID: pending.ID, Proposal: &p}}}
}

// confirmPending claims the pending action: the returned state no longer carries it, so
// persisting that state before executing the commit effect makes the commit happen once.
func (m *Machine) confirmPending(s models.ConversationState, ev Event) Result {
	pending := s.PendingAction
	if s.Flow != models.FlowConfirmingAction || pending == nil {
		return respond(s, KeyNothingToConfirm)
	}
	if !pending.ExpiresAt.IsZero() && ev.At.After(pending.ExpiresAt) {
		s.Flow = models.FlowIdle
		s.Context = models.ConversationContext{}
		s.PendingAction = nil
		return respond(s, KeyTimeoutReset)
	}

	if gaps := MissingCriticals(pending.Type, pending.Proposal); len(gaps) > 0 {
		s.Flow = models.FlowGatheringInfo
		s.PendingAction = nil
		res := respond(s, KeyMissingFields)
		res.Effects[0].Fields = gaps
		res.Warnings = []string{WarnInvariantBeforeConfirm}
		return res
	}

	effect := EffectConfirmBooking
	switch pending.Type {
	case models.ActionModify:
		effect = EffectModifyBooking
	case models.ActionCancel:
		effect = EffectCancelBooking
	}

	s.Flow = models.FlowIdle
	s.PendingAction = nil
	p := pending.Proposal
	return Result{State: s, Effects: []Effect{{Type: effect, PendingActionID: pending.ID, Proposal: &p}}}
}

func (m *Machine) actionResult(s models.ConversationState, ev Event) Result {
	r := ev.Result
	if r == nil {
		return Result{State: s}
	}
	key := KeyActionOK
	if !r.Success {
		key = KeyActionFailed
	}
	// A newer proposal landed after the claim: report the outcome, keep the proposal.
	if s.PendingAction != nil && s.PendingAction.ID != r.PendingActionID {
		res := respond(s, key)
		res.Effects[0].Result = r
		return res
	}

	s.PendingAction = nil
	if r.Success {
		s.Flow = models.FlowIdle
		s.Context = models.ConversationContext{}
	} else {
		s.Flow = models.FlowGatheringInfo
	}
	res := respond(s, key)
	res.Effects[0].Result = r
	return res
}

func (m *Machine) tenantID(s models.ConversationState, ev Event) string {
	if ev.TenantID != "" {
		return ev.TenantID
	}
	if s.PendingAction != nil {
		return s.PendingAction.Proposal.TenantID
	}
	return ""
}

func respond(s models.ConversationState, key string) Result {
	return Result{State: s, Effects: []Effect{{Type: EffectRespondText, Key: key}}}
}

// mergeEntities overlays non-empty entities on the context. Absent values never erase.
func mergeEntities(c models.ConversationContext, nlu *models.ParsedIntent) models.ConversationContext {
	e := nlu.Entities
	if name := strings.TrimSpace(e.Name); name != "" {
		c.Name = name
	}
	if e.People > 0 {
		c.People = e.People
	}
	if e.DateISO != "" {
		c.DateISO = e.DateISO
	}
	if e.TimeISO != "" {
		c.TimeISO = e.TimeISO
	}
	if part := NormalizePartOfDay(e.PartOfDay); part != "" {
		c.PartOfDay = part
	}
	if e.BookingRef != "" {
		c.BookingRef = e.BookingRef
	}
	return c
}

// NormalizePartOfDay maps free-form part-of-day words (English or Italian) to the canonical values.
func NormalizePartOfDay(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case text == "":
		return ""
	case strings.Contains(text, "evening"), strings.Contains(text, "sera"), strings.Contains(text, "cena"), strings.Contains(text, "dinner"):
		return models.PartEvening
	case strings.Contains(text, "afternoon"), strings.Contains(text, "pomeriggio"):
		return models.PartAfternoon
	case strings.Contains(text, "morning"), strings.Contains(text, "mattin"), strings.Contains(text, "pranzo"), strings.Contains(text, "lunch"):
		return models.PartMorning
	case strings.Contains(text, "night"), strings.Contains(text, "notte"):
		return models.PartNight
	}
	return ""
}
