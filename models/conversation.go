package models

import "time"

// Flow is the conversation phase.
type Flow string

const (
	FlowIdle             Flow = "IDLE"
	FlowGatheringInfo    Flow = "GATHERING_INFO"
	FlowConfirmingAction Flow = "CONFIRMING_ACTION"
)

// PendingActionType is the kind of mutation awaiting confirmation.
type PendingActionType string

const (
	ActionCreate PendingActionType = "CREATE"
	ActionModify PendingActionType = "MODIFY"
	ActionCancel PendingActionType = "CANCEL"
)

// Parts of day understood by the proposal translation.
const (
	PartMorning   = "morning"
	PartAfternoon = "afternoon"
	PartEvening   = "evening"
	PartNight     = "night"
)

// MachineVersion is the schema version of ConversationState.
const MachineVersion = 1

// ConversationContext accumulates slot values across turns.
type ConversationContext struct {
	Name       string        `json:"name,omitempty"`
	People     int           `json:"people,omitempty"`
	DateISO    string        `json:"dateISO,omitempty"`
	TimeISO    string        `json:"timeISO,omitempty"`
	PartOfDay  string        `json:"partOfDay,omitempty"`
	BookingRef string        `json:"bookingRef,omitempty"`
	LastNLU    *ParsedIntent `json:"lastNLU,omitempty"`
}

// BookingProposal is the booking a pending action would commit.
type BookingProposal struct {
	TenantID   string `json:"tenantId"`
	Name       string `json:"name,omitempty"`
	People     int    `json:"people,omitempty"`
	DateISO    string `json:"dateISO,omitempty"`
	TimeISO    string `json:"timeISO,omitempty"`
	PartOfDay  string `json:"partOfDay,omitempty"`
	BookingRef string `json:"bookingRef,omitempty"`
}

// PendingAction is a complete proposal waiting for explicit confirmation.
type PendingAction struct {
	ID        string            `json:"id"`
	Type      PendingActionType `json:"type"`
	Proposal  BookingProposal   `json:"proposal"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// ConversationState is the persisted dialogue state of one (tenant, phone).
type ConversationState struct {
	MachineVersion int                 `json:"machineVersion"`
	Version        int                 `json:"version"`
	Flow           Flow                `json:"flow"`
	Context        ConversationContext `json:"context"`
	PendingAction  *PendingAction      `json:"pendingAction,omitempty"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// NewConversationState returns the state of a first contact. Version 0 means "never stored".
func NewConversationState(now time.Time) ConversationState {
	return ConversationState{
		MachineVersion: MachineVersion,
		Version:        0,
		Flow:           FlowIdle,
		UpdatedAt:      now,
	}
}

// Intent names produced by the external NLU.
const (
	IntentCreateBooking  = "CREATE_BOOKING"
	IntentModifyBooking  = "MODIFY_BOOKING"
	IntentCancelBooking  = "CANCEL_BOOKING"
	IntentGetInformation = "GET_INFORMATION"
	IntentConfirmation   = "CONFIRMATION"
	IntentUnknown        = "UNKNOWN"
)

// ParsedIntent is the NLU result for one inbound message.
type ParsedIntent struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   IntentEntities `json:"entities"`
	Missing    []string       `json:"missing,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// IntentEntities are the slot values the NLU extracted. Empty means "not mentioned".
type IntentEntities struct {
	Name       string `json:"name,omitempty"`
	People     int    `json:"people,omitempty"`
	DateISO    string `json:"dateISO,omitempty"`
	TimeISO    string `json:"timeISO,omitempty"`
	PartOfDay  string `json:"partOfDay,omitempty"`
	BookingRef string `json:"bookingRef,omitempty"`
}
