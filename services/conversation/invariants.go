package conversation

import (
	"fmt"

	"tablebook/models"
)

// AssertInvariants returns one message per violated structural rule of s. Nil means valid.
func AssertInvariants(s models.ConversationState) []string {
	var violations []string
	if s.MachineVersion != models.MachineVersion {
		violations = append(violations, fmt.Sprintf("machineVersion %d unsupported", s.MachineVersion))
	}
	if s.Version < 0 {
		violations = append(violations, "version must not be negative")
	}
	switch s.Flow {
	case models.FlowIdle, models.FlowGatheringInfo:
		if s.PendingAction != nil {
			violations = append(violations, fmt.Sprintf("pendingAction present in flow %s", s.Flow))
		}
	case models.FlowConfirmingAction:
		if s.PendingAction == nil {
			violations = append(violations, "CONFIRMING_ACTION without pendingAction")
			break
		}
		p := s.PendingAction
		if p.ID == "" {
			violations = append(violations, "pendingAction without id")
		}
		if _, ok := criticals[p.Type]; !ok {
			violations = append(violations, fmt.Sprintf("pendingAction has unknown type %q", p.Type))
		}
		for _, field := range MissingCriticals(p.Type, p.Proposal) {
			violations = append(violations, "pendingAction missing "+field)
		}
		if !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(p.CreatedAt) {
			violations = append(violations, "pendingAction expires before it was created")
		}
	default:
		violations = append(violations, fmt.Sprintf("unknown flow %q", s.Flow))
	}
	if s.Context.People < 0 {
		violations = append(violations, "context.people must not be negative")
	}
	return violations
}
