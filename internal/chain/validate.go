package chain

import (
	"fmt"
	"strings"
)

// MinParticipants is the smallest group that can review each other.
const MinParticipants = 2

// ValidateCreate checks a creation request. It returns nil when the request
// can be turned into a chain.
func ValidateCreate(in CreateInput) FieldErrors {
	var errs FieldErrors

	if strings.TrimSpace(in.ActivityID) == "" {
		errs = append(errs, FieldError{Field: "activityId", Message: "must be a non-empty string"})
	}

	if len(in.ParticipantIDs) < MinParticipants {
		errs = append(errs, FieldError{
			Field:   "participantIds",
			Message: fmt.Sprintf("must contain at least %d participants", MinParticipants),
		})
	}

	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for i, id := range in.ParticipantIDs {
		field := fmt.Sprintf("participantIds[%d]", i)
		if strings.TrimSpace(id) == "" {
			errs = append(errs, FieldError{Field: field, Message: "must be a non-empty string"})
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate participant %q", id)})
			continue
		}
		seen[id] = struct{}{}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
