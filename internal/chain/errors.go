package chain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("review chain not found")
	ErrNotActive       = errors.New("review chain is not active")
	ErrDuplicateReview = errors.New("reviewer already completed their review")
	ErrNotParticipant  = errors.New("reviewer is not a participant of the chain")
)

// FieldError describes one rejected field of a creation request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is the result of a failed validation. It unwraps to
// ErrInvalidInput.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (fe FieldErrors) Unwrap() error { return ErrInvalidInput }
