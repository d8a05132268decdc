// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrContactNotFound   = errors.New("contact not found")
	ErrChannelNotFound   = errors.New("sender channel not found")
	ErrForbidden         = errors.New("forbidden")
)

// ErrCampaignNotFound is returned when a campaign lookup misses.
type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrChannelNotFound)
}

// ValidationError describes input rejected before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
