package models

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxRecipientLength = 254
	MaxNoteLength      = 280
	AmountScale        = 4
)

var recipientPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateTransferInput checks the user supplied fields of a new transfer.
func ValidateTransferInput(recipientIdentifier string, amount decimal.Decimal, note string) error {
	recipient := strings.TrimSpace(recipientIdentifier)
	if recipient == "" {
		return fmt.Errorf("%w: recipientIdentifier cannot be empty", ErrValidation)
	}
	if utf8.RuneCountInString(recipient) > MaxRecipientLength {
		return fmt.Errorf("%w: recipientIdentifier exceeds maximum length of %d characters", ErrValidation, MaxRecipientLength)
	}
	if !recipientPattern.MatchString(recipient) {
		return fmt.Errorf("%w: recipientIdentifier '%s' is not a valid email address", ErrValidation, recipient)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: amount supports at most %d decimal places", ErrValidation, AmountScale)
	}
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return fmt.Errorf("%w: note exceeds maximum length of %d characters", ErrValidation, MaxNoteLength)
	}
	return nil
}

// ValidateID rejects ids that are not UUIDs.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: id '%s' is not a valid UUID", ErrValidation, id)
	}
	return nil
}

// NormalizeRecipient lower-cases and trims an email identifier so lookups are
// case-insensitive.
func NormalizeRecipient(recipientIdentifier string) string {
	return strings.ToLower(strings.TrimSpace(recipientIdentifier))
}
