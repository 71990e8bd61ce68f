package models

import "errors"

// Errors returned across the client and server boundaries. Callers match them
// with errors.Is; the wrapped message carries the specific reason.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("transaction not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSenderNotFound    = errors.New("sender account not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrTransport         = errors.New("transfer service unreachable")
	ErrUnauthenticated   = errors.New("not authenticated")
)

// ErrNotEligible is returned when the current status does not allow the
// requested operation. It is a validation error.
var ErrNotEligible = notEligibleError{}

type notEligibleError struct{}

func (notEligibleError) Error() string { return "transaction not eligible" }

func (notEligibleError) Is(target error) bool { return target == ErrValidation }
