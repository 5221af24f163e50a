package core

import (
	"errors"
	"fmt"
)

// Error classes. Operations wrap one of these with detail, callers match
// with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrValidation    = errors.New("validation failed")
	ErrBusinessRule  = errors.New("business rule violation")
	ErrConfiguration = errors.New("configuration error")
)

// Field-level validation errors. Each one also matches ErrValidation.
var (
	ErrInvalidAmount      = validationError("amount must be greater than 0")
	ErrAmountTooLarge     = validationError("amount cannot exceed 9999999999999.99")
	ErrInvalidDate        = validationError("date is required")
	ErrInvalidType        = validationError("transaction type must be income or expense")
	ErrTransferType       = validationError("transfers are created with the transfer operation")
	ErrEmptyPayee         = validationError("payee is required")
	ErrPayeeTooLong       = validationError("payee cannot exceed 255 characters")
	ErrNotesTooLong       = validationError("notes cannot exceed 1000 characters")
	ErrEmptyName          = validationError("name is required")
	ErrNameTooLong        = validationError("name cannot exceed 100 characters")
	ErrIconTooLong        = validationError("icon cannot exceed 50 characters")
	ErrInvalidOrder       = validationError("display order cannot be negative")
	ErrInvalidAccountType = validationError("account type must be one of: checking, savings, credit_card, cash, investment")
	ErrInvalidCurrency    = validationError("currency must be a 3-letter code")
	ErrSameAccount        = validationError("source and destination accounts must be different")
	ErrCategoryDepth      = validationError("cannot create subcategories more than 2 levels deep")
	ErrDuplicateCategory  = validationError("a category with this name already exists")
)

type fieldError struct {
	msg string
}

func (e *fieldError) Error() string        { return e.msg }
func (e *fieldError) Is(target error) bool { return target == ErrValidation }

func validationError(msg string) error {
	return &fieldError{msg: msg}
}

// NotFound reports a missing entity, e.g. NotFound("account", id).
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// Invalid wraps ErrValidation with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// RuleViolation wraps ErrBusinessRule with a message.
func RuleViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusinessRule, fmt.Sprintf(format, args...))
}

// Misconfigured wraps ErrConfiguration with a message.
func Misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
