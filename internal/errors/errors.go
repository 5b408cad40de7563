// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidState      = errors.New("invalid state")
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrInvalidRange      = errors.New("invalid chart range")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
)

// ValidationError represents a rejected input. No state has been touched
// when one is returned.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidOrder
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewAmountError creates a ValidationError for a rejected money amount.
func NewAmountError(value float64, message string) *ValidationError {
	return &ValidationError{
		Field:   "amount",
		Value:   value,
		Message: message,
		Err:     ErrInvalidAmount,
	}
}

// InsufficientFundsError is returned when the margin an order needs exceeds
// the available balance.
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %.2f, have %.2f", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// NewInsufficientFundsError creates a new InsufficientFundsError.
func NewInsufficientFundsError(required, available float64) *InsufficientFundsError {
	return &InsufficientFundsError{Required: required, Available: available}
}

// NotFoundError represents an unknown position or order id.
type NotFoundError struct {
	Kind string // "position", "order", "account", "symbol"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case "position":
		return ErrPositionNotFound
	case "order":
		return ErrOrderNotFound
	case "account":
		return ErrAccountNotFound
	default:
		return ErrSymbolNotFound
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(kind string, id interface{}) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// StateError represents an operation that is not valid in the current
// lifecycle state, such as closing a CLOSED position.
type StateError struct {
	Kind  string
	ID    string
	State string
	Op    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s with status %s", e.Op, e.Kind, e.ID, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// NewStateError creates a new StateError.
func NewStateError(kind string, id interface{}, state, op string) *StateError {
	return &StateError{Kind: kind, ID: fmt.Sprint(id), State: state, Op: op}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
