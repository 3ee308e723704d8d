// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrStagingBusy       = errors.New("order staging in progress")
	ErrCooldownActive    = errors.New("order click cooldown active")
	ErrNoPrice           = errors.New("no last traded price")
	ErrClientUnavailable = errors.New("order-entry client unavailable")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrTimeout           = errors.New("operation timed out")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDataNotFound      = errors.New("data not found")
	ErrDatabaseError     = errors.New("database error")
	ErrInputValidation   = errors.New("input validation failed")
)

// StagingError reports a failure while staging a basket with the order-entry
// client.
type StagingError struct {
	SessionID string
	Symbol    string
	Step      string // clear, add, finished, publish, trigger
	Leg       int    // 1-based leg index for add, 0 otherwise
	Err       error
}

func (e *StagingError) Error() string {
	if e.Leg > 0 {
		return fmt.Sprintf("staging error [%s] %s %s leg %d: %v", e.SessionID, e.Symbol, e.Step, e.Leg, e.Err)
	}
	return fmt.Sprintf("staging error [%s] %s %s: %v", e.SessionID, e.Symbol, e.Step, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// NewStagingError creates a new StagingError.
func NewStagingError(sessionID, symbol, step string, leg int, err error) *StagingError {
	return &StagingError{
		SessionID: sessionID,
		Symbol:    symbol,
		Step:      step,
		Leg:       leg,
		Err:       err,
	}
}

// FeedError represents an error from a price source.
type FeedError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("feed error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a new FeedError.
func NewFeedError(source, symbol, message string, err error) *FeedError {
	return &FeedError{
		Source:  source,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match any validation failure with ErrInputValidation.
func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
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

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error that wraps the given errors, ignoring nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
