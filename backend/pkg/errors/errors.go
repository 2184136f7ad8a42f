package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypePlatform represents chat-platform (Discord) errors
	ErrorTypePlatform ErrorType = "platform"
	// ErrorTypeGraph represents remote graph errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeQueue represents job queue errors
	ErrorTypeQueue ErrorType = "queue"
	// ErrorTypeStorage represents local mirror store errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Storage Errors

// ErrStorageNotFound is returned when a record is not in a mirror collection
type ErrStorageNotFound struct {
	*BaseError
	Collection string
	ID         string
}

func NewStorageNotFound(collection, id string) *ErrStorageNotFound {
	return &ErrStorageNotFound{
		BaseError:  NewBaseError(ErrorTypeStorage, fmt.Sprintf("%s not found: %s", collection, id), nil),
		Collection: collection,
		ID:         id,
	}
}

// ErrStorageMissingID is returned when a record is saved without an id
type ErrStorageMissingID struct {
	*BaseError
	Collection string
}

func NewStorageMissingID(collection string) *ErrStorageMissingID {
	return &ErrStorageMissingID{
		BaseError:  NewBaseError(ErrorTypeStorage, fmt.Sprintf("%s record has no id", collection), nil),
		Collection: collection,
	}
}

// Platform Errors

// ErrPlatformLookupFailed is returned when a channel-info lookup fails
type ErrPlatformLookupFailed struct {
	*BaseError
	ChannelID string
}

func NewPlatformLookupFailed(channelID string, err error) *ErrPlatformLookupFailed {
	return &ErrPlatformLookupFailed{
		BaseError: NewBaseError(ErrorTypePlatform, fmt.Sprintf("channel lookup failed: %s", channelID), err),
		ChannelID: channelID,
	}
}

// ErrPlatformReplyFailed is returned when a reply cannot be delivered
type ErrPlatformReplyFailed struct {
	*BaseError
	ChannelID string
}

func NewPlatformReplyFailed(channelID string, err error) *ErrPlatformReplyFailed {
	return &ErrPlatformReplyFailed{
		BaseError: NewBaseError(ErrorTypePlatform, "failed to send reply", err),
		ChannelID: channelID,
	}
}

// Graph Errors

// ErrGraphRequestFailed is returned when a call to the remote graph fails
type ErrGraphRequestFailed struct {
	*BaseError
	Operation  string
	StatusCode int
	Retryable  bool
}

// NewGraphRequestFailed builds a request error. A zero status means the request
// never got a response, which is treated as transient.
func NewGraphRequestFailed(operation string, statusCode int, err error) *ErrGraphRequestFailed {
	msg := fmt.Sprintf("%s failed", operation)
	if statusCode != 0 {
		msg = fmt.Sprintf("%s failed with status %d", operation, statusCode)
	}
	return &ErrGraphRequestFailed{
		BaseError:  NewBaseError(ErrorTypeGraph, msg, err),
		Operation:  operation,
		StatusCode: statusCode,
		Retryable:  statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}
}

// ErrGraphNotInitialized is returned when an operation needs a graph id that is not known yet
var ErrGraphNotInitialized = NewBaseError(ErrorTypeGraph, "remote graph not initialized", nil)

// ErrGraphUnsupported is returned when a backend cannot apply a signal
type ErrGraphUnsupported struct {
	*BaseError
	Action string
	Detail string
}

func NewGraphUnsupported(action, detail string) *ErrGraphUnsupported {
	return &ErrGraphUnsupported{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("unsupported %s: %s", action, detail), nil),
		Action:    action,
		Detail:    detail,
	}
}

// Queue Errors

// ErrQueueDeadLettered is recorded when a job exhausted its attempts
type ErrQueueDeadLettered struct {
	*BaseError
	JobID    string
	Attempts int
}

func NewQueueDeadLettered(jobID string, attempts int, err error) *ErrQueueDeadLettered {
	return &ErrQueueDeadLettered{
		BaseError: NewBaseError(ErrorTypeQueue, fmt.Sprintf("job %s dead-lettered after %d attempts", jobID, attempts), err),
		JobID:     jobID,
		Attempts:  attempts,
	}
}

// ErrQueueStopped is returned when submitting to a stopped queue
var ErrQueueStopped = NewBaseError(ErrorTypeQueue, "queue stopped", nil)

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// Kind returns the error category
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

type kinded interface {
	Kind() ErrorType
}

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.Kind() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err is a storage not-found error
func IsNotFound(err error) bool {
	var nf *ErrStorageNotFound
	return stderrors.As(err, &nf)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// A timed-out attempt may finish on the next one; cancellation is final
	var timeout *ErrContextTimeout
	if stderrors.As(err, &timeout) {
		return true
	}
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	var reqErr *ErrGraphRequestFailed
	if stderrors.As(err, &reqErr) {
		return reqErr.Retryable
	}
	var unsupported *ErrGraphUnsupported
	if stderrors.As(err, &unsupported) {
		return false
	}
	// Remaining graph errors (connection, breaker) are retryable
	if IsErrorType(err, ErrorTypeGraph) {
		return true
	}
	return false
}
