// Package domain defines domain-specific errors.
// These errors represent business logic failures and are independent of infrastructure.
package domain

import (
	"errors"
	"fmt"
)

// Common errors that services can return.
var (
	// ErrTrackNotFound is returned when a requested track cannot be found.
	ErrTrackNotFound = errors.New("track not found")

	// ErrPlaylistEmpty is returned when an operation requires a non-empty playlist.
	ErrPlaylistEmpty = errors.New("playlist is empty")

	// ErrInvalidIndex is returned when a playlist index is out of bounds.
	ErrInvalidIndex = errors.New("invalid playlist index")

	// ErrNotReady is returned by waiters when the engine never became ready.
	ErrNotReady = errors.New("player engine not ready")

	// ErrEngineClosed is returned when the engine was torn down.
	ErrEngineClosed = errors.New("player engine closed")

	// ErrContainerNotFound is returned when the widget mount point never appeared.
	ErrContainerNotFound = errors.New("widget container not found")

	// ErrRuntimeNotLoaded is returned when a widget is requested before its runtime is available.
	ErrRuntimeNotLoaded = errors.New("widget runtime not loaded")

	// ErrWidgetDestroyed is returned by widget methods after Destroy.
	ErrWidgetDestroyed = errors.New("widget destroyed")

	// ErrAutoplayBlocked is returned when the host refuses to start playback without user interaction.
	ErrAutoplayBlocked = errors.New("autoplay blocked")

	// ErrRetriesExhausted is wrapped into the terminal playback error.
	ErrRetriesExhausted = errors.New("playback retries exhausted")

	// ErrKeyNotFound is returned by storages when a key has no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrWatchUnsupported is returned by storages that cannot deliver change notifications.
	ErrWatchUnsupported = errors.New("storage does not support watching")

	// ErrScanCancelled is returned when a library scan is cancelled.
	ErrScanCancelled = errors.New("scan cancelled")

	// ErrScanInProgress is returned when a second scan is started concurrently.
	ErrScanInProgress = errors.New("scan already in progress")
)

// WidgetError represents a playback error reported by the embed widget.
type WidgetError struct {
	Op      string // Operation that failed (e.g., "load", "play")
	MediaID string // External media id (if applicable)
	Code    int    // Error code reported by the widget
	Message string // Error message
	Err     error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *WidgetError) Error() string {
	if e.MediaID != "" {
		return fmt.Sprintf("widget %s failed for '%s': %s (code: %d)", e.Op, e.MediaID, e.Message, e.Code)
	}
	return fmt.Sprintf("widget %s failed: %s (code: %d)", e.Op, e.Message, e.Code)
}

// Unwrap returns the underlying error.
func (e *WidgetError) Unwrap() error {
	return e.Err
}

// NewWidgetError creates a new WidgetError.
func NewWidgetError(op, mediaID string, code int, message string, err error) *WidgetError {
	return &WidgetError{
		Op:      op,
		MediaID: mediaID,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InitializationError is surfaced when the engine cannot bring the widget up.
type InitializationError struct {
	Stage string // "script" or "container" or "widget"
	Err   error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("player initialization failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// NewInitializationError creates a new InitializationError.
func NewInitializationError(stage string, err error) *InitializationError {
	return &InitializationError{Stage: stage, Err: err}
}

// ConfigurationError signals a programmer error: the control surface was used
// without an initialized engine. It is raised with panic, never returned.
type ConfigurationError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("player misconfigured: %s: %s", e.Op, e.Message)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(op, message string) *ConfigurationError {
	return &ConfigurationError{Op: op, Message: message}
}

// RepositoryError represents an error from a storage backend.
// This wraps persistence layer errors with additional context.
type RepositoryError struct {
	Op      string // Operation that failed (e.g., "get", "set", "watch")
	Type    string // Storage type (e.g., "file", "redis", "memory")
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("storage %s.%s failed: %s", e.Type, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError creates a new RepositoryError.
func NewRepositoryError(op, repoType, message string, err error) *RepositoryError {
	return &RepositoryError{
		Op:      op,
		Type:    repoType,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string      // Field that failed validation
	Value   interface{} // Value that failed validation
	Message string      // Error message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ServiceError represents an error from a service layer operation.
type ServiceError struct {
	Service string // Service name (e.g., "PlayerStore", "LibraryService")
	Op      string // Operation that failed
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s.%s failed: %s", e.Service, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(service, op, message string, err error) *ServiceError {
	return &ServiceError{
		Service: service,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
