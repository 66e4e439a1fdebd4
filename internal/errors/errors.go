// Package errors provides centralized error handling with component and
// category metadata for logging and API error mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryRemoteRejected ErrorCategory = "remote-rejected"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryImageIO        ErrorCategory = "image-io"
	CategoryState          ErrorCategory = "state"
	CategoryBusy           ErrorCategory = "busy"
	CategoryNotFound       ErrorCategory = "not-found"
	CategoryGeneric        ErrorCategory = "generic"
)

// ComponentUnknown is used when the component was not set by the builder.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, otherwise defers to the
// wrapped error chain.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() ErrorCategory {
	return ee.Category
}

// GetContext returns a copy of the error context to prevent external
// modification.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new builder around a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component where the error occurred
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair to the error context.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build finalizes the enhanced error.
func (eb *ErrorBuilder) Build() *EnhancedError {
	component := eb.component
	if component == "" {
		component = ComponentUnknown
	}
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// CategoryOf returns the category of err if it is (or wraps) an
// EnhancedError, CategoryGeneric otherwise.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// Standard library passthroughs so callers only import this package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
