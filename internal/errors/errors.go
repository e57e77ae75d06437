// Package errors wraps the standard errors package with component and
// category metadata, and reports built errors to telemetry when enabled.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
)

// Category classifies an error for telemetry grouping and HTTP mapping.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryValidation    Category = "validation"
	CategoryNetwork       Category = "network"
	CategoryStorage       Category = "storage"
	CategoryConfiguration Category = "configuration"
	CategoryPush          Category = "push"
	CategoryNotFound      Category = "not-found"
)

// EnhancedError carries the component and category an error originated in.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
	reported  bool
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the subsystem the error was built in.
func (e *EnhancedError) Component() string { return e.component }

// Category returns the error category.
func (e *EnhancedError) Category() Category { return e.category }

// Context returns a copy of the attached context values.
func (e *EnhancedError) Context() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: &EnhancedError{Err: err, category: CategoryGeneric}}
}

// Newf formats a new error and starts building around it.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.err.component = component
	return b
}

func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.err.category = category
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(map[string]any)
	}
	b.err.context[key] = value
	return b
}

// Build finalizes the error and hands it to the telemetry reporter.
// Validation and not-found errors are caller mistakes and are never reported.
func (b *ErrorBuilder) Build() *EnhancedError {
	e := b.err
	if e.category != CategoryValidation && e.category != CategoryNotFound {
		report(e)
	}
	return e
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// NewStd creates a plain sentinel error.
func NewStd(text string) error { return stderrors.New(text) }

// CategoryOf returns the category of the first EnhancedError in err's tree.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// describe renders component/category for telemetry titles.
func (e *EnhancedError) describe() string {
	parts := make([]string, 0, 2)
	if e.component != "" {
		parts = append(parts, e.component)
	}
	parts = append(parts, string(e.category))
	return strings.Join(parts, "/")
}
