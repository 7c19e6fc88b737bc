package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/coroutine/state"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errors []ValidationError

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}

	errors = append(errors, validateRuntime(c.Runtime)...)

	if c.Walker.MaxDepth <= 0 {
		errors = append(errors, ValidationError{
			Field:   "walker.max_depth",
			Message: "max depth must be positive",
		})
	}

	if c.Session.QueueSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.queue_size",
			Message: "queue size must be positive",
		})
	}

	if c.Output.Format != "text" && c.Output.Format != "json" {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Message: "format must be 'text' or 'json'",
		})
	}

	if c.Output.PlumbingFilter != "" {
		if _, err := classify.NewFilter(c.Output.PlumbingFilter); err != nil {
			errors = append(errors, ValidationError{
				Field:   "output.plumbing_filter",
				Message: err.Error(),
			})
		}
	} else if c.Output.HidePlumbing {
		errors = append(errors, ValidationError{
			Field:   "output.plumbing_filter",
			Message: "hide_plumbing requires a plumbing filter",
		})
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}

func validateRuntime(r RuntimeConfig) []ValidationError {
	var errors []ValidationError

	required := map[string]string{
		"runtime.abstract_coroutine_type": r.AbstractCoroutineType,
		"runtime.continuation_type":       r.ContinuationType,
		"runtime.completion_field":        r.CompletionField,
		"runtime.location_accessor":       r.LocationAccessor,
		"runtime.invoke_suspend_method":   r.InvokeSuspendMethod,
		"runtime.continuation_variable":   r.ContinuationVariable,
	}
	for field, value := range required {
		if value == "" {
			errors = append(errors, ValidationError{Field: field, Message: "must not be empty"})
		}
	}

	if _, err := state.CompilePattern(r.StatePattern); err != nil {
		errors = append(errors, ValidationError{
			Field:   "runtime.state_pattern",
			Message: err.Error(),
		})
	}

	return errors
}
