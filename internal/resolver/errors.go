package resolver

import (
	"fmt"

	"github.com/flowpilot/flowpilot/internal/flowerr"
	"github.com/flowpilot/flowpilot/internal/schema"
)

// MissingRequiredFieldError is raised when a required field has neither a
// raw value nor a default.
type MissingRequiredFieldError struct {
	FieldID  string
	Path     string
	Message  string
	Severity schema.Severity
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("missing required field %q: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("missing required field %q", e.Path)
}

func (e *MissingRequiredFieldError) Kind() flowerr.Kind { return flowerr.KindValidation }

// TypeCoercionError is raised when a value cannot be converted to its
// field's input type.
type TypeCoercionError struct {
	FieldID string
	Path    string
	Value   any
	Want    string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("field %q: cannot use %v (%T) as %s", e.Path, e.Value, e.Value, e.Want)
}

func (e *TypeCoercionError) Kind() flowerr.Kind { return flowerr.KindValidation }

// DynamicOptionsUnavailableError is non-fatal: the editor keeps the prior or
// static options of the field.
type DynamicOptionsUnavailableError struct {
	FieldID  string
	Fallback []schema.Option
	Err      error
}

func (e *DynamicOptionsUnavailableError) Error() string {
	return fmt.Sprintf("dynamic options for %q unavailable: %v", e.FieldID, e.Err)
}

func (e *DynamicOptionsUnavailableError) Unwrap() error { return e.Err }

func (e *DynamicOptionsUnavailableError) Kind() flowerr.Kind { return flowerr.KindDynamicOptions }
