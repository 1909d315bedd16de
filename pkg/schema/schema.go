// Package schema provides the validation collaborator consumed by the request
// lifecycle. A route's schema is a prototype struct; the lifecycle decodes the
// raw body into a fresh instance and hands it here before the handler runs.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one failed field constraint.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

// ValidationError carries the field-level error list produced by a failed
// validation. The lifecycle converts it into a 400 response.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validator validates a decoded value against its declared constraints.
type Validator interface {
	// Validate returns nil for a valid value or a *ValidationError describing
	// every failed field.
	Validate(v any) error
}

// StructValidator validates struct schemas using go-playground/validator tag
// constraints (`validate:"required,email"` and friends).
type StructValidator struct {
	validate *validator.Validate
}

// New creates the default struct validator.
func New() *StructValidator {
	return &StructValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks v against its struct tags. Non-struct values carry no
// constraints and pass unchanged.
func (s *StructValidator) Validate(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Not a struct; nothing to constrain.
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []FieldError{{Message: err.Error()}}}
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fmt.Sprintf("field %q failed on the %q constraint", fe.Field(), fe.Tag()),
		})
	}
	return out
}
