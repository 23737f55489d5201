package common

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validator collects every failing rule instead of stopping at the first one.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// Field validates a field and collects errors. Rules stop at the first failure for a
// given field so one bad value yields one message.
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
			break
		}
	}
	return v
}

// Fail records a failure that is not tied to a rule.
func (v *Validator) Fail(fieldName string, value interface{}, message string) *Validator {
	v.errors = append(v.errors, ValidationError{Field: fieldName, Value: value, Message: message})
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Messages returns one human-readable line per failure.
func (v *Validator) Messages() []string {
	messages := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return messages
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	return strings.Join(v.Messages(), "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *ValidationError

// Required rejects nil values and blank strings.
func Required(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
		}
	}
	return nil
}

// String rejects anything that is not a string. Nil passes; pair with Required.
func String(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return nil
	}
	if _, ok := value.(string); !ok {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	return nil
}

func MaxLength(max int) ValidationRule {
	return func(fieldName string, value interface{}) *ValidationError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("must be at most %d characters", max),
			}
		}
		return nil
	}
}

func OneOf(allowed ...string) ValidationRule {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(fieldName string, value interface{}) *ValidationError {
		if s, ok := value.(string); ok {
			if _, found := set[s]; found {
				return nil
			}
		}
		return &ValidationError{
			Field:   fieldName,
			Value:   value,
			Message: "must be one of " + strings.Join(allowed, ", "),
		}
	}
}

// Matches applies a string predicate; non-strings are left to String.
func Matches(pred func(string) bool, description string) ValidationRule {
	return func(fieldName string, value interface{}) *ValidationError {
		s, ok := value.(string)
		if !ok || pred(s) {
			return nil
		}
		return &ValidationError{Field: fieldName, Value: value, Message: "must match " + description}
	}
}

// PositiveNumber distinguishes a missing or non-numeric value, NaN, an infinite
// value, and a non-positive value.
func PositiveNumber(fieldName string, value interface{}) *ValidationError {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return &ValidationError{Field: fieldName, Value: value, Message: "is required and must be a number"}
	}
	if math.IsNaN(f) {
		return &ValidationError{Field: fieldName, Value: value, Message: "must not be NaN"}
	}
	if math.IsInf(f, 0) {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a finite number"}
	}
	if f <= 0 {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a positive number"}
	}
	return nil
}
