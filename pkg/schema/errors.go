package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaNotFound indicates the schema file was not found
	ErrSchemaNotFound = errors.New("schema file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrSourceNotFound indicates a source was not found in the registry
	ErrSourceNotFound = errors.New("source not found")

	// ErrUnknownType indicates a column type outside the taxonomy
	ErrUnknownType = errors.New("unknown column type")

	// ErrNoColumns indicates a source declared no columns
	ErrNoColumns = errors.New("source has no columns")

	// ErrMissingPrimaryKey indicates a source declared no primary key
	ErrMissingPrimaryKey = errors.New("missing primary_key")

	// ErrPrimaryKeyNotColumn indicates the primary key is not a declared column
	ErrPrimaryKeyNotColumn = errors.New("primary_key is not a declared column")

	// ErrUnknownEnum indicates a column references an undeclared enum
	ErrUnknownEnum = errors.New("enum not declared")

	// ErrEmptyEnum indicates an enum declared no values
	ErrEmptyEnum = errors.New("enum has no values")
)

// SchemaError wraps schema validation errors with source and column context.
type SchemaError struct {
	Source string // Source being validated
	Column string // Column name (optional)
	Err    error  // Underlying error
}

// Error returns formatted error message
func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("source '%s': column '%s': %v", e.Source, e.Column, e.Err)
	}
	return fmt.Sprintf("source '%s': %v", e.Source, e.Err)
}

// Unwrap returns the underlying error
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// NewSchemaError creates a new schema error
func NewSchemaError(source, column string, err error) *SchemaError {
	return &SchemaError{
		Source: source,
		Column: column,
		Err:    err,
	}
}
