package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is. Every typed error below matches exactly one.
var (
	ErrSourceFormat         = errors.New("source format error")
	ErrMissingParent        = errors.New("missing parent")
	ErrNullValue            = errors.New("null value")
	ErrDuplicateMeasurement = errors.New("duplicate measurement")
	ErrInvalidIndicator     = errors.New("invalid indicator")
	ErrMalformedRow         = errors.New("malformed row")
	ErrIntegrityViolation   = errors.New("integrity violation")
	ErrStorageWrite         = errors.New("storage write failed")
)

// SourceFormatError reports a source whose columns do not match its level's shape.
// Fatal: the run aborts before resolution.
type SourceFormatError struct {
	Source  string
	Missing []string
	Detail  string
}

func (e *SourceFormatError) Error() string {
	var b strings.Builder
	b.WriteString("source format error")
	if e.Source != "" {
		b.WriteString(" in ")
		b.WriteString(e.Source)
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing required columns: ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *SourceFormatError) Is(target error) bool { return target == ErrSourceFormat }

// MissingParentError reports a child whose enclosing entity cannot be resolved.
type MissingParentError struct {
	Level       Level
	Name        string
	ParentLevel Level
	ParentName  string
}

func (e *MissingParentError) Error() string {
	if strings.TrimSpace(e.ParentName) == "" {
		return fmt.Sprintf("missing parent: %s %q names no %s", e.Level, e.Name, e.ParentLevel)
	}
	return fmt.Sprintf("missing parent: %s %q references unknown %s %q",
		e.Level, e.Name, e.ParentLevel, e.ParentName)
}

func (e *MissingParentError) Is(target error) bool { return target == ErrMissingParent }

// NullValueError reports a candidate whose value is empty or not a number.
type NullValueError struct {
	Column string
}

func (e *NullValueError) Error() string {
	return fmt.Sprintf("null value in %s", e.Column)
}

func (e *NullValueError) Is(target error) bool { return target == ErrNullValue }

// DuplicateMeasurementError reports a candidate whose natural key was already accepted.
// The existing value is kept.
type DuplicateMeasurementError struct {
	Key      MeasurementKey
	Existing float64
	Rejected float64
}

func (e *DuplicateMeasurementError) Error() string {
	return fmt.Sprintf("duplicate measurement for entity %d, indicator %d, year %d (kept %g, rejected %g)",
		e.Key.EntityID, e.Key.IndicatorID, e.Key.Year, e.Existing, e.Rejected)
}

func (e *DuplicateMeasurementError) Is(target error) bool { return target == ErrDuplicateMeasurement }

// Conflict reports whether the rejected value differs from the kept one.
func (e *DuplicateMeasurementError) Conflict() bool {
	d := e.Existing - e.Rejected
	return d > valueEpsilon || d < -valueEpsilon
}

const valueEpsilon = 1e-9

// InvalidIndicatorError reports indicator metadata that cannot form a definition.
type InvalidIndicatorError struct {
	Name   string
	Reason string
}

func (e *InvalidIndicatorError) Error() string {
	return fmt.Sprintf("invalid indicator %q: %s", e.Name, e.Reason)
}

func (e *InvalidIndicatorError) Is(target error) bool { return target == ErrInvalidIndicator }

// MalformedRowError reports a row the supplier could not map, like an unparsable year.
type MalformedRowError struct {
	Field string
	Value string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row: invalid %s %q", e.Field, e.Value)
}

func (e *MalformedRowError) Is(target error) bool { return target == ErrMalformedRow }

// IntegrityViolationError is fatal for the run. It comes from the validator,
// from store constraints at load time, or from post-load quality checks.
type IntegrityViolationError struct {
	Violations []string
	Err        error // Underlying store error, if any
}

func (e *IntegrityViolationError) Error() string {
	msg := "integrity violation"
	if len(e.Violations) > 0 {
		msg += ": " + strings.Join(e.Violations, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityViolationError) Is(target error) bool { return target == ErrIntegrityViolation }

func (e *IntegrityViolationError) Unwrap() error { return e.Err }

// StorageWriteError is a storage failure that survived every retry.
type StorageWriteError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write failed during %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StorageWriteError) Is(target error) bool { return target == ErrStorageWrite }

func (e *StorageWriteError) Unwrap() error { return e.Err }
