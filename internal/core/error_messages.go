package core

// # Error Codes Reference
//
// Codes let an operator quote a failure from the run summary or the API.
// Typed pipeline errors map by errors.Is; driver errors fall back to message patterns.
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Source format: a source file is missing expected columns or is empty
//	         Action: Compare the file header against the level's column set
//	SRC002 - Source missing: an expected source file does not exist
//	         Action: Check ETL_SOURCE_DIR and the file names
//	         Patterns: "no such file or directory", "source not found"
//
// # Row Rejections (ROW001-ROW099)
//
//	ROW001 - Missing parent: the row names a parent that could not be resolved
//	ROW002 - Invalid indicator: the row has no indicator name
//	ROW003 - Null value: the observed value is empty or not a number
//	ROW004 - Duplicate measurement: the (entity, indicator, year) was already accepted
//	ROW005 - Malformed row: the year or entity name could not be read
//
// # Integrity Errors (INT001-INT099)
//
//	INT001 - Integrity violation: the dataset broke a structural invariant
//	         Action: Inspect the violations; the previous snapshot remains published
//	         Patterns: "foreign key", "unique constraint", "duplicate key"
//
// # Storage Errors (STO001-STO099)
//
//	STO001 - Storage write: the store kept failing after every retry
//	STO002 - Store busy: another run holds the writer lock
//	         Patterns: "database is locked", "lock held", "could not obtain lock"
//	STO003 - Connection: the store could not be reached
//	         Patterns: "connection refused", "connection reset"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check the logs for the original error

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages is checked in order before any pattern.
var sentinelMessages = []sentinelMessage{
	{ErrSourceFormat, UserMessage{
		Message: "A source file does not have the expected columns",
		Action:  "Compare the file header against the level's column set",
		Code:    "SRC001",
	}},
	{ErrMissingParent, UserMessage{
		Message: "The row names a parent that could not be resolved",
		Action:  "Check the parent name spelling or enable ETL_IMPLICIT_PARENTS",
		Code:    "ROW001",
	}},
	{ErrInvalidIndicator, UserMessage{
		Message: "The row has no usable indicator",
		Action:  "Fill in the indicator column",
		Code:    "ROW002",
	}},
	{ErrNullValue, UserMessage{
		Message: "The observed value is empty or not a number",
		Action:  "No action needed unless the value is expected",
		Code:    "ROW003",
	}},
	{ErrDuplicateMeasurement, UserMessage{
		Message: "The measurement was already recorded by an earlier row",
		Action:  "Review the sources for repeated rows; the first value was kept",
		Code:    "ROW004",
	}},
	{ErrMalformedRow, UserMessage{
		Message: "The row could not be read",
		Action:  "Check the year and name columns",
		Code:    "ROW005",
	}},
	{ErrIntegrityViolation, UserMessage{
		Message: "The dataset violates a structural invariant",
		Action:  "Inspect the violations; the previous snapshot remains published",
		Code:    "INT001",
	}},
	{ErrStorageWrite, UserMessage{
		Message: "The snapshot could not be written",
		Action:  "Check the store and run the load stage again",
		Code:    "STO001",
	}},
}

// errorPattern defines a pattern to match and its corresponding message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps driver error text (case-insensitive) to messages.
// The first matching pattern wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Source files
	// =========================================================================
	{"source not found", UserMessage{Message: "An expected source file is missing", Action: "Check ETL_SOURCE_DIR and the file names", Code: "SRC002"}},
	{"no such file or directory", UserMessage{Message: "An expected source file is missing", Action: "Check ETL_SOURCE_DIR and the file names", Code: "SRC002"}},

	// =========================================================================
	// Constraints
	// =========================================================================
	{"foreign key", UserMessage{Message: "A row references a missing parent row", Action: "Inspect the processed tables for the run", Code: "INT001"}},
	{"unique constraint", UserMessage{Message: "A natural key appears twice", Action: "Inspect the processed tables for the run", Code: "INT001"}},
	{"duplicate key", UserMessage{Message: "A natural key appears twice", Action: "Inspect the processed tables for the run", Code: "INT001"}},

	// =========================================================================
	// Locking and connectivity
	// =========================================================================
	{"database is locked", UserMessage{Message: "The store is busy", Action: "Wait for the other run to finish", Code: "STO002"}},
	{"lock held", UserMessage{Message: "Another run holds the writer lock", Action: "Wait for the other run to finish", Code: "STO002"}},
	{"could not obtain lock", UserMessage{Message: "Another run holds the writer lock", Action: "Wait for the other run to finish", Code: "STO002"}},
	{"connection refused", UserMessage{Message: "Unable to connect to the store", Action: "Check DATABASE_URL and that the server is up", Code: "STO003"}},
	{"connection reset", UserMessage{Message: "The store connection was interrupted", Action: "Run the load stage again", Code: "STO003"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the original error",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message.
// Typed pipeline errors are matched with errors.Is; anything else by pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// ReasonCode returns the code for a rejection reason.
func ReasonCode(r Reason) string {
	switch r {
	case ReasonMissingParent:
		return "ROW001"
	case ReasonInvalidIndicator:
		return "ROW002"
	case ReasonNullValue:
		return "ROW003"
	case ReasonDuplicate:
		return "ROW004"
	default:
		return "ROW005"
	}
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
