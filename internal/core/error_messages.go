package core

// # Error Codes Reference
//
// Job and file error messages shown through the status API are mapped to a
// user message with a code for support reference. Codes are grouped by the
// stage that failed:
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid configuration: the configuration bag failed validation
//	         Patterns: "invalid import configuration"
//	IMP002 - Organization not found: the source organization does not exist
//	         Patterns: "resolve organization"
//	IMP003 - Scope not found: the target application does not exist
//	         Patterns: "resolve scope"
//	IMP004 - System busy: too many files importing
//	         Patterns: "too many concurrent file imports"
//	IMP005 - State conflict: the job or file already finished
//	         Patterns: "invalid state transition"
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Bucket missing: the source bucket does not exist
//	         Patterns: "bucket does not exist", "no such bucket"
//	SRC002 - Access denied: the storage credentials were rejected
//	         Patterns: "access denied"
//	SRC003 - File missing: a listed file disappeared before download
//	         Patterns: "no such key", "key does not exist"
//	SRC004 - Download failed: the file could not be fetched
//	         Patterns: "fetch file"
//
// # Parse Errors (PAR001-PAR099)
//
//	PAR001 - Truncated export: the file ended inside a record
//	         Patterns: "unexpected eof"
//	PAR002 - Malformed export: the file is not a valid snapshot export
//	         Patterns: "malformed export"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key        Patterns: "duplicate key"
//	DB002 - Foreign key          Patterns: "violates foreign key"
//	DB003 - Connection refused   Patterns: "connection refused"
//	DB004 - Connection reset     Patterns: "connection reset"
//	DB005 - Deadlock             Patterns: "deadlock"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Cancelled   Patterns: "context canceled"
//	REQ002 - Timed out   Patterns: "context deadline exceeded", "timeout"
//	REQ003 - Bad id      Patterns: "invalid import id"
//	REQ004 - Unknown     Patterns: "not found" (checked last)
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. The original message is kept in the
// job or file record and in the logs.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Import
	{"invalid import configuration", UserMessage{
		Message: "The import configuration is invalid",
		Action:  "Check organizationId, applicationId and the storage_info bucket",
		Code:    "IMP001",
	}},
	{"resolve organization", UserMessage{
		Message: "The source organization was not found",
		Action:  "Verify the organizationId",
		Code:    "IMP002",
	}},
	{"resolve scope", UserMessage{
		Message: "The target application was not found",
		Action:  "Verify the applicationId belongs to the organization",
		Code:    "IMP003",
	}},
	{"too many concurrent file imports", UserMessage{
		Message: "System is busy importing other files",
		Action:  "The file will be retried; no action needed",
		Code:    "IMP004",
	}},
	{"invalid state transition", UserMessage{
		Message: "The import already finished",
		Action:  "Start a new import to load the data again",
		Code:    "IMP005",
	}},

	// Source
	{"bucket does not exist", UserMessage{
		Message: "The source bucket does not exist",
		Action:  "Check bucket_location and endpoint",
		Code:    "SRC001",
	}},
	{"no such bucket", UserMessage{
		Message: "The source bucket does not exist",
		Action:  "Check bucket_location and endpoint",
		Code:    "SRC001",
	}},
	{"access denied", UserMessage{
		Message: "Access to the source bucket was denied",
		Action:  "Check the storage credentials",
		Code:    "SRC002",
	}},
	{"no such key", UserMessage{
		Message: "A source file disappeared before it was downloaded",
		Action:  "Re-export the snapshot and start a new import",
		Code:    "SRC003",
	}},
	{"key does not exist", UserMessage{
		Message: "A source file disappeared before it was downloaded",
		Action:  "Re-export the snapshot and start a new import",
		Code:    "SRC003",
	}},
	{"fetch file", UserMessage{
		Message: "A source file could not be downloaded",
		Action:  "Please try again in a few moments",
		Code:    "SRC004",
	}},

	// Parse
	{"unexpected eof", UserMessage{
		Message: "The export file is truncated",
		Action:  "Re-export the snapshot; the file ends inside a record",
		Code:    "PAR001",
	}},
	{"malformed export", UserMessage{
		Message: "The export file is not a valid snapshot",
		Action:  "Check that the file was produced by the exporter",
		Code:    "PAR002",
	}},

	// Database
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Records imported twice are rejected by the store",
		Code:    "DB001",
	}},
	{"violates foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Make sure the entities were imported first",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB005",
	}},

	// Request
	{"context canceled", UserMessage{
		Message: "The operation was cancelled",
		Action:  "The import resumes from its last completed pass when restarted",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "The operation timed out",
		Action:  "Please try again",
		Code:    "REQ002",
	}},
	{"timeout", UserMessage{
		Message: "The operation timed out",
		Action:  "Please try again",
		Code:    "REQ002",
	}},
	{"invalid import id", UserMessage{
		Message: "The import id is not valid",
		Action:  "Use the id returned when the import was scheduled",
		Code:    "REQ003",
	}},
	{"not found", UserMessage{
		Message: "The import was not found",
		Action:  "Check the import id",
		Code:    "REQ004",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return MapMessage(err.Error())
}

// MapMessage maps a stored error message. An empty message maps to an empty
// UserMessage.
func MapMessage(text string) UserMessage {
	if text == "" {
		return UserMessage{}
	}
	lower := strings.ToLower(text)
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
