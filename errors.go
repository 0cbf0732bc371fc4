package hl7ql

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure the engine can return. No other error shape
// crosses the engine boundary; callers branch on the kind instead of text.
type ErrorKind string

const (
	// InvalidAddress marks a malformed address string.
	InvalidAddress ErrorKind = "invalid_address"
	// InvalidFilterExpression marks filter entries that do not match the
	// filter grammar; the message names every offending label.
	InvalidFilterExpression ErrorKind = "invalid_filter_expression"
	// InvalidCustomLogic marks a custom-logic expression that failed
	// validation; the message states the violated rule.
	InvalidCustomLogic ErrorKind = "invalid_custom_logic"
	// NoMatchingData marks a well-formed query whose addressed segment
	// never occurs in any message.
	NoMatchingData ErrorKind = "no_matching_data"
)

// QueryError is the tagged failure returned in place of a result.
type QueryError struct {
	Kind    ErrorKind
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func queryErrorf(kind ErrorKind, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or empty when err is not a QueryError.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}
