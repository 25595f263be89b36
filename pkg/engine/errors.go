package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed, missing, or out-of-range tool argument.
// It is raised at the parameter boundary, before any SQL is rendered.
type ValidationError struct {
	Param string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Msg
	}
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Msg)
}

func validationErrorf(param, format string, args ...any) *ValidationError {
	return &ValidationError{Param: param, Msg: fmt.Sprintf(format, args...)}
}

// RejectedStatementError indicates a statement failed the read-only safety
// checks. It is raised before the connection pool is touched.
type RejectedStatementError struct {
	Reason string
}

func (e *RejectedStatementError) Error() string {
	return e.Reason
}

// ExecutionError wraps a failure from the underlying warehouse engine that is
// not recoverable by the retry layer.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// transactionAborted is implemented by connection-provider errors that carry a
// structured aborted-transaction classification (SQLSTATE 25P02).
type transactionAborted interface {
	TransactionAborted() bool
}

// IsTransactionAborted reports whether err represents an aborted-transaction
// condition that a rollback-and-retry can clear. Providers should return
// errors implementing TransactionAborted(); the message fallback covers
// providers that only surface Redshift's error text.
func IsTransactionAborted(err error) bool {
	if err == nil {
		return false
	}
	var ta transactionAborted
	if errors.As(err, &ta) {
		return ta.TransactionAborted()
	}
	msg := err.Error()
	return strings.Contains(msg, "25P02") ||
		strings.Contains(msg, "current transaction is aborted")
}
