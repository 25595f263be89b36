package warehouse

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqlStateTxAborted is the in_failed_sql_transaction SQLSTATE: a prior
// failure poisons the transaction until an explicit rollback.
const sqlStateTxAborted = "25P02"

// Error wraps a driver error with its SQLSTATE classification so the engine
// can make retry decisions structurally.
type Error struct {
	err      error
	sqlState string
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// SQLState returns the five-character SQLSTATE code, or empty when the
// failure was not a server error.
func (e *Error) SQLState() string {
	return e.sqlState
}

// TransactionAborted reports whether the statement failed because the
// connection sits in an aborted transaction.
func (e *Error) TransactionAborted() bool {
	return e.sqlState == sqlStateTxAborted
}

// classify attaches SQLSTATE metadata to server errors. Non-server errors
// (network, context cancellation) pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{err: err, sqlState: pgErr.Code}
	}
	return err
}
