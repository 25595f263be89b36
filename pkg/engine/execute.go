package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Rows is the minimal cursor surface the engine needs from a result set.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Conn is a single pooled warehouse connection. The engine holds it for the
// duration of one statement plus its bounded retry, never longer.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Rollback(ctx context.Context) error
	Release()
}

// ConnectionProvider hands out pooled connections. Implementations own all
// pooling and serialization; the engine never reaches into ambient state.
type ConnectionProvider interface {
	Acquire(ctx context.Context) (Conn, error)
}

// ResultEnvelope is the normalized result of one executed statement. Every
// cell is a JSON-representable scalar, RowCount always equals len(Rows), and
// Truncated is set whenever the returned row count equals the applied cap,
// the only observable signal of possible truncation without a second query.
type ResultEnvelope struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	SQL       string           `json:"sql"`
}

// Executor runs rendered statements against a pooled connection, recovering
// exactly once from an aborted-transaction state.
type Executor struct {
	provider ConnectionProvider
	logger   *zap.Logger
}

// NewExecutor builds an executor over the given connection provider.
func NewExecutor(provider ConnectionProvider, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{provider: provider, logger: logger}
}

// Execute runs sql with the bound arguments, fetching at most cap rows
// (all rows when cap <= 0).
//
// Two states: fresh and retried-once. A failure classified as an aborted
// transaction while fresh triggers an explicit rollback and one retry; any
// other failure, or a second failure, is fatal.
func (e *Executor) Execute(ctx context.Context, sql string, args []any, cap int) (*ResultEnvelope, error) {
	conn, err := e.provider.Acquire(ctx)
	if err != nil {
		return nil, &ExecutionError{Err: fmt.Errorf("acquire connection: %w", err)}
	}
	defer conn.Release()

	retried := false
	for {
		// Clear any poisoned transaction state left by a previous statement.
		e.bestEffort("defensive rollback", func() error { return conn.Rollback(ctx) })

		env, err := e.runOnce(ctx, conn, sql, args, cap)
		if err == nil {
			return env, nil
		}
		if !retried && IsTransactionAborted(err) {
			e.logger.Warn("aborted transaction, rolling back and retrying once", zap.Error(err))
			e.bestEffort("recovery rollback", func() error { return conn.Rollback(ctx) })
			retried = true
			continue
		}
		return nil, &ExecutionError{Err: err}
	}
}

func (e *Executor) runOnce(ctx context.Context, conn Conn, sql string, args []any, cap int) (*ResultEnvelope, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := rows.Columns()
	data := make([]map[string]any, 0)
	for rows.Next() {
		if cap > 0 && len(data) == cap {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			var v any
			if i < len(values) {
				v = values[i]
			}
			row[col] = normalizeValue(v)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ResultEnvelope{
		Columns:   columns,
		Rows:      data,
		RowCount:  len(data),
		Truncated: cap > 0 && len(data) == cap,
		SQL:       sql,
	}, nil
}

// bestEffort runs an ancillary operation whose failure must not mask the
// primary statement. The error is logged at debug level and discarded.
func (e *Executor) bestEffort(name string, fn func() error) {
	if err := fn(); err != nil {
		e.logger.Debug("best-effort operation failed", zap.String("op", name), zap.Error(err))
	}
}

// normalizeValue maps a driver value to a JSON-representable scalar. Binary
// values decode as text (hex when not valid UTF-8), timestamps render in
// their canonical textual form, and anything non-primitive is stringified so
// no diagnostic information is lost.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return hex.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
