package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/chrisconley/tally/internal"
	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventStore implements internal.EventStore over the events table.
type EventStore struct {
	db *DB
}

var (
	_ internal.EventStore  = (*EventStore)(nil)
	_ internal.Snapshotter = (*EventStore)(nil)
)

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// RecordBatch inserts events in a single transaction.
func (s *EventStore) RecordBatch(ctx context.Context, events []internal.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (organization_id, subscription_id, code, transaction_id, timestamp, properties)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return classify("prepare insert", err)
	}
	defer stmt.Close()

	for _, e := range events {
		properties, err := json.Marshal(e.Properties.ToMap())
		if err != nil {
			return aggerrors.Wrap(aggerrors.TypeInvalidRequest, "encode properties", err)
		}
		_, err = stmt.ExecContext(ctx,
			e.OrganizationID.ToString(),
			e.SubscriptionID.ToString(),
			e.Code.ToString(),
			e.TransactionID.ToString(),
			e.Timestamp.ToTime().UnixNano(),
			string(properties),
		)
		if isConstraintViolation(err) {
			return aggerrors.Wrap(aggerrors.TypeInvalidRequest,
				fmt.Sprintf("duplicate transaction %q", e.TransactionID.ToString()), err)
		}
		if err != nil {
			return classify("insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("commit insert", err)
	}
	return nil
}

// Snapshot runs fn against a single read transaction. SQLite serves every
// read of the transaction from the same database snapshot.
func (s *EventStore) Snapshot(ctx context.Context, fn func(internal.EventStore) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify("begin snapshot", err)
	}
	defer tx.Rollback()

	if err := fn(view{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("end snapshot", err)
	}
	return nil
}

func (s *EventStore) view() view {
	return view{q: s.db}
}

func (s *EventStore) Count(ctx context.Context, q internal.EventQuery) (int64, error) {
	return s.view().Count(ctx, q)
}

func (s *EventStore) GroupedCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return s.view().GroupedCount(ctx, q)
}

func (s *EventStore) Sum(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return s.view().Sum(ctx, q)
}

func (s *EventStore) GroupedSum(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return s.view().GroupedSum(ctx, q)
}

func (s *EventStore) UniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	return s.view().UniqueCount(ctx, q)
}

func (s *EventStore) GroupedUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return s.view().GroupedUniqueCount(ctx, q)
}

func (s *EventStore) ActiveUniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	return s.view().ActiveUniqueCount(ctx, q)
}

func (s *EventStore) GroupedActiveUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return s.view().GroupedActiveUniqueCount(ctx, q)
}

func (s *EventStore) Max(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return s.view().Max(ctx, q)
}

func (s *EventStore) GroupedMax(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return s.view().GroupedMax(ctx, q)
}

func (s *EventStore) Latest(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return s.view().Latest(ctx, q)
}

func (s *EventStore) GroupedLatest(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return s.view().GroupedLatest(ctx, q)
}

func (s *EventStore) EventValues(ctx context.Context, q internal.EventQuery) ([]internal.Decimal, error) {
	return s.view().EventValues(ctx, q)
}

func (s *EventStore) LastEvent(ctx context.Context, q internal.EventQuery) (*internal.Event, error) {
	return s.view().LastEvent(ctx, q)
}

func (s *EventStore) Event(ctx context.Context, organizationID internal.OrganizationID, transactionID internal.EventTransactionID) (*internal.Event, error) {
	return s.view().Event(ctx, organizationID, transactionID)
}

// view runs queries on a connection pool or inside a snapshot transaction.
// Counts are computed by SQLite; decimal aggregates are folded in Go so
// field values keep their full precision.
type view struct {
	q querier
}

func (v view) count(ctx context.Context, operation string, q internal.EventQuery, expr string, exprArgs ...any) ([]internal.GroupCount, error) {
	b := selectBuilder{query: q}
	query, args := b.aggregate(expr, exprArgs...)

	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(operation, err)
	}
	defer rows.Close()

	nFields := len(q.GroupBy.Fields())
	var out []internal.GroupCount
	for rows.Next() {
		values := make([]string, nFields)
		dest := make([]any, 0, nFields+1)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var n int64
		dest = append(dest, &n)
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(operation, err)
		}
		if nFields > 0 && n == 0 {
			continue
		}
		out = append(out, internal.GroupCount{Groups: groupValues(q.GroupBy, values), Value: n})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(operation, err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Groups.Less(out[j].Groups) })
	return out, nil
}

func (v view) scalarCount(ctx context.Context, operation string, q internal.EventQuery, expr string, exprArgs ...any) (int64, error) {
	groups, err := v.count(ctx, operation, q.Ungrouped(), expr, exprArgs...)
	if err != nil {
		return 0, err
	}
	return internal.ScalarCount(groups), nil
}

// rows loads the projection of every selected event, oldest first, with
// ties in insertion order.
func (v view) rows(ctx context.Context, operation string, q internal.EventQuery) ([]internal.EventRow, error) {
	b := selectBuilder{query: q}
	query, args := b.rows()

	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(operation, err)
	}
	defer rows.Close()

	nFields := len(q.GroupBy.Fields())
	var out []internal.EventRow
	for rows.Next() {
		values := make([]string, nFields)
		dest := make([]any, 0, nFields+2)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var value, op sql.NullString
		dest = append(dest, &value, &op)
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(operation, err)
		}
		out = append(out, internal.EventRow{
			Groups:    groupValues(q.GroupBy, values),
			Value:     value.String,
			HasValue:  value.Valid,
			Operation: operationOf(op),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(operation, err)
	}
	return out, nil
}

func (v view) values(ctx context.Context, operation string, q internal.EventQuery, fold func([]internal.EventRow) ([]internal.GroupValue, error)) ([]internal.GroupValue, error) {
	rows, err := v.rows(ctx, operation, q)
	if err != nil {
		return nil, err
	}
	groups, err := fold(rows)
	if err != nil {
		return nil, aggerrors.StoreQueryFailed(operation, err)
	}
	return groups, nil
}

func (v view) scalarValue(ctx context.Context, operation string, q internal.EventQuery, fold func([]internal.EventRow) ([]internal.GroupValue, error)) (internal.Decimal, error) {
	groups, err := v.values(ctx, operation, q.Ungrouped(), fold)
	if err != nil {
		return internal.Decimal{}, err
	}
	return internal.ScalarValue(groups), nil
}

func (v view) Count(ctx context.Context, q internal.EventQuery) (int64, error) {
	return v.scalarCount(ctx, "count", q, "COUNT(*)")
}

func (v view) GroupedCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return v.count(ctx, "grouped count", q, "COUNT(*)")
}

func (v view) Sum(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "sum", q, internal.FoldSum)
}

func (v view) GroupedSum(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped sum", q, internal.FoldSum)
}

func (v view) UniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	return v.scalarCount(ctx, "unique count", q, "COUNT(DISTINCT json_extract(properties, ?))", jsonPath(q.Field.ToString()))
}

// GroupedUniqueCount drops groups whose events all lack the field, matching
// the row fold used for active unique counts.
func (v view) GroupedUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return v.count(ctx, "grouped unique count", q, "COUNT(DISTINCT json_extract(properties, ?))", jsonPath(q.Field.ToString()))
}

func (v view) ActiveUniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	rows, err := v.rows(ctx, "active unique count", q.Ungrouped())
	if err != nil {
		return 0, err
	}
	return internal.ScalarCount(internal.FoldActiveUniqueCount(rows)), nil
}

func (v view) GroupedActiveUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	rows, err := v.rows(ctx, "grouped active unique count", q)
	if err != nil {
		return nil, err
	}
	return internal.FoldActiveUniqueCount(rows), nil
}

func (v view) Max(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "max", q, internal.FoldMax)
}

func (v view) GroupedMax(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped max", q, internal.FoldMax)
}

func (v view) Latest(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "latest", q, internal.FoldLatest)
}

func (v view) GroupedLatest(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped latest", q, internal.FoldLatest)
}

func (v view) EventValues(ctx context.Context, q internal.EventQuery) ([]internal.Decimal, error) {
	rows, err := v.rows(ctx, "event values", q.Ungrouped())
	if err != nil {
		return nil, err
	}
	values, err := internal.FoldValues(rows)
	if err != nil {
		return nil, aggerrors.StoreQueryFailed("event values", err)
	}
	return values, nil
}

const eventColumns = "transaction_id, organization_id, subscription_id, code, timestamp, properties"

func (v view) LastEvent(ctx context.Context, q internal.EventQuery) (*internal.Event, error) {
	where, args := selectBuilder{query: q.Ungrouped()}.where()
	row := v.q.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events "+where+" ORDER BY timestamp DESC, id DESC LIMIT 1",
		args...)
	return scanEvent("last event", row)
}

func (v view) Event(ctx context.Context, organizationID internal.OrganizationID, transactionID internal.EventTransactionID) (*internal.Event, error) {
	row := v.q.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE organization_id = ? AND transaction_id = ?",
		organizationID.ToString(), transactionID.ToString())
	return scanEvent("event", row)
}

func scanEvent(operation string, row *sql.Row) (*internal.Event, error) {
	var (
		spec       specs.EventSpec
		timestamp  int64
		properties string
	)
	err := row.Scan(&spec.TransactionID, &spec.OrganizationID, &spec.SubscriptionID, &spec.Code, &timestamp, &properties)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(operation, err)
	}

	spec.Timestamp = time.Unix(0, timestamp).UTC()
	if err := json.Unmarshal([]byte(properties), &spec.Properties); err != nil {
		return nil, aggerrors.StoreQueryFailed(operation, fmt.Errorf("decode properties: %w", err))
	}
	e, err := internal.NewEvent(spec)
	if err != nil {
		return nil, aggerrors.StoreQueryFailed(operation, err)
	}
	return &e, nil
}

func groupValues(key internal.GroupingKey, values []string) internal.GroupValues {
	fields := key.Fields()
	out := make([]internal.GroupField, len(fields))
	for i, field := range fields {
		out[i] = internal.GroupField{Key: field, Value: values[i]}
	}
	return internal.NewGroupValues(out...)
}

func operationOf(op sql.NullString) string {
	if op.Valid && op.String == internal.OperationRemove {
		return internal.OperationRemove
	}
	return internal.OperationAdd
}

// classify separates connectivity failures from query failures.
func classify(operation string, err error) error {
	if aggerrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return aggerrors.StoreUnavailable(err).WithContext("operation", operation)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return aggerrors.StoreUnavailable(err).WithContext("operation", operation)
		}
	}
	return aggerrors.StoreQueryFailed(operation, err)
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
