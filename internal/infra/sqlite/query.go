package sqlite

import (
	"fmt"
	"strings"

	"github.com/chrisconley/tally/internal"
)

// selectBuilder renders the scope, window and filters of an EventQuery as a
// WHERE clause over the events table. Property values live in the JSON
// properties column; a missing property reads as "".
type selectBuilder struct {
	query internal.EventQuery
}

func jsonPath(property string) string {
	return `$."` + property + `"`
}

func propertyExpr() string {
	return "COALESCE(json_extract(properties, ?), '')"
}

func (b selectBuilder) where() (string, []any) {
	w := b.query.Window
	clauses := []string{
		"organization_id = ?",
		"subscription_id = ?",
		"code = ?",
		"timestamp >= ?",
		"timestamp < ?",
	}
	args := []any{
		w.OrganizationID().ToString(),
		w.SubscriptionID().ToString(),
		b.query.Code.ToString(),
		w.From().UnixNano(),
		w.To().UnixNano(),
	}
	if b.query.ExcludeTransactionID != "" {
		clauses = append(clauses, "transaction_id <> ?")
		args = append(args, b.query.ExcludeTransactionID)
	}
	for _, f := range b.query.SortedFilters() {
		clauses = append(clauses, propertyExpr()+" = ?")
		args = append(args, jsonPath(f.Property()), f.Equals())
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// groupColumns returns one select expression per grouping field, aliased g0..gN.
func (b selectBuilder) groupColumns() ([]string, []string, []any) {
	fields := b.query.GroupBy.Fields()
	columns := make([]string, len(fields))
	aliases := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, field := range fields {
		aliases[i] = fmt.Sprintf("g%d", i)
		columns[i] = propertyExpr() + " AS " + aliases[i]
		args[i] = jsonPath(field)
	}
	return columns, aliases, args
}

// aggregate renders "SELECT <groups>, <expr> FROM events WHERE ... GROUP BY <groups>".
// exprArgs bind placeholders inside expr.
func (b selectBuilder) aggregate(expr string, exprArgs ...any) (string, []any) {
	columns, aliases, groupArgs := b.groupColumns()
	where, whereArgs := b.where()

	sql := "SELECT " + strings.Join(append(columns, expr), ", ") + " FROM events " + where
	if len(aliases) > 0 {
		sql += " GROUP BY " + strings.Join(aliases, ", ")
	}

	args := append(groupArgs, exprArgs...)
	args = append(args, whereArgs...)
	return sql, args
}

// rows renders the per-event projection used by folds computed in Go:
// group values, the raw field value and the operation, oldest first.
func (b selectBuilder) rows() (string, []any) {
	columns, _, groupArgs := b.groupColumns()
	where, whereArgs := b.where()

	field := "NULL"
	var fieldArgs []any
	if !b.query.Field.IsZero() {
		field = "json_extract(properties, ?)"
		fieldArgs = append(fieldArgs, jsonPath(b.query.Field.ToString()))
	}

	columns = append(columns, field, "json_extract(properties, ?)")
	sql := "SELECT " + strings.Join(columns, ", ") + " FROM events " + where +
		" ORDER BY timestamp, id"

	args := append(groupArgs, fieldArgs...)
	args = append(args, jsonPath(internal.OperationTypeProperty))
	args = append(args, whereArgs...)
	return sql, args
}
