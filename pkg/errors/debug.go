package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// sqliteUniquePrefix is how the test database reports a unique index hit.
const sqliteUniquePrefix = "UNIQUE constraint failed: "

// Diagnostic is the log-side view of a failed request or job. Database
// failures carry the SQLSTATE and the index that fired, so a reused MonCash
// transaction or a colliding delivery code is identifiable from the log line.
type Diagnostic struct {
	Message    string
	Code       Code
	Chain      []string
	SQLState   string
	Constraint string
	Table      string
	Detail     string
}

// Diagnose unwraps err into a Diagnostic.
func Diagnose(err error) Diagnostic {
	if err == nil {
		return Diagnostic{}
	}

	d := Diagnostic{Message: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.SQLState = pgxErr.Code
		d.Constraint = pgxErr.ConstraintName
		d.Table = pgxErr.TableName
		d.Detail = pgxErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState = string(pqErr.Code)
		d.Constraint = pqErr.Constraint
		d.Table = pqErr.Table
		d.Detail = pqErr.Detail
	default:
		if i := strings.Index(d.Message, sqliteUniquePrefix); i >= 0 {
			cols := d.Message[i+len(sqliteUniquePrefix):]
			d.Constraint = cols
			if table, _, ok := strings.Cut(cols, "."); ok {
				d.Table = table
			}
		}
	}

	// The key detail of a delivery code collision spells out the code.
	if strings.Contains(d.Constraint, "delivery_code") {
		d.Detail = ""
	}
	return d
}

// Fields returns the populated parts of d as structured log fields.
func (d Diagnostic) Fields() map[string]any {
	fields := map[string]any{"error": d.Message}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if d.SQLState != "" {
		fields["sql_state"] = d.SQLState
	}
	if d.Constraint != "" {
		fields["db_constraint"] = d.Constraint
	}
	if d.Table != "" {
		fields["db_table"] = d.Table
	}
	if d.Detail != "" {
		fields["db_detail"] = d.Detail
	}
	return fields
}
