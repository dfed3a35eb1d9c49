package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is set, the violated constraint (or the sqlite column list) must contain it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation && matchesConstraint(pgErr.ConstraintName, constraintName)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlStateUniqueViolation && matchesConstraint(pqErr.Constraint, constraintName)
	}

	// sqlite and wrapped driver errors only expose text.
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "unique constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, strings.ToLower(constraintName))
}

func matchesConstraint(actual, expected string) bool {
	return expected == "" || strings.Contains(actual, expected)
}
