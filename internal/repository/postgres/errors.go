package postgres

import (
	"errors"
	"time"

	"github.com/lib/pq"

	"scroll-press/internal/observability"
)

const (
	pqUniqueViolation = "23505"

	constraintUsersEmail = "users_email_lower_key"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
// An empty constraint matches any unique constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}

	if constraint == "" {
		return true
	}

	return pqErr.Constraint == constraint
}

// observe records the latency of one statement.
func observe(operation, table string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
