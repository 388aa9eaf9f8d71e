package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "matching_constraint",
			err:        &pq.Error{Code: "23505", Constraint: constraintUsersEmail},
			constraint: constraintUsersEmail,
			want:       true,
		},
		{
			name:       "any_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "documents_pkey"},
			constraint: "",
			want:       true,
		},
		{
			name:       "different_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "documents_pkey"},
			constraint: constraintUsersEmail,
			want:       false,
		},
		{
			name:       "foreign_key_violation",
			err:        &pq.Error{Code: "23503", Constraint: "documents_owner_id_fkey"},
			constraint: "documents_owner_id_fkey",
			want:       false,
		},
		{
			name:       "wrapped_with_w",
			err:        fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: constraintUsersEmail}),
			constraint: constraintUsersEmail,
			want:       true,
		},
		{
			name:       "string_concatenated",
			err:        errors.New("insert: " + (&pq.Error{Code: "23505"}).Error()),
			constraint: "",
			want:       false,
		},
		{
			name:       "case_mismatch",
			err:        &pq.Error{Code: "23505", Constraint: constraintUsersEmail},
			constraint: "USERS_EMAIL_LOWER_KEY",
			want:       false,
		},
		{
			name:       "nil_error",
			err:        nil,
			constraint: "",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
