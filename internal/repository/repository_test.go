package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		unique     bool
		foreignKey bool
	}{
		{"nil", nil, false, false},
		{"plain error", errors.New("unique constraint"), false, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true, false},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true, false},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false, true},
		{"other pg error", &pgconn.PgError{Code: "40001"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := isUniqueViolation(tt.err); got != tt.unique {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.unique)
			}
			if got := isForeignKeyViolation(tt.err); got != tt.foreignKey {
				t.Errorf("isForeignKeyViolation() = %v, want %v", got, tt.foreignKey)
			}
		})
	}
}
