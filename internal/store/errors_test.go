package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestClassify(t *testing.T) {
	plain := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique violation", err: &pq.Error{Code: pqUniqueViolation}, want: ErrConflict},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: pqUniqueViolation}), want: ErrConflict},
		{name: "foreign key violation", err: &pq.Error{Code: pqForeignKeyViolation}, want: ErrReferenced},
		{name: "plain error", err: plain, want: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classify() = %v, want %v", got, tt.want)
			}
		})
	}

	other := &pq.Error{Code: "42P01"}
	if got := classify(other); got != error(other) {
		t.Fatalf("expected unrelated pq error to pass through, got %v", got)
	}
}
