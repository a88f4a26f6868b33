package audit

import "context"

type Repository interface {
	// Record appends r; records are never updated.
	Record(ctx context.Context, r *Record) error

	ListByLoanID(ctx context.Context, loanID string) ([]Record, error)
}
