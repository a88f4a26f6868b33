package loan

import "context"

type Repository interface {
	Create(ctx context.Context, l *Loan) error
	GetByLoanID(ctx context.Context, loanID string) (*Loan, error)
	// GetByLoanIDForUpdate row-locks the loan until the surrounding transaction ends.
	GetByLoanIDForUpdate(ctx context.Context, loanID string) (*Loan, error)
	// GetActiveLoanByBorrowerID returns the borrower's newest non-terminal loan.
	GetActiveLoanByBorrowerID(ctx context.Context, borrowerID string) (*Loan, error)
	ListByBorrowerID(ctx context.Context, borrowerID string) ([]Loan, error)
	ListForReconciliation(ctx context.Context, q ReconcileQuery) ([]ReconcileRef, error)
	// ListOpen returns loans in the given statuses, or in any OpenStatuses when none are given.
	ListOpen(ctx context.Context, statuses []Status, limit int) ([]Loan, error)
	// Save persists l, failing with a state conflict if l.Version is stale.
	Save(ctx context.Context, l *Loan) error
	AppendRepayment(ctx context.Context, l *Loan, ev *RepaymentEvent) error
}

// ReconcileQuery selects one page of reconciliation candidates. Desynced picks flagged
// loans; otherwise it picks unflagged loans that hold a ledger id and are not terminal.
type ReconcileQuery struct {
	Desynced bool
	AfterID  uint64
	Limit    int
}

type ReconcileRef struct {
	ID     uint64
	LoanID string
}
