package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the ledger-side view of a loan. The ledger has no marketplace stage.
type Status string

const (
	StatusRequested Status = "requested"
	StatusFunded    Status = "funded"
	StatusActive    Status = "active"
	StatusRepaid    Status = "repaid"
	StatusDefaulted Status = "defaulted"
	StatusCancelled Status = "cancelled"
)

var (
	ErrUnavailable = errors.New("ledger unavailable")
	ErrRejected    = errors.New("ledger rejected")
	ErrTimeout     = errors.New("ledger timeout")
)

// Error carries the ledger's reason next to one of the sentinels above.
type Error struct {
	Op     string
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Kind }

// IsTransient reports whether err is safe to retry later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

type Receipt struct {
	TransactionRef string `json:"transaction_ref"`
	Success        bool   `json:"success"`
}

type RequestInput struct {
	LoanID       string  `json:"loan_id"`
	BorrowerID   string  `json:"borrower_id"`
	Principal    float64 `json:"principal"`
	InterestRate float64 `json:"interest_rate"`
	TermLength   int     `json:"term_length"`
	TermUnit     string  `json:"term_unit"`
}

type Snapshot struct {
	LedgerID     string    `json:"ledger_id"`
	Principal    float64   `json:"principal"`
	Status       Status    `json:"status"`
	LenderID     string    `json:"lender_id,omitempty"`
	FundedAmount float64   `json:"funded_amount"`
	AmountRepaid float64   `json:"amount_repaid"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Client reaches the external ledger. Each call is one round trip.
type Client interface {
	RequestLoan(ctx context.Context, in RequestInput) (ledgerID string, r Receipt, err error)
	Fund(ctx context.Context, ledgerID, lenderID string, amount float64) (Receipt, error)
	Disburse(ctx context.Context, ledgerID string) (Receipt, error)
	Repay(ctx context.Context, ledgerID string, amount float64) (Receipt, error)
	Cancel(ctx context.Context, ledgerID string) (Receipt, error)
	MarkDefaulted(ctx context.Context, ledgerID string) (Receipt, error)
	Snapshot(ctx context.Context, ledgerID string) (*Snapshot, error)
}
