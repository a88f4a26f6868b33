package uow

import (
	"context"

	"loan-lifecycle-engine/internal/domain/loan"
)

type Repos struct {
	Loans loan.Repository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// convenience: lock loan first, then pass it in
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, l *loan.Loan) error) error
}
