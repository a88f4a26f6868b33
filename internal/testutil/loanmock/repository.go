package loanmock

import (
	"context"

	domain "loan-lifecycle-engine/internal/domain/loan"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
// Lookups without a function return domain.ErrNotFound; writes succeed.
type Repo struct {
	CreateFn                    func(ctx context.Context, l *domain.Loan) error
	GetByLoanIDFn               func(ctx context.Context, loanID string) (*domain.Loan, error)
	GetByLoanIDForUpdateFn      func(ctx context.Context, loanID string) (*domain.Loan, error)
	GetActiveLoanByBorrowerIDFn func(ctx context.Context, borrowerID string) (*domain.Loan, error)
	ListByBorrowerIDFn          func(ctx context.Context, borrowerID string) ([]domain.Loan, error)
	ListForReconciliationFn     func(ctx context.Context, q domain.ReconcileQuery) ([]domain.ReconcileRef, error)
	ListOpenFn                  func(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Loan, error)
	SaveFn                      func(ctx context.Context, l *domain.Loan) error
	AppendRepaymentFn           func(ctx context.Context, l *domain.Loan, ev *domain.RepaymentEvent) error
}

func (m *Repo) Create(ctx context.Context, l *domain.Loan) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, l)
	}
	return nil
}

func (m *Repo) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, loanID)
	}
	return nil, domain.NotFound("loanmock.GetByLoanID", loanID)
}

func (m *Repo) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDForUpdateFn != nil {
		return m.GetByLoanIDForUpdateFn(ctx, loanID)
	}
	return nil, domain.NotFound("loanmock.GetByLoanIDForUpdate", loanID)
}

func (m *Repo) GetActiveLoanByBorrowerID(ctx context.Context, borrowerID string) (*domain.Loan, error) {
	if m.GetActiveLoanByBorrowerIDFn != nil {
		return m.GetActiveLoanByBorrowerIDFn(ctx, borrowerID)
	}
	return nil, domain.NotFound("loanmock.GetActiveLoanByBorrowerID", borrowerID)
}

func (m *Repo) ListByBorrowerID(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	if m.ListByBorrowerIDFn != nil {
		return m.ListByBorrowerIDFn(ctx, borrowerID)
	}
	return nil, nil
}

func (m *Repo) ListForReconciliation(ctx context.Context, q domain.ReconcileQuery) ([]domain.ReconcileRef, error) {
	if m.ListForReconciliationFn != nil {
		return m.ListForReconciliationFn(ctx, q)
	}
	return nil, nil
}

func (m *Repo) ListOpen(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Loan, error) {
	if m.ListOpenFn != nil {
		return m.ListOpenFn(ctx, statuses, limit)
	}
	return nil, nil
}

func (m *Repo) Save(ctx context.Context, l *domain.Loan) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, l)
	}
	return nil
}

func (m *Repo) AppendRepayment(ctx context.Context, l *domain.Loan, ev *domain.RepaymentEvent) error {
	if m.AppendRepaymentFn != nil {
		return m.AppendRepaymentFn(ctx, l, ev)
	}
	l.Repayments = append(l.Repayments, *ev)
	return nil
}
