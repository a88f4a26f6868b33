package mysql

import (
	"context"
	"errors"

	loanDomain "loan-lifecycle-engine/internal/domain/loan"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStatuses = []loanDomain.Status{
	loanDomain.StatusRepaid,
	loanDomain.StatusDefaulted,
	loanDomain.StatusCancelled,
	loanDomain.StatusRejected,
}

type LoanRepository struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

// Tx runs fn in a db transaction, passing a repo bound to the tx
func (r *LoanRepository) Tx(ctx context.Context, fn func(repo loanDomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LoanRepository{db: tx})
	})
}

func (r *LoanRepository) Create(ctx context.Context, l *loanDomain.Loan) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// Save writes every column of l guarded by its version; repayments are appended separately.
func (r *LoanRepository) Save(ctx context.Context, l *loanDomain.Loan) error {
	prev := l.Version
	l.Version++
	res := r.db.WithContext(ctx).
		Model(l).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(l)
	if res.Error != nil {
		l.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		l.Version = prev
		return loanDomain.StateConflict("LoanRepository.Save", "loan %s was modified concurrently", l.LoanID)
	}
	return nil
}

func (r *LoanRepository) AppendRepayment(ctx context.Context, l *loanDomain.Loan, ev *loanDomain.RepaymentEvent) error {
	ev.LoanRef = l.ID
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return err
	}
	l.Repayments = append(l.Repayments, *ev)
	return nil
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	return r.first(r.db.WithContext(ctx), "LoanRepository.GetByLoanID", loanID)
}

func (r *LoanRepository) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(q, "LoanRepository.GetByLoanIDForUpdate", loanID)
}

func (r *LoanRepository) first(q *gorm.DB, op, loanID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	err := q.Preload("Repayments", func(db *gorm.DB) *gorm.DB {
		return db.Order("installment_no ASC")
	}).Where("loan_id = ?", loanID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, loanDomain.NotFound(op, loanID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LoanRepository) GetActiveLoanByBorrowerID(ctx context.Context, borrowerID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	err := r.db.WithContext(ctx).
		Where("borrower_id = ? AND status NOT IN ?", borrowerID, terminalStatuses).
		Order("state_updated_at DESC, id DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, loanDomain.NotFound("LoanRepository.GetActiveLoanByBorrowerID", borrowerID)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LoanRepository) ListByBorrowerID(ctx context.Context, borrowerID string) ([]loanDomain.Loan, error) {
	var out []loanDomain.Loan
	err := r.db.WithContext(ctx).
		Preload("Repayments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installment_no ASC")
		}).
		Where("borrower_id = ?", borrowerID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListForReconciliation pages through candidates in id order starting after q.AfterID.
func (r *LoanRepository) ListForReconciliation(ctx context.Context, q loanDomain.ReconcileQuery) ([]loanDomain.ReconcileRef, error) {
	var refs []loanDomain.ReconcileRef
	tx := r.db.WithContext(ctx).Model(&loanDomain.Loan{}).Select("id", "loan_id")
	if q.Desynced {
		tx = tx.Where("ledger_desync = ?", true)
	} else {
		tx = tx.Where("ledger_desync = ? AND ledger_id IS NOT NULL AND ledger_id <> '' AND status NOT IN ?", false, terminalStatuses)
	}
	tx = tx.Where("id > ?", q.AfterID).Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	err := tx.Scan(&refs).Error
	return refs, err
}

// ListOpen returns loans awaiting funding, oldest first.
func (r *LoanRepository) ListOpen(ctx context.Context, statuses []loanDomain.Status, limit int) ([]loanDomain.Loan, error) {
	if len(statuses) == 0 {
		statuses = loanDomain.OpenStatuses
	}
	var out []loanDomain.Loan
	q := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
