package lifecycle

import (
	"context"
	"errors"

	"loan-lifecycle-engine/internal/domain/credit"
	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/notify"
	"loan-lifecycle-engine/pkg/id"
)

const borrowerIDLen = 32

func validateApply(op string, in ApplyInput) error {
	switch {
	case len(in.BorrowerID) != borrowerIDLen:
		return loan.Validation(op, "borrower_id must be %d characters", borrowerIDLen)
	case in.Principal <= 0:
		return loan.Validation(op, "principal must be positive")
	case in.InterestRate < 0 || in.InterestRate > 1:
		return loan.Validation(op, "interest_rate must be within [0, 1]")
	case in.TermLength <= 0:
		return loan.Validation(op, "term_length must be positive")
	case !in.TermUnit.Valid():
		return loan.Validation(op, "unknown term_unit %q", in.TermUnit)
	case in.Income < 0:
		return loan.Validation(op, "income must not be negative")
	case in.ExistingLoans < 0:
		return loan.Validation(op, "existing_loans must not be negative")
	}
	return nil
}

// Apply assesses a new application and stores it as Requested, or as Rejected when the
// assessor declines it. Approved loans are put on the ledger before they are stored.
func (o *Orchestrator) Apply(ctx context.Context, in ApplyInput) (_ *LoanDTO, err error) {
	const op = "lifecycle.Apply"
	a := newAttempt(EventApply, "", in.BorrowerID)
	a.set("principal", in.Principal)
	a.set("term", in.TermLength)
	a.set("term_unit", in.TermUnit)
	defer func() { o.finish(ctx, a, err) }()

	if err := validateApply(op, in); err != nil {
		return nil, err
	}

	unlock, err := o.locker.Lock(ctx, "borrower:"+in.BorrowerID)
	if err != nil {
		return nil, loan.Transient(op, err, "borrower %s is busy", in.BorrowerID)
	}
	defer unlock()

	existing, err := o.loans.GetActiveLoanByBorrowerID(ctx, in.BorrowerID)
	switch {
	case err == nil:
		return nil, loan.StateConflict(op, "borrower already has open loan %s", existing.LoanID)
	case !errors.Is(err, loan.ErrNotFound):
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	assessment, err := o.credit.Assess(actx, credit.Request{
		BorrowerID:      in.BorrowerID,
		RequestedAmount: in.Principal,
		Income:          in.Income,
		ExistingLoans:   in.ExistingLoans,
		CreditScore:     in.CreditScore,
		EmploymentYears: in.EmploymentYears,
	})
	cancel()
	if err != nil {
		return nil, loan.Transient(op, err, "credit assessment unavailable")
	}

	now := o.now()
	l := &loan.Loan{
		LoanID:     id.NewID32(),
		BorrowerID: in.BorrowerID,
		Terms: loan.Terms{
			Principal:    in.Principal,
			InterestRate: in.InterestRate,
			TermLength:   in.TermLength,
			TermUnit:     in.TermUnit,
			Purpose:      in.Purpose,
			Collateral:   in.Collateral,
		},
		Assessment: loan.Assessment{
			Approved:        assessment.Approved,
			Score:           assessment.Score,
			RiskLevel:       string(assessment.RiskLevel),
			RecommendedRate: assessment.RecommendedRate,
			Reason:          assessment.Reason,
		},
		Status:         loan.StatusRequested,
		StateUpdatedAt: now,
	}
	a.loanID = l.LoanID
	a.set("risk_level", assessment.RiskLevel)

	if !assessment.Approved {
		l.Status = loan.StatusRejected
		l.RejectedAt = &now
		if err := o.loans.Create(ctx, l); err != nil {
			return nil, err
		}
		a.set("rejected", assessment.Reason)
		a.notify(l.BorrowerID, notify.EventLoanRejected, map[string]any{"loan_id": l.LoanID, "reason": assessment.Reason})
		return ToDTO(l), nil
	}

	if l.Terms.InterestRate == 0 {
		l.Terms.InterestRate = assessment.RecommendedRate
	}

	if o.wantsMirror(in.Mirror) {
		if err := o.requestMirror(ctx, a, l); err != nil {
			return nil, err
		}
	}

	if err := o.loans.Create(ctx, l); err != nil {
		return nil, err
	}
	a.notify(l.BorrowerID, notify.EventLoanApplied, map[string]any{"loan_id": l.LoanID, "principal": l.Terms.Principal})
	return ToDTO(l), nil
}

func (o *Orchestrator) wantsMirror(override *bool) bool {
	if o.ledger == nil {
		return false
	}
	if override != nil {
		return *override
	}
	return o.mirrorByDefault
}

// requestMirror registers l on the ledger. A rejection aborts the application; an
// unreachable ledger leaves the request pending for the sweeper.
func (o *Orchestrator) requestMirror(ctx context.Context, a *attempt, l *loan.Loan) error {
	const op = "lifecycle.Apply"
	l.MirrorRequested = true

	var ledgerID string
	_, err := LedgerCall(ctx, o.ledger, o.ledgerTimeout, func(ctx context.Context, c ledger.Client) (ledger.Receipt, error) {
		var (
			r   ledger.Receipt
			err error
		)
		ledgerID, r, err = c.RequestLoan(ctx, RequestInputFor(l))
		return r, err
	})
	switch {
	case err == nil:
		l.LedgerID = &ledgerID
		a.set("ledger_id", ledgerID)
		return nil
	case errors.Is(err, ledger.ErrRejected):
		return LedgerError(op, err)
	}
	l.LedgerDesync = true
	a.desync = err
	return nil
}

// RequestInputFor builds the ledger registration of l.
func RequestInputFor(l *loan.Loan) ledger.RequestInput {
	return ledger.RequestInput{
		LoanID:       l.LoanID,
		BorrowerID:   l.BorrowerID,
		Principal:    l.Terms.Principal,
		InterestRate: l.Terms.InterestRate,
		TermLength:   l.Terms.TermLength,
		TermUnit:     string(l.Terms.TermUnit),
	}
}
