package lifecycle

import (
	"context"

	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/repayment"
)

func (o *Orchestrator) Get(ctx context.Context, loanID string) (*LoanDTO, error) {
	l, err := o.loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return ToDTO(l), nil
}

func (o *Orchestrator) ListByBorrower(ctx context.Context, borrowerID string) ([]*LoanDTO, error) {
	loans, err := o.loans.ListByBorrowerID(ctx, borrowerID)
	if err != nil {
		return nil, err
	}
	out := make([]*LoanDTO, 0, len(loans))
	for i := range loans {
		out = append(out, ToDTO(&loans[i]))
	}
	return out, nil
}

const (
	DefaultOpenLimit = 50
	MaxOpenLimit     = 200
)

// ListOpen lists loans lenders can still fund, oldest first. An empty status means both
// requested and marketplace loans.
func (o *Orchestrator) ListOpen(ctx context.Context, status string, limit int) ([]*LoanDTO, error) {
	const op = "lifecycle.ListOpen"
	var statuses []loan.Status
	if status != "" {
		st := loan.Status(status)
		if !st.Open() {
			return nil, loan.Validation(op, "status must be one of requested, marketplace")
		}
		statuses = []loan.Status{st}
	}
	switch {
	case limit < 0:
		return nil, loan.Validation(op, "limit must not be negative")
	case limit == 0:
		limit = DefaultOpenLimit
	case limit > MaxOpenLimit:
		limit = MaxOpenLimit
	}

	loans, err := o.loans.ListOpen(ctx, statuses, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*LoanDTO, 0, len(loans))
	for i := range loans {
		out = append(out, ToDTO(&loans[i]))
	}
	return out, nil
}

// Schedule projects the installment plan of a loan. Due dates run from disbursement, or
// from funding or creation for loans that have not been disbursed yet.
func (o *Orchestrator) Schedule(ctx context.Context, loanID string) (*ScheduleDTO, error) {
	l, err := o.loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return ScheduleFor(l), nil
}

func ScheduleFor(l *loan.Loan) *ScheduleDTO {
	start := l.CreatedAt
	switch {
	case l.DisbursedAt != nil:
		start = *l.DisbursedAt
	case l.FundedAt != nil:
		start = *l.FundedAt
	}
	return &ScheduleDTO{
		LoanID:            l.LoanID,
		TotalInterest:     repayment.TotalInterest(l.Terms),
		TotalAmountDue:    repayment.TotalAmountDue(l.Terms),
		AmountRepaid:      l.AmountRepaid,
		RemainingBalance:  repayment.RemainingBalance(l.Terms, l.AmountRepaid),
		InstallmentAmount: repayment.InstallmentAmount(l.Terms),
		Installments:      repayment.Schedule(l.Terms, start),
	}
}

// AuditTrail lists every recorded attempt on a loan, oldest first.
func (o *Orchestrator) AuditTrail(ctx context.Context, loanID string) ([]AuditDTO, error) {
	if _, err := o.loans.GetByLoanID(ctx, loanID); err != nil {
		return nil, err
	}
	recs, err := o.audit.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	out := make([]AuditDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, AuditDTO{
			EventType: r.EventType,
			ActorID:   r.ActorID,
			Outcome:   string(r.Outcome),
			ErrorKind: r.ErrorKind,
			Message:   r.Message,
			Payload:   r.Payload,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}
