package lifecycle

import (
	"context"
	"math"

	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/notify"
	"loan-lifecycle-engine/internal/domain/uow"
)

const defaultRejectReason = "rejected by risk review"

// PublishToMarketplace lists a Requested loan for lenders. The ledger has no marketplace
// stage so nothing is mirrored.
func (o *Orchestrator) PublishToMarketplace(ctx context.Context, loanID, actorID string) (_ *LoanDTO, err error) {
	const op = "lifecycle.PublishToMarketplace"
	a := newAttempt(EventPublish, loanID, actorID)
	defer func() { o.finish(ctx, a, err) }()

	var out *loan.Loan
	err = o.withLoan(ctx, op, loanID, func(r uow.Repos, l *loan.Loan) error {
		if err := requireStatus(op, l, loan.StatusRequested); err != nil {
			return err
		}
		if err := l.Transition(op, loan.StatusMarketplace); err != nil {
			return err
		}
		o.stamp(l)
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	a.notify(out.BorrowerID, notify.EventLoanListed, map[string]any{"loan_id": out.LoanID})
	return ToDTO(out), nil
}

// disburse moves a Funded loan to Active and mirrors it under policy.
func (o *Orchestrator) disburse(ctx context.Context, a *attempt, l *loan.Loan, op string, policy mirrorPolicy) error {
	if err := o.mirror(ctx, a, l, op, policy, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
		return c.Disburse(ctx, ledgerID)
	}); err != nil {
		return err
	}
	if err := l.Transition(op, loan.StatusActive); err != nil {
		return err
	}
	now := o.stamp(l)
	l.DisbursedAt = &now
	return nil
}

// Disburse releases the funds of a Funded loan to the borrower.
func (o *Orchestrator) Disburse(ctx context.Context, loanID, actorID string) (_ *LoanDTO, err error) {
	const op = "lifecycle.Disburse"
	a := newAttempt(EventDisburse, loanID, actorID)
	defer func() { o.finish(ctx, a, err) }()

	var out *loan.Loan
	err = o.withLoan(ctx, op, loanID, func(r uow.Repos, l *loan.Loan) error {
		if err := requireStatus(op, l, loan.StatusFunded); err != nil {
			return err
		}
		if err := o.disburse(ctx, a, l, op, mirrorLocal); err != nil {
			return err
		}
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	a.notify(out.BorrowerID, notify.EventLoanDisbursed, map[string]any{"loan_id": out.LoanID, "amount": out.FundedAmount})
	return ToDTO(out), nil
}

// Cancel withdraws an unfunded loan. A mirrored loan is cancelled on the ledger first and
// stays untouched if the ledger does not confirm.
func (o *Orchestrator) Cancel(ctx context.Context, loanID, actorID string) (_ *LoanDTO, err error) {
	const op = "lifecycle.Cancel"
	a := newAttempt(EventCancel, loanID, actorID)
	defer func() { o.finish(ctx, a, err) }()

	var out *loan.Loan
	err = o.withLoan(ctx, op, loanID, func(r uow.Repos, l *loan.Loan) error {
		if err := requireStatus(op, l, loan.StatusRequested, loan.StatusMarketplace); err != nil {
			return err
		}
		if err := o.cancelOnLedger(ctx, a, l, op); err != nil {
			return err
		}
		if err := l.Transition(op, loan.StatusCancelled); err != nil {
			return err
		}
		now := o.stamp(l)
		l.CancelledAt = &now
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	a.notify(out.BorrowerID, notify.EventLoanCancelled, map[string]any{"loan_id": out.LoanID})
	return ToDTO(out), nil
}

// cancelOnLedger confirms the cancellation with the ledger. A registration that never
// reached the ledger is abandoned instead.
func (o *Orchestrator) cancelOnLedger(ctx context.Context, a *attempt, l *loan.Loan, op string) error {
	if !l.HasLedgerMirror() {
		if l.MirrorRequested {
			l.MirrorRequested = false
			l.LedgerDesync = false
			a.set("mirror_abandoned", true)
		}
		return nil
	}
	return o.mirror(ctx, a, l, op, mirrorConfirm, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
		return c.Cancel(ctx, ledgerID)
	})
}

// MarkDefaulted writes off an Active loan.
func (o *Orchestrator) MarkDefaulted(ctx context.Context, loanID, actorID string) (_ *LoanDTO, err error) {
	const op = "lifecycle.MarkDefaulted"
	a := newAttempt(EventDefault, loanID, actorID)
	defer func() { o.finish(ctx, a, err) }()

	var out *loan.Loan
	err = o.withLoan(ctx, op, loanID, func(r uow.Repos, l *loan.Loan) error {
		if err := requireStatus(op, l, loan.StatusActive); err != nil {
			return err
		}
		if !o.mayDefault(actorID, l) {
			return loan.Forbidden(op, "actor %q is neither the lender nor an admin", actorID)
		}
		if err := o.mirror(ctx, a, l, op, mirrorLocal, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.MarkDefaulted(ctx, ledgerID)
		}); err != nil {
			return err
		}
		if err := l.Transition(op, loan.StatusDefaulted); err != nil {
			return err
		}
		now := o.stamp(l)
		l.DefaultedAt = &now
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	a.set("amount_repaid", out.AmountRepaid)
	msg := map[string]any{"loan_id": out.LoanID}
	a.notify(out.BorrowerID, notify.EventLoanDefaulted, msg)
	a.notify(deref(out.LenderID), notify.EventLoanDefaulted, msg)
	return ToDTO(out), nil
}

func (o *Orchestrator) mayDefault(actorID string, l *loan.Loan) bool {
	if actorID == "" {
		return false
	}
	if _, ok := o.admins[actorID]; ok {
		return true
	}
	return actorID == deref(l.LenderID)
}

// SetRiskScore records the external risk review of a Requested loan and optionally
// rejects it.
func (o *Orchestrator) SetRiskScore(ctx context.Context, in RiskScoreInput) (_ *LoanDTO, err error) {
	const op = "lifecycle.SetRiskScore"
	a := newAttempt(EventRiskScore, in.LoanID, in.ActorID)
	a.set("score", in.Score)
	a.set("reject", in.Reject)
	defer func() { o.finish(ctx, a, err) }()

	if math.IsNaN(in.Score) || math.IsInf(in.Score, 0) || in.Score < 0 {
		return nil, loan.Validation(op, "score must be a non-negative number")
	}

	var out *loan.Loan
	err = o.withLoan(ctx, op, in.LoanID, func(r uow.Repos, l *loan.Loan) error {
		if err := requireStatus(op, l, loan.StatusRequested); err != nil {
			return err
		}
		score := in.Score
		l.RiskScore = &score
		if in.Reject {
			if err := o.cancelOnLedger(ctx, a, l, op); err != nil {
				return err
			}
			if err := l.Transition(op, loan.StatusRejected); err != nil {
				return err
			}
			now := o.now()
			l.RejectedAt = &now
			reason := in.Reason
			if reason == "" {
				reason = defaultRejectReason
			}
			l.Assessment.Reason = reason
		}
		o.stamp(l)
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	if out.Status == loan.StatusRejected {
		a.notify(out.BorrowerID, notify.EventLoanRejected, map[string]any{"loan_id": out.LoanID, "reason": out.Assessment.Reason})
	}
	return ToDTO(out), nil
}
