package lifecycle

import (
	"context"

	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/notify"
	"loan-lifecycle-engine/internal/domain/payment"
	"loan-lifecycle-engine/internal/domain/repayment"
	"loan-lifecycle-engine/internal/domain/uow"
)

// Repay posts a borrower payment against an Active loan, capped at the remaining balance.
// A Funded loan is disbursed first. The loan is Repaid once the total amount due is covered.
func (o *Orchestrator) Repay(ctx context.Context, in RepayInput) (_ *LoanDTO, err error) {
	const op = "lifecycle.Repay"
	a := newAttempt(EventRepay, in.LoanID, in.ActorID)
	a.set("amount", in.Amount)
	if in.RequestID != "" {
		a.set("request_id", in.RequestID)
	}
	defer func() { o.finish(ctx, a, err) }()

	if in.Method == "" {
		in.Method = payment.MethodBankTransfer
	}
	switch {
	case in.Amount <= 0:
		return nil, loan.Validation(op, "amount must be positive")
	case !in.Method.Valid():
		return nil, loan.Validation(op, "unknown payment method %q", in.Method)
	}

	var (
		out       *loan.Loan
		ch        charge
		replayed  bool
		disbursed bool
		payoff    bool
	)
	err = o.withLoan(ctx, op, in.LoanID, func(r uow.Repos, l *loan.Loan) error {
		if l.LastRepaymentByRequest(in.RequestID) != nil {
			replayed = true
			a.set("replayed", true)
			out = l
			return nil
		}
		if err := requireStatus(op, l, loan.StatusActive, loan.StatusFunded); err != nil {
			return err
		}
		if l.LenderID == nil || *l.LenderID == "" {
			return loan.StateConflict(op, "loan %s has no lender", l.LoanID)
		}
		if a.actorID == "" {
			a.actorID = l.BorrowerID
		}

		bd, err := repayment.Compute(l.Terms, l.AmountRepaid, in.Amount)
		if err != nil {
			return err
		}

		res, err := o.callPayment(ctx, func(ctx context.Context, p payment.Processor) (*payment.Result, error) {
			return p.Process(ctx, l.BorrowerID, *l.LenderID, bd.Applied, in.Method)
		})
		if err != nil {
			return loan.Transient(op, err, "payment processor unavailable")
		}
		if !res.Success {
			return loan.Business(op, nil, "payment declined: %s", res.Reason)
		}
		ch.txID = res.TransactionID
		a.set("payment_tx", res.TransactionID)
		a.set("applied", bd.Applied)

		if l.Status == loan.StatusFunded {
			if err := o.disburse(ctx, a, l, op, mirrorLocalAlways); err != nil {
				return err
			}
			disbursed = true
		}

		now := o.stamp(l)
		ev := &loan.RepaymentEvent{
			InstallmentNo:    len(l.Repayments) + 1,
			Amount:           bd.Applied,
			PrincipalPortion: bd.PrincipalPortion,
			InterestPortion:  bd.InterestPortion,
			PaymentMethod:    string(in.Method),
			PaymentTxID:      res.TransactionID,
			RequestID:        in.RequestID,
			Source:           loan.SourceBorrower,
			PaidAt:           now,
		}
		l.AmountRepaid = repayment.AddMoney(l.AmountRepaid, bd.Applied)
		if bd.Payoff || repayment.IsPaidOff(l.Terms, l.AmountRepaid) {
			if err := l.Transition(op, loan.StatusRepaid); err != nil {
				return err
			}
			l.RepaidAt = &now
			payoff = true
		}

		if err := o.mirror(ctx, a, l, op, mirrorLocalAlways, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Repay(ctx, ledgerID, bd.Applied)
		}); err != nil {
			return err
		}
		if l.HasLedgerMirror() && a.desync == nil {
			ch.kept = true
		}

		if err := r.Loans.AppendRepayment(ctx, l, ev); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		ch.kept = true
		out = l
		return nil
	})
	if ch.needsRefund() {
		o.refund(ctx, a, ch.txID)
	}
	if err != nil {
		return nil, err
	}
	if replayed {
		return ToDTO(out), nil
	}

	a.set("amount_repaid", out.AmountRepaid)
	if disbursed {
		a.notify(out.BorrowerID, notify.EventLoanDisbursed, map[string]any{"loan_id": out.LoanID})
	}
	a.notify(out.BorrowerID, notify.EventRepaymentPosted, map[string]any{
		"loan_id":           out.LoanID,
		"amount":            out.Repayments[len(out.Repayments)-1].Amount,
		"remaining_balance": repayment.RemainingBalance(out.Terms, out.AmountRepaid),
	})
	if payoff {
		a.notify(out.BorrowerID, notify.EventLoanRepaid, map[string]any{"loan_id": out.LoanID})
		a.notify(deref(out.LenderID), notify.EventLoanRepaid, map[string]any{"loan_id": out.LoanID})
	}
	return ToDTO(out), nil
}
