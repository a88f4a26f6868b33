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

// charge tracks a payment taken inside a transition so it can be refunded when the
// transition does not commit.
type charge struct {
	txID string
	// kept means the money must stay with the payee: the transition committed, was
	// refunded already, or the ledger recorded it.
	kept bool
}

func (c *charge) needsRefund() bool { return c.txID != "" && !c.kept }

// Fund covers the outstanding principal of a Requested or Marketplace loan with a single
// lender. The payment is taken first; the ledger is then told about the funding.
func (o *Orchestrator) Fund(ctx context.Context, in FundInput) (_ *LoanDTO, err error) {
	const op = "lifecycle.Fund"
	a := newAttempt(EventFund, in.LoanID, in.LenderID)
	a.set("amount", in.Amount)
	if in.RequestID != "" {
		a.set("request_id", in.RequestID)
	}
	defer func() { o.finish(ctx, a, err) }()

	if in.Method == "" {
		in.Method = payment.MethodBankTransfer
	}
	switch {
	case in.LenderID == "":
		return nil, loan.Validation(op, "lender_id is required")
	case in.Amount <= 0:
		return nil, loan.Validation(op, "amount must be positive")
	case !in.Method.Valid():
		return nil, loan.Validation(op, "unknown payment method %q", in.Method)
	}

	var (
		out *loan.Loan
		ch  charge
	)
	err = o.withLoan(ctx, op, in.LoanID, func(r uow.Repos, l *loan.Loan) error {
		if in.RequestID != "" && l.FundRequestID == in.RequestID {
			a.set("replayed", true)
			out = l
			return nil
		}
		if err := requireStatus(op, l, loan.StatusRequested, loan.StatusMarketplace); err != nil {
			return err
		}
		if in.LenderID == l.BorrowerID {
			return loan.Validation(op, "borrower cannot fund their own loan")
		}
		outstanding := l.OutstandingFunding()
		if repayment.Cents(in.Amount) != repayment.Cents(outstanding) {
			return loan.Validation(op, "amount %.2f must equal outstanding principal %.2f", in.Amount, outstanding)
		}

		res, err := o.callPayment(ctx, func(ctx context.Context, p payment.Processor) (*payment.Result, error) {
			return p.Process(ctx, in.LenderID, l.BorrowerID, in.Amount, in.Method)
		})
		if err != nil {
			return loan.Transient(op, err, "payment processor unavailable")
		}
		if !res.Success {
			return loan.Business(op, nil, "payment declined: %s", res.Reason)
		}
		ch.txID = res.TransactionID
		a.set("payment_tx", res.TransactionID)

		err = o.mirror(ctx, a, l, op, mirrorLocal, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Fund(ctx, ledgerID, in.LenderID, in.Amount)
		})
		if err != nil {
			o.refund(ctx, a, ch.txID)
			ch.kept = true
			return err
		}
		if l.HasLedgerMirror() && a.desync == nil {
			ch.kept = true
		}

		if err := l.Transition(op, loan.StatusFunded); err != nil {
			return err
		}
		now := o.stamp(l)
		lender := in.LenderID
		l.LenderID = &lender
		l.FundedAmount = repayment.AddMoney(l.FundedAmount, in.Amount)
		l.FundedAt = &now
		l.FundingTxID = ch.txID
		l.FundRequestID = in.RequestID
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

	if _, replayed := a.payload["replayed"]; !replayed {
		msg := map[string]any{"loan_id": out.LoanID, "amount": out.FundedAmount}
		a.notify(out.BorrowerID, notify.EventLoanFunded, msg)
		a.notify(in.LenderID, notify.EventLoanFunded, msg)
	}
	return ToDTO(out), nil
}
