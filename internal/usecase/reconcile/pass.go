package reconcile

import (
	"context"
	"errors"

	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/repayment"
	"loan-lifecycle-engine/internal/usecase/lifecycle"
)

// pass is one reconciliation of one loan inside its row-locked transaction. Only storage
// errors abort the transaction; ledger outcomes are carried in result and err so that
// whatever was learned, such as a fresh ledger id, is still committed.
type pass struct {
	s       *Sweeper
	op      string
	repo    loan.Repository
	loan    *loan.Loan
	payload map[string]any
	result  Result
	err     error
	dirty   bool
	pushed  []string
	pulled  []string
}

func ledgerStage(s ledger.Status) int {
	switch s {
	case ledger.StatusRequested:
		return 0
	case ledger.StatusFunded:
		return 1
	case ledger.StatusActive:
		return 2
	case ledger.StatusRepaid, ledger.StatusDefaulted:
		return 3
	}
	return -1
}

func (p *pass) run(ctx context.Context) error {
	l := p.loan
	p.result = ResultInSync

	if !l.HasLedgerMirror() {
		if !l.MirrorRequested {
			return p.save(ctx)
		}
		if done := p.register(ctx); done {
			return p.save(ctx)
		}
	}

	var snap *ledger.Snapshot
	_, err := p.call(ctx, func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
		var err error
		snap, err = c.Snapshot(ctx, ledgerID)
		return ledger.Receipt{}, err
	})
	if err != nil {
		p.fail(err)
		return p.save(ctx)
	}
	p.payload["ledger_status"] = snap.Status
	if err := p.compare(ctx, snap); err != nil {
		return err
	}
	return p.save(ctx)
}

func (p *pass) call(ctx context.Context, fn func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error)) (ledger.Receipt, error) {
	ledgerID := *p.loan.LedgerID
	return lifecycle.LedgerCall(ctx, p.s.ledger, p.s.ledgerTimeout, func(ctx context.Context, c ledger.Client) (ledger.Receipt, error) {
		return fn(ctx, c, ledgerID)
	})
}

// register issues the ledger request an application could not complete. It reports true
// when there is nothing more to compare.
func (p *pass) register(ctx context.Context) bool {
	l := p.loan
	if l.Status == loan.StatusCancelled || l.Status == loan.StatusRejected {
		p.abandon()
		return true
	}

	var ledgerID string
	_, err := lifecycle.LedgerCall(ctx, p.s.ledger, p.s.ledgerTimeout, func(ctx context.Context, c ledger.Client) (ledger.Receipt, error) {
		var (
			r   ledger.Receipt
			err error
		)
		ledgerID, r, err = c.RequestLoan(ctx, lifecycle.RequestInputFor(l))
		return r, err
	})
	switch {
	case err == nil:
		l.LedgerID = &ledgerID
		p.dirty = true
		p.payload["ledger_id"] = ledgerID
		p.pushed = append(p.pushed, "request")
		p.result = ResultRepaired
		return false
	case errors.Is(err, ledger.ErrRejected):
		p.abandon()
		p.err = lifecycle.LedgerError(p.op, err)
		return true
	}
	p.fail(err)
	return true
}

// abandon gives up on mirroring a loan that never reached the ledger.
func (p *pass) abandon() {
	p.loan.MirrorRequested = false
	p.loan.LedgerDesync = false
	p.dirty = true
	p.result = ResultAbandoned
}

func (p *pass) fail(err error) {
	p.result = ResultFailed
	p.err = lifecycle.LedgerError(p.op, err)
}

func (p *pass) conflict(format string, args ...any) {
	p.result = ResultConflict
	p.err = loan.StateConflict(p.op, format, args...)
}

func (p *pass) compare(ctx context.Context, snap *ledger.Snapshot) error {
	l := p.loan
	switch {
	case snap.Status == ledger.StatusCancelled:
		switch l.Status {
		case loan.StatusCancelled, loan.StatusRejected:
		case loan.StatusRequested, loan.StatusMarketplace:
			return p.pullCancel()
		default:
			p.conflict("ledger cancelled loan %s which is %s locally", l.LoanID, l.Status)
		}
		return nil
	case l.Status == loan.StatusCancelled || l.Status == loan.StatusRejected:
		if snap.Status != ledger.StatusRequested {
			p.conflict("loan %s is %s locally but %s on the ledger", l.LoanID, l.Status, snap.Status)
			return nil
		}
		p.push(ctx, "cancel", func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Cancel(ctx, ledgerID)
		})
		return nil
	}

	lr, rr := l.Status.Stage(), ledgerStage(snap.Status)
	localRepaid, remoteRepaid := repayment.Cents(l.AmountRepaid), repayment.Cents(snap.AmountRepaid)
	if lr == 3 && rr == 3 && string(l.Status) != string(snap.Status) {
		p.conflict("loan %s is %s locally but %s on the ledger", l.LoanID, l.Status, snap.Status)
		return nil
	}
	if lr >= 1 && rr >= 1 && repayment.Cents(l.FundedAmount) != repayment.Cents(snap.FundedAmount) {
		p.conflict("funded amount %.2f differs from ledger %.2f", l.FundedAmount, snap.FundedAmount)
		return nil
	}

	localAhead := lr > rr || (lr == rr && localRepaid > remoteRepaid)
	remoteAhead := rr > lr || (lr == rr && remoteRepaid > localRepaid)
	switch {
	case (localAhead && remoteRepaid > localRepaid) || (remoteAhead && localRepaid > remoteRepaid):
		p.conflict("loan %s status and repaid amount disagree in opposite directions", l.LoanID)
	case localAhead:
		p.pushForward(ctx, snap)
	case remoteAhead:
		return p.pull(ctx, snap)
	}
	return nil
}

// push issues one ledger call. It reports false once the pass has failed.
func (p *pass) push(ctx context.Context, name string, fn func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error)) bool {
	if _, err := p.call(ctx, fn); err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			p.result = ResultConflict
			p.err = lifecycle.LedgerError(p.op, err)
		} else {
			p.fail(err)
		}
		return false
	}
	p.pushed = append(p.pushed, name)
	p.result = ResultRepaired
	return true
}

// pushForward replays the local transitions the ledger has not seen, in order.
func (p *pass) pushForward(ctx context.Context, snap *ledger.Snapshot) {
	l := p.loan
	lr, rr := l.Status.Stage(), ledgerStage(snap.Status)

	if rr == 0 && lr >= 1 {
		lender, amount := "", l.FundedAmount
		if l.LenderID != nil {
			lender = *l.LenderID
		}
		if !p.push(ctx, "fund", func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Fund(ctx, ledgerID, lender, amount)
		}) {
			return
		}
	}
	if rr <= 1 && lr >= 2 {
		if !p.push(ctx, "disburse", func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Disburse(ctx, ledgerID)
		}) {
			return
		}
	}
	if diff := repayment.SubMoney(l.AmountRepaid, snap.AmountRepaid); diff > 0 {
		if !p.push(ctx, "repay", func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.Repay(ctx, ledgerID, diff)
		}) {
			return
		}
	}
	if l.Status == loan.StatusDefaulted && snap.Status != ledger.StatusDefaulted {
		p.push(ctx, "default", func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error) {
			return c.MarkDefaulted(ctx, ledgerID)
		})
	}
}

func (p *pass) transition(to loan.Status) bool {
	if err := p.loan.Transition(p.op, to); err != nil {
		p.result = ResultConflict
		p.err = err
		return false
	}
	p.pulled = append(p.pulled, string(to))
	p.result = ResultPulled
	p.dirty = true
	p.loan.StateUpdatedAt = p.s.now()
	return true
}

func (p *pass) pullCancel() error {
	if p.transition(loan.StatusCancelled) {
		now := p.s.now()
		p.loan.CancelledAt = &now
	}
	return nil
}

// pull advances the local record to the ledger's view step by step.
func (p *pass) pull(ctx context.Context, snap *ledger.Snapshot) error {
	l := p.loan
	rr := ledgerStage(snap.Status)
	now := p.s.now()

	if l.Status.Stage() == 0 && rr >= 1 {
		if snap.LenderID == "" || snap.LenderID == l.BorrowerID {
			p.conflict("ledger funding of %s has no usable lender", l.LoanID)
			return nil
		}
		if !p.transition(loan.StatusFunded) {
			return nil
		}
		lender := snap.LenderID
		l.LenderID = &lender
		l.FundedAmount = snap.FundedAmount
		l.FundedAt = &now
	}
	if l.Status == loan.StatusFunded && rr >= 2 {
		if !p.transition(loan.StatusActive) {
			return nil
		}
		l.DisbursedAt = &now
	}
	if diff := repayment.SubMoney(snap.AmountRepaid, l.AmountRepaid); diff > 0 && l.Status == loan.StatusActive {
		bd, err := repayment.Compute(l.Terms, l.AmountRepaid, diff)
		if err != nil {
			p.conflict("ledger repaid amount %.2f does not fit loan %s: %v", snap.AmountRepaid, l.LoanID, err)
			return nil
		}
		ev := &loan.RepaymentEvent{
			InstallmentNo:    len(l.Repayments) + 1,
			Amount:           bd.Applied,
			PrincipalPortion: bd.PrincipalPortion,
			InterestPortion:  bd.InterestPortion,
			Source:           loan.SourceReconciliation,
			PaidAt:           now,
		}
		if err := p.repo.AppendRepayment(ctx, l, ev); err != nil {
			return err
		}
		l.AmountRepaid = repayment.AddMoney(l.AmountRepaid, bd.Applied)
		p.pulled = append(p.pulled, "repayment")
		p.result = ResultPulled
		p.dirty = true
	}
	switch {
	case l.Status == loan.StatusActive && (snap.Status == ledger.StatusRepaid || repayment.IsPaidOff(l.Terms, l.AmountRepaid)):
		if p.transition(loan.StatusRepaid) {
			l.RepaidAt = &now
		}
	case l.Status == loan.StatusActive && snap.Status == ledger.StatusDefaulted:
		if p.transition(loan.StatusDefaulted) {
			l.DefaultedAt = &now
		}
	}
	return nil
}

// save settles the desync flag from the outcome and persists the loan if anything changed.
func (p *pass) save(ctx context.Context) error {
	l := p.loan
	switch p.result {
	case ResultInSync, ResultRepaired, ResultPulled:
		if l.LedgerDesync {
			l.LedgerDesync = false
			p.dirty = true
		}
	case ResultConflict:
		if !l.LedgerDesync {
			l.LedgerDesync = true
			p.dirty = true
		}
	}
	if len(p.pushed) > 0 {
		p.payload["pushed"] = p.pushed
	}
	if len(p.pulled) > 0 {
		p.payload["pulled"] = p.pulled
	}
	if !p.dirty {
		return nil
	}
	return p.repo.Save(ctx, l)
}
