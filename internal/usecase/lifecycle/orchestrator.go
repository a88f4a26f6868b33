// Package lifecycle drives every loan state transition. Each transition runs under the
// per-loan lock and a row-locked transaction, calls the payment processor and the ledger
// inside that critical section, then records exactly one audit entry for the attempt.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"loan-lifecycle-engine/internal/domain/audit"
	"loan-lifecycle-engine/internal/domain/credit"
	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/lock"
	"loan-lifecycle-engine/internal/domain/notify"
	"loan-lifecycle-engine/internal/domain/payment"
	"loan-lifecycle-engine/internal/domain/uow"
	"loan-lifecycle-engine/internal/infrastructure/logger"
	"loan-lifecycle-engine/pkg/id"
)

// Audit event types, one per transition.
const (
	EventApply     = "loan.apply"
	EventPublish   = "loan.publish"
	EventFund      = "loan.fund"
	EventDisburse  = "loan.disburse"
	EventRepay     = "loan.repay"
	EventCancel    = "loan.cancel"
	EventDefault   = "loan.default"
	EventRiskScore = "loan.risk_score"
	EventReconcile = "loan.reconcile"
)

const (
	defaultCallTimeout = 5 * time.Second
	sideEffectTimeout  = 3 * time.Second
)

type Deps struct {
	UoW      uow.UnitOfWork
	Loans    loan.Repository
	Audit    audit.Repository
	Locker   lock.Locker
	Payments payment.Processor
	Credit   credit.Assessor
	// Ledger is nil when no ledger gateway is configured; loans are then kept off-ledger.
	Ledger   ledger.Client
	Notifier notify.Notifier
	Log      *zap.Logger

	LedgerTimeout   time.Duration
	PaymentTimeout  time.Duration
	MirrorByDefault bool
	// Admins may mark any loan defaulted; otherwise only the funding lender can.
	Admins          []string
	Now             func() time.Time
}

type Orchestrator struct {
	uow      uow.UnitOfWork
	loans    loan.Repository
	audit    audit.Repository
	locker   lock.Locker
	payments payment.Processor
	credit   credit.Assessor
	ledger   ledger.Client
	notifier notify.Notifier
	log      *zap.Logger

	ledgerTimeout   time.Duration
	paymentTimeout  time.Duration
	mirrorByDefault bool
	admins          map[string]struct{}
	now             func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		uow:             d.UoW,
		loans:           d.Loans,
		audit:           d.Audit,
		locker:          d.Locker,
		payments:        d.Payments,
		credit:          d.Credit,
		ledger:          d.Ledger,
		notifier:        d.Notifier,
		log:             d.Log,
		ledgerTimeout:   d.LedgerTimeout,
		paymentTimeout:  d.PaymentTimeout,
		mirrorByDefault: d.MirrorByDefault,
		admins:          make(map[string]struct{}, len(d.Admins)),
		now:             d.Now,
	}
	for _, id := range d.Admins {
		if id != "" {
			o.admins[id] = struct{}{}
		}
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.ledgerTimeout <= 0 {
		o.ledgerTimeout = defaultCallTimeout
	}
	if o.paymentTimeout <= 0 {
		o.paymentTimeout = defaultCallTimeout
	}
	return o
}

// ---------------------------------------------------------------------------
// attempt bookkeeping

type notice struct {
	userID  string
	event   notify.EventType
	payload map[string]any
}

// attempt collects what one transition did so finish can audit and notify once.
type attempt struct {
	event   string
	loanID  string
	actorID string
	payload map[string]any
	// desync holds the ledger failure that was swallowed into a desync warning.
	desync  error
	notices []notice
}

func newAttempt(event, loanID, actorID string) *attempt {
	return &attempt{event: event, loanID: loanID, actorID: actorID, payload: map[string]any{}}
}

func (a *attempt) set(k string, v any) { a.payload[k] = v }

func (a *attempt) notify(userID string, ev notify.EventType, payload map[string]any) {
	if userID == "" {
		return
	}
	a.notices = append(a.notices, notice{userID: userID, event: ev, payload: payload})
}

// finish writes the audit record for a, logs the outcome and, on success, sends the
// queued notifications. Failures of either side effect are logged and never change err.
func (o *Orchestrator) finish(ctx context.Context, a *attempt, err error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.Ctx(logger.WithLoanID(ctx, a.loanID), o.log).With(zap.String("event", a.event))

	rec := RecordFor(a.event, a.actorID, a.loanID, a.payload, err, a.desync, o.now())
	actx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	if aerr := o.audit.Record(actx, rec); aerr != nil {
		log.Error("audit record failed", zap.Error(aerr), zap.String("outcome", string(rec.Outcome)))
	}
	cancel()

	switch {
	case err != nil:
		kind := loan.KindOf(err)
		if kind == loan.KindInternal || kind == loan.KindTransient {
			log.Error("transition failed", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			log.Info("transition refused", zap.String("kind", string(kind)), zap.Error(err))
		}
		return
	case a.desync != nil:
		log.Warn("ledger mirror deferred", zap.Error(a.desync))
	default:
		log.Info("transition done")
	}

	if o.notifier == nil {
		return
	}
	for _, n := range a.notices {
		nctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		if nerr := o.notifier.Notify(nctx, n.userID, n.event, n.payload); nerr != nil {
			log.Warn("notify failed", zap.String("notice", string(n.event)), zap.Error(nerr))
		}
		cancel()
	}
}

// RecordFor builds the audit record of one transition attempt. A non-nil err marks a
// failure, a non-nil desync marks a committed transition whose ledger mirror was deferred.
func RecordFor(event, actorID, loanID string, payload map[string]any, err, desync error, at time.Time) *audit.Record {
	rec := &audit.Record{
		RecordID:  id.NewID32(),
		EventType: event,
		ActorID:   actorID,
		LoanID:    loanID,
		Outcome:   audit.OutcomeSuccess,
		Timestamp: at,
	}
	switch {
	case err != nil:
		rec.Outcome = audit.OutcomeFailure
		rec.ErrorKind = string(loan.KindOf(err))
		rec.Message = err.Error()
	case desync != nil:
		rec.Outcome = audit.OutcomeDesync
		rec.ErrorKind = string(loan.KindTransient)
		rec.Message = desync.Error()
	}
	if len(payload) > 0 {
		if b, merr := json.Marshal(payload); merr == nil {
			rec.Payload = string(b)
		}
	}
	return rec
}

// ---------------------------------------------------------------------------
// locking

// withLoan runs fn holding the per-loan lock and the row lock of loanID.
func (o *Orchestrator) withLoan(ctx context.Context, op, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	unlock, err := o.locker.Lock(ctx, loanID)
	if err != nil {
		return loan.Transient(op, err, "loan %s is busy", loanID)
	}
	defer unlock()
	return o.uow.WithinLoanTx(ctx, loanID, fn)
}

// requireStatus fails with a state conflict unless l is in one of allowed.
func requireStatus(op string, l *loan.Loan, allowed ...loan.Status) error {
	if l.IsTerminal() {
		return loan.StateConflict(op, "loan %s is %s", l.LoanID, l.Status)
	}
	for _, s := range allowed {
		if l.Status == s {
			return nil
		}
	}
	return loan.StateConflict(op, "loan %s is %s, want one of %v", l.LoanID, l.Status, allowed)
}

func (o *Orchestrator) stamp(l *loan.Loan) time.Time {
	now := o.now()
	l.StateUpdatedAt = now
	return now
}

// ---------------------------------------------------------------------------
// external calls

func (o *Orchestrator) callPayment(ctx context.Context, fn func(ctx context.Context, p payment.Processor) (*payment.Result, error)) (*payment.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	defer cancel()
	return fn(cctx, o.payments)
}

// refund reverses a charge whose transition could not be committed. Refund failures
// need manual follow-up and are logged at error level.
func (o *Orchestrator) refund(ctx context.Context, a *attempt, txID string) {
	ctx = context.WithoutCancel(ctx)
	res, err := o.callPayment(ctx, func(ctx context.Context, p payment.Processor) (*payment.Result, error) {
		return p.Refund(ctx, txID)
	})
	switch {
	case err != nil:
		o.log.Error("refund failed", zap.String("loan_id", a.loanID), zap.String("payment_tx", txID), zap.Error(err))
		a.set("refund_failed", txID)
	case res == nil || !res.Success:
		o.log.Error("refund declined", zap.String("loan_id", a.loanID), zap.String("payment_tx", txID))
		a.set("refund_failed", txID)
	default:
		a.set("refunded", txID)
	}
}

// LedgerCall runs fn against the ledger bounded by the ledger timeout.
func LedgerCall(ctx context.Context, c ledger.Client, timeout time.Duration, fn func(ctx context.Context, c ledger.Client) (ledger.Receipt, error)) (ledger.Receipt, error) {
	if c == nil {
		return ledger.Receipt{}, &ledger.Error{Op: "ledger", Kind: ledger.ErrUnavailable, Reason: "no ledger gateway configured"}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx, c)
}

// LedgerError maps a ledger failure onto the error taxonomy: rejections are business
// failures, everything else is transient.
func LedgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrRejected) {
		return loan.Business(op, err, "ledger rejected the call")
	}
	return loan.Transient(op, err, "ledger unavailable")
}

type mirrorPolicy int

const (
	// transient failures become a desync warning; rejections propagate
	mirrorLocal mirrorPolicy = iota
	// any failure becomes a desync warning
	mirrorLocalAlways
	// any failure aborts the transition
	mirrorConfirm
)

// mirror issues the ledger side of a transition on l according to policy. Loans whose
// ledger request is still pending only get flagged; the sweeper replays them later.
func (o *Orchestrator) mirror(ctx context.Context, a *attempt, l *loan.Loan, op string, policy mirrorPolicy,
	call func(ctx context.Context, c ledger.Client, ledgerID string) (ledger.Receipt, error)) error {
	if !l.HasLedgerMirror() {
		if l.MirrorRequested {
			l.LedgerDesync = true
		}
		return nil
	}
	ledgerID := *l.LedgerID
	rcpt, err := LedgerCall(ctx, o.ledger, o.ledgerTimeout, func(ctx context.Context, c ledger.Client) (ledger.Receipt, error) {
		return call(ctx, c, ledgerID)
	})
	if err == nil {
		a.set("ledger_tx", rcpt.TransactionRef)
		return nil
	}
	switch {
	case policy == mirrorConfirm:
		return LedgerError(op, err)
	case policy == mirrorLocal && errors.Is(err, ledger.ErrRejected):
		return LedgerError(op, err)
	}
	l.LedgerDesync = true
	a.desync = err
	return nil
}
