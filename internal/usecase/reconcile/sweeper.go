// Package reconcile brings local loan records and the external ledger back in step.
// Local records that got ahead of the ledger are replayed onto it; records the ledger got
// ahead of are advanced locally. The ledger is never rolled back.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"loan-lifecycle-engine/internal/domain/audit"
	"loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/lock"
	"loan-lifecycle-engine/internal/domain/uow"
	"loan-lifecycle-engine/internal/usecase/lifecycle"
)

type Result string

const (
	ResultInSync    Result = "in_sync"
	ResultRepaired  Result = "repaired"
	ResultPulled    Result = "pulled"
	ResultAbandoned Result = "abandoned"
	ResultConflict  Result = "conflict"
	ResultFailed    Result = "failed"
)

// Report counts the outcomes of one sweep.
type Report struct {
	Scanned   int `json:"scanned"`
	InSync    int `json:"in_sync"`
	Repaired  int `json:"repaired"`
	Pulled    int `json:"pulled"`
	Abandoned int `json:"abandoned"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

func (r *Report) add(res Result) {
	r.Scanned++
	switch res {
	case ResultInSync:
		r.InSync++
	case ResultRepaired:
		r.Repaired++
	case ResultPulled:
		r.Pulled++
	case ResultAbandoned:
		r.Abandoned++
	case ResultConflict:
		r.Conflicts++
	default:
		r.Failed++
	}
}

const actorSweeper = "reconciliation-sweeper"

var ErrNoLedger = errors.New("reconcile: no ledger configured")

type Deps struct {
	UoW    uow.UnitOfWork
	Loans  loan.Repository
	Audit  audit.Repository
	Locker lock.Locker
	Ledger ledger.Client
	Log    *zap.Logger

	LedgerTimeout time.Duration
	Interval      time.Duration
	BatchSize     int
	Now           func() time.Time
}

type Sweeper struct {
	uow    uow.UnitOfWork
	loans  loan.Repository
	audit  audit.Repository
	locker lock.Locker
	ledger ledger.Client
	log    *zap.Logger

	ledgerTimeout time.Duration
	interval      time.Duration
	batch         int
	now           func() time.Time

	// keyset cursors, one per candidate group; zero restarts from the lowest id
	mu           sync.Mutex
	flaggedAfter uint64
	mirrorAfter  uint64
}

func NewSweeper(d Deps) *Sweeper {
	s := &Sweeper{
		uow:           d.UoW,
		loans:         d.Loans,
		audit:         d.Audit,
		locker:        d.Locker,
		ledger:        d.Ledger,
		log:           d.Log,
		ledgerTimeout: d.LedgerTimeout,
		interval:      d.Interval,
		batch:         d.BatchSize,
		now:           d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.ledgerTimeout <= 0 {
		s.ledgerTimeout = 5 * time.Second
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.batch <= 0 {
		s.batch = 100
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ledger == nil {
		s.log.Info("reconciliation sweeper disabled: no ledger configured")
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info("reconciliation sweeper started", zap.Duration("interval", s.interval))

	for {
		s.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation sweeper stopped")
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	rep, err := s.SweepOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("sweep failed", zap.Error(err))
		return
	}
	if rep.Scanned == rep.InSync {
		s.log.Debug("sweep done", zap.Int("scanned", rep.Scanned))
		return
	}
	s.log.Info("sweep done",
		zap.Int("scanned", rep.Scanned),
		zap.Int("repaired", rep.Repaired),
		zap.Int("pulled", rep.Pulled),
		zap.Int("abandoned", rep.Abandoned),
		zap.Int("conflicts", rep.Conflicts),
		zap.Int("failed", rep.Failed),
	)
}

// SweepOnce reconciles one batch of candidate loans.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var rep Report
	if s.ledger == nil {
		return rep, ErrNoLedger
	}
	ids, err := s.candidates(ctx)
	if err != nil {
		return rep, err
	}
	for _, loanID := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := s.ReconcileLoan(ctx, loanID)
		if err != nil {
			s.log.Warn("reconcile loan", zap.String("loan_id", loanID), zap.String("result", string(res)), zap.Error(err))
		}
		rep.add(res)
	}
	return rep, nil
}

// candidates fills one batch with flagged loans first and spends what is left on mirrored
// open loans. Each group resumes after the last id the previous sweep saw and wraps once
// it runs out, so no candidate is skipped for good when there are more than a batch.
func (s *Sweeper) candidates(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flagged, err := s.page(ctx, true, &s.flaggedAfter, s.batch)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, s.batch)
	for _, r := range flagged {
		ids = append(ids, r.LoanID)
	}
	if rest := s.batch - len(ids); rest > 0 {
		mirrored, err := s.page(ctx, false, &s.mirrorAfter, rest)
		if err != nil {
			return nil, err
		}
		for _, r := range mirrored {
			ids = append(ids, r.LoanID)
		}
	}
	return ids, nil
}

func (s *Sweeper) page(ctx context.Context, desynced bool, after *uint64, limit int) ([]loan.ReconcileRef, error) {
	refs, err := s.loans.ListForReconciliation(ctx, loan.ReconcileQuery{Desynced: desynced, AfterID: *after, Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(refs) < limit {
		*after = 0
	} else {
		*after = refs[len(refs)-1].ID
	}
	return refs, nil
}

// ReconcileLoan compares one loan with its ledger record under the loan lock.
func (s *Sweeper) ReconcileLoan(ctx context.Context, loanID string) (res Result, err error) {
	const op = "reconcile.ReconcileLoan"
	if s.ledger == nil {
		return ResultFailed, loan.Transient(op, ErrNoLedger, "cannot reconcile %s", loanID)
	}

	unlock, err := s.locker.Lock(ctx, loanID)
	if err != nil {
		return ResultFailed, loan.Transient(op, err, "loan %s is busy", loanID)
	}
	defer unlock()

	p := &pass{s: s, op: op, payload: map[string]any{}}
	err = s.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loan.Loan) error {
		p.repo = r.Loans
		p.loan = l
		return p.run(ctx)
	})
	res = p.result
	switch {
	case err != nil:
		res = ResultFailed
	case p.err != nil:
		err = p.err
	}
	if res != ResultInSync || err != nil {
		s.record(ctx, loanID, res, p.payload, err)
	}
	return res, err
}

func (s *Sweeper) record(ctx context.Context, loanID string, res Result, payload map[string]any, err error) {
	payload["result"] = res
	rec := lifecycle.RecordFor(lifecycle.EventReconcile, actorSweeper, loanID, payload, err, nil, s.now())
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if aerr := s.audit.Record(actx, rec); aerr != nil {
		s.log.Error("audit record failed", zap.String("loan_id", loanID), zap.Error(aerr))
	}
}
