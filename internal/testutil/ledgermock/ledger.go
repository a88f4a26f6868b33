// Package ledgermock is a function-backed ledger.Client. Unset functions fall through to
// an in-memory book that behaves like a well-formed ledger.
package ledgermock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loan-lifecycle-engine/internal/domain/ledger"
)

var _ ledger.Client = (*Ledger)(nil)

type Ledger struct {
	RequestLoanFn   func(ctx context.Context, in ledger.RequestInput) (string, ledger.Receipt, error)
	FundFn          func(ctx context.Context, ledgerID, lenderID string, amount float64) (ledger.Receipt, error)
	DisburseFn      func(ctx context.Context, ledgerID string) (ledger.Receipt, error)
	RepayFn         func(ctx context.Context, ledgerID string, amount float64) (ledger.Receipt, error)
	CancelFn        func(ctx context.Context, ledgerID string) (ledger.Receipt, error)
	MarkDefaultedFn func(ctx context.Context, ledgerID string) (ledger.Receipt, error)
	SnapshotFn      func(ctx context.Context, ledgerID string) (*ledger.Snapshot, error)

	mu    sync.Mutex
	book  map[string]*ledger.Snapshot
	calls []string
	seq   int
}

func New() *Ledger { return &Ledger{} }

// Unavailable and Rejected build the typed failures a real gateway returns.
func Unavailable(op string) error {
	return &ledger.Error{Op: op, Kind: ledger.ErrUnavailable, Reason: "connection refused"}
}

func Timeout(op string) error {
	return &ledger.Error{Op: op, Kind: ledger.ErrTimeout}
}

func Rejected(op, reason string) error {
	return &ledger.Error{Op: op, Kind: ledger.ErrRejected, Reason: reason}
}

// Calls returns the operations issued so far, in order.
func (m *Ledger) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Ledger) CallCount(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Put stores snap in the in-memory book, replacing any previous entry.
func (m *Ledger) Put(snap ledger.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.book == nil {
		m.book = map[string]*ledger.Snapshot{}
	}
	m.book[snap.LedgerID] = &snap
}

// Entry returns a copy of the book entry for ledgerID.
func (m *Ledger) Entry(ledgerID string) (ledger.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.book[ledgerID]
	if !ok {
		return ledger.Snapshot{}, false
	}
	return *s, true
}

func (m *Ledger) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

func (m *Ledger) receipt() ledger.Receipt {
	m.seq++
	return ledger.Receipt{TransactionRef: fmt.Sprintf("0xtx%d", m.seq), Success: true}
}

// apply mutates the book entry under the lock, failing like a ledger would for unknown ids.
func (m *Ledger) apply(op, ledgerID string, fn func(s *ledger.Snapshot) error) (ledger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.book[ledgerID]
	if !ok {
		return ledger.Receipt{}, Rejected(op, "unknown loan")
	}
	if err := fn(s); err != nil {
		return ledger.Receipt{}, err
	}
	return m.receipt(), nil
}

func expect(op string, s *ledger.Snapshot, want ledger.Status) error {
	if s.Status != want {
		return Rejected(op, fmt.Sprintf("loan is %s", s.Status))
	}
	return nil
}

func (m *Ledger) RequestLoan(ctx context.Context, in ledger.RequestInput) (string, ledger.Receipt, error) {
	m.record("request")
	if m.RequestLoanFn != nil {
		return m.RequestLoanFn(ctx, in)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.book == nil {
		m.book = map[string]*ledger.Snapshot{}
	}
	id := "0xL" + in.LoanID
	m.book[id] = &ledger.Snapshot{LedgerID: id, Principal: in.Principal, Status: ledger.StatusRequested}
	return id, m.receipt(), nil
}

func (m *Ledger) Fund(ctx context.Context, ledgerID, lenderID string, amount float64) (ledger.Receipt, error) {
	m.record("fund")
	if m.FundFn != nil {
		return m.FundFn(ctx, ledgerID, lenderID, amount)
	}
	return m.apply("fund", ledgerID, func(s *ledger.Snapshot) error {
		if err := expect("fund", s, ledger.StatusRequested); err != nil {
			return err
		}
		s.Status, s.LenderID, s.FundedAmount = ledger.StatusFunded, lenderID, s.FundedAmount+amount
		return nil
	})
}

func (m *Ledger) Disburse(ctx context.Context, ledgerID string) (ledger.Receipt, error) {
	m.record("disburse")
	if m.DisburseFn != nil {
		return m.DisburseFn(ctx, ledgerID)
	}
	return m.apply("disburse", ledgerID, func(s *ledger.Snapshot) error {
		if err := expect("disburse", s, ledger.StatusFunded); err != nil {
			return err
		}
		s.Status = ledger.StatusActive
		return nil
	})
}

func (m *Ledger) Repay(ctx context.Context, ledgerID string, amount float64) (ledger.Receipt, error) {
	m.record("repay")
	if m.RepayFn != nil {
		return m.RepayFn(ctx, ledgerID, amount)
	}
	return m.apply("repay", ledgerID, func(s *ledger.Snapshot) error {
		if err := expect("repay", s, ledger.StatusActive); err != nil {
			return err
		}
		s.AmountRepaid += amount
		return nil
	})
}

// MarkRepaid closes a book entry the way the ledger does once it sees the final payment.
func (m *Ledger) MarkRepaid(ledgerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.book[ledgerID]; ok {
		s.Status = ledger.StatusRepaid
	}
}

func (m *Ledger) Cancel(ctx context.Context, ledgerID string) (ledger.Receipt, error) {
	m.record("cancel")
	if m.CancelFn != nil {
		return m.CancelFn(ctx, ledgerID)
	}
	return m.apply("cancel", ledgerID, func(s *ledger.Snapshot) error {
		if err := expect("cancel", s, ledger.StatusRequested); err != nil {
			return err
		}
		s.Status = ledger.StatusCancelled
		return nil
	})
}

func (m *Ledger) MarkDefaulted(ctx context.Context, ledgerID string) (ledger.Receipt, error) {
	m.record("default")
	if m.MarkDefaultedFn != nil {
		return m.MarkDefaultedFn(ctx, ledgerID)
	}
	return m.apply("default", ledgerID, func(s *ledger.Snapshot) error {
		if err := expect("default", s, ledger.StatusActive); err != nil {
			return err
		}
		s.Status = ledger.StatusDefaulted
		return nil
	})
}

func (m *Ledger) Snapshot(ctx context.Context, ledgerID string) (*ledger.Snapshot, error) {
	m.record("snapshot")
	if m.SnapshotFn != nil {
		return m.SnapshotFn(ctx, ledgerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.book[ledgerID]
	if !ok {
		return nil, Rejected("snapshot", "unknown loan")
	}
	cp := *s
	cp.FetchedAt = time.Now().UTC()
	return &cp, nil
}
