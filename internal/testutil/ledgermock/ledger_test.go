package ledgermock

import (
	"context"
	"errors"
	"testing"

	"loan-lifecycle-engine/internal/domain/ledger"
)

func TestLedger_BookFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	m := New()

	id, _, err := m.RequestLoan(ctx, ledger.RequestInput{LoanID: "LN-1", Principal: 1000})
	if err != nil || id != "0xLLN-1" {
		t.Fatalf("RequestLoan: id=%q err=%v", id, err)
	}
	if _, err := m.Fund(ctx, id, "lender", 1000); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if _, err := m.Disburse(ctx, id); err != nil {
		t.Fatalf("Disburse: %v", err)
	}
	if _, err := m.Repay(ctx, id, 250); err != nil {
		t.Fatalf("Repay: %v", err)
	}

	snap, err := m.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != ledger.StatusActive || snap.LenderID != "lender" || snap.AmountRepaid != 250 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	want := []string{"request", "fund", "disburse", "repay", "snapshot"}
	got := m.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestLedger_RejectsOutOfOrderCalls(t *testing.T) {
	ctx := context.Background()
	m := New()
	m.Put(ledger.Snapshot{LedgerID: "0xA", Status: ledger.StatusRequested})

	_, err := m.Disburse(ctx, "0xA")
	if !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("disburse before fund: want rejected, got %v", err)
	}
	if _, err := m.Cancel(ctx, "0xMISSING"); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("unknown id: want rejected, got %v", err)
	}

	m.MarkRepaid("0xA")
	if e, _ := m.Entry("0xA"); e.Status != ledger.StatusRepaid {
		t.Fatalf("MarkRepaid not applied: %+v", e)
	}
}

func TestLedger_FuncOverridesBook(t *testing.T) {
	m := New()
	m.RepayFn = func(context.Context, string, float64) (ledger.Receipt, error) {
		return ledger.Receipt{}, Timeout("repay")
	}

	_, err := m.Repay(context.Background(), "0xA", 10)
	if !ledger.IsTransient(err) {
		t.Fatalf("want transient error, got %v", err)
	}
	if m.CallCount("repay") != 1 {
		t.Fatalf("overridden call not recorded")
	}
	if ledger.IsTransient(Rejected("fund", "nope")) || !ledger.IsTransient(Unavailable("fund")) {
		t.Fatalf("error helpers classify wrongly")
	}
}
