package paymentmock

import (
	"context"
	"fmt"
	"sync"

	"loan-lifecycle-engine/internal/domain/payment"
)

var _ payment.Processor = (*Processor)(nil)

type Charge struct {
	PayerID string
	PayeeID string
	Amount  float64
	Method  payment.Method
	TxID    string
}

// Processor is a function-backed payment.Processor. Unset functions approve every
// charge and refund; every call is recorded.
type Processor struct {
	ProcessFn func(ctx context.Context, payerID, payeeID string, amount float64, method payment.Method) (*payment.Result, error)
	RefundFn  func(ctx context.Context, transactionID string) (*payment.Result, error)

	mu      sync.Mutex
	charges []Charge
	refunds []string
	seq     int
}

func New() *Processor { return &Processor{} }

func (m *Processor) Process(ctx context.Context, payerID, payeeID string, amount float64, method payment.Method) (*payment.Result, error) {
	m.mu.Lock()
	m.seq++
	c := Charge{PayerID: payerID, PayeeID: payeeID, Amount: amount, Method: method, TxID: fmt.Sprintf("pay_%d", m.seq)}
	m.charges = append(m.charges, c)
	m.mu.Unlock()

	if m.ProcessFn != nil {
		return m.ProcessFn(ctx, payerID, payeeID, amount, method)
	}
	return &payment.Result{Success: true, TransactionID: c.TxID}, nil
}

func (m *Processor) Refund(ctx context.Context, transactionID string) (*payment.Result, error) {
	m.mu.Lock()
	m.refunds = append(m.refunds, transactionID)
	m.mu.Unlock()

	if m.RefundFn != nil {
		return m.RefundFn(ctx, transactionID)
	}
	return &payment.Result{Success: true, TransactionID: "refund_" + transactionID}, nil
}

func (m *Processor) Charges() []Charge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Charge(nil), m.charges...)
}

func (m *Processor) Refunds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refunds...)
}
