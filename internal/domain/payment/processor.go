package payment

import (
	"context"
	"errors"
)

// ErrUnavailable marks processor failures where the outcome of the charge is unknown
// or the processor could not be reached. Declines come back as Result{Success: false}.
var ErrUnavailable = errors.New("payment processor unavailable")

type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodCard         Method = "card"
	MethodWallet       Method = "wallet"
)

func (m Method) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodCard, MethodWallet:
		return true
	}
	return false
}

type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

type Processor interface {
	Process(ctx context.Context, payerID, payeeID string, amount float64, method Method) (*Result, error)
	Refund(ctx context.Context, transactionID string) (*Result, error)
}
