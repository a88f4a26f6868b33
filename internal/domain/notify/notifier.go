package notify

import "context"

type EventType string

const (
	EventLoanApplied     EventType = "loan.applied"
	EventLoanRejected    EventType = "loan.rejected"
	EventLoanListed      EventType = "loan.listed"
	EventLoanFunded      EventType = "loan.funded"
	EventLoanDisbursed   EventType = "loan.disbursed"
	EventRepaymentPosted EventType = "loan.repayment_posted"
	EventLoanRepaid      EventType = "loan.repaid"
	EventLoanCancelled   EventType = "loan.cancelled"
	EventLoanDefaulted   EventType = "loan.defaulted"
)

// Notifier is fire-and-forget; callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, userID string, event EventType, payload map[string]any) error
}
