package lifecycle

import (
	"time"

	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/payment"
	"loan-lifecycle-engine/internal/domain/repayment"
)

type ApplyInput struct {
	BorrowerID   string        `json:"borrower_id"`
	Principal    float64       `json:"principal"`
	InterestRate float64       `json:"interest_rate"` // 0 means "use the recommended rate"
	TermLength   int           `json:"term_length"`
	TermUnit     loan.TermUnit `json:"term_unit"`
	Purpose      string        `json:"purpose"`
	Collateral   string        `json:"collateral"`

	// credit profile handed to the assessor
	Income          float64 `json:"income"`
	CreditScore     float64 `json:"credit_score"`
	ExistingLoans   int     `json:"existing_loans"`
	EmploymentYears float64 `json:"employment_years"`

	// Mirror overrides the service default for putting the loan on the ledger.
	Mirror *bool `json:"mirror,omitempty"`
}

type FundInput struct {
	LoanID    string         `json:"loan_id"`
	LenderID  string         `json:"lender_id"`
	Amount    float64        `json:"amount"`
	Method    payment.Method `json:"payment_method"`
	RequestID string         `json:"-"`
}

type RepayInput struct {
	LoanID    string         `json:"loan_id"`
	Amount    float64        `json:"amount"`
	Method    payment.Method `json:"payment_method"`
	ActorID   string         `json:"-"`
	RequestID string         `json:"-"`
}

type RiskScoreInput struct {
	LoanID  string  `json:"loan_id"`
	Score   float64 `json:"score"`
	Reject  bool    `json:"reject"`
	Reason  string  `json:"reason"`
	ActorID string  `json:"-"`
}

type RepaymentDTO struct {
	InstallmentNo    int       `json:"installment_no"`
	Amount           float64   `json:"amount"`
	PrincipalPortion float64   `json:"principal_portion"`
	InterestPortion  float64   `json:"interest_portion"`
	PaymentMethod    string    `json:"payment_method,omitempty"`
	PaymentTxID      string    `json:"payment_tx_id,omitempty"`
	Source           string    `json:"source"`
	PaidAt           time.Time `json:"paid_at"`
}

type AssessmentDTO struct {
	Approved        bool    `json:"approved"`
	Score           float64 `json:"score"`
	RiskLevel       string  `json:"risk_level"`
	RecommendedRate float64 `json:"recommended_rate"`
	Reason          string  `json:"reason,omitempty"`
}

type LoanDTO struct {
	LoanID           string         `json:"loan_id"`
	LedgerID         string         `json:"ledger_id,omitempty"`
	BorrowerID       string         `json:"borrower_id"`
	LenderID         string         `json:"lender_id,omitempty"`
	Status           string         `json:"status"`
	Principal        float64        `json:"principal"`
	InterestRate     float64        `json:"interest_rate"`
	TermLength       int            `json:"term_length"`
	TermUnit         string         `json:"term_unit"`
	Purpose          string         `json:"purpose"`
	Collateral       string         `json:"collateral,omitempty"`
	Assessment       AssessmentDTO  `json:"assessment"`
	RiskScore        *float64       `json:"risk_score,omitempty"`
	FundedAmount     float64        `json:"funded_amount"`
	AmountRepaid     float64        `json:"amount_repaid"`
	TotalAmountDue   float64        `json:"total_amount_due"`
	RemainingBalance float64        `json:"remaining_balance"`
	LedgerDesync     bool           `json:"ledger_desync"`
	Repayments       []RepaymentDTO `json:"repayments"`
	FundedAt         *time.Time     `json:"funded_at,omitempty"`
	DisbursedAt      *time.Time     `json:"disbursed_at,omitempty"`
	RepaidAt         *time.Time     `json:"repaid_at,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	DefaultedAt      *time.Time     `json:"defaulted_at,omitempty"`
	RejectedAt       *time.Time     `json:"rejected_at,omitempty"`
	Version          uint64         `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type ScheduleDTO struct {
	LoanID            string                  `json:"loan_id"`
	TotalInterest     float64                 `json:"total_interest"`
	TotalAmountDue    float64                 `json:"total_amount_due"`
	AmountRepaid      float64                 `json:"amount_repaid"`
	RemainingBalance  float64                 `json:"remaining_balance"`
	InstallmentAmount float64                 `json:"installment_amount"`
	Installments      []repayment.Installment `json:"installments"`
}

type AuditDTO struct {
	EventType string    `json:"event_type"`
	ActorID   string    `json:"actor_id,omitempty"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ToDTO projects a stored loan for callers.
func ToDTO(l *loan.Loan) *LoanDTO {
	reps := make([]RepaymentDTO, 0, len(l.Repayments))
	for _, r := range l.Repayments {
		reps = append(reps, RepaymentDTO{
			InstallmentNo:    r.InstallmentNo,
			Amount:           r.Amount,
			PrincipalPortion: r.PrincipalPortion,
			InterestPortion:  r.InterestPortion,
			PaymentMethod:    r.PaymentMethod,
			PaymentTxID:      r.PaymentTxID,
			Source:           string(r.Source),
			PaidAt:           r.PaidAt,
		})
	}
	return &LoanDTO{
		LoanID:       l.LoanID,
		LedgerID:     deref(l.LedgerID),
		BorrowerID:   l.BorrowerID,
		LenderID:     deref(l.LenderID),
		Status:       string(l.Status),
		Principal:    l.Terms.Principal,
		InterestRate: l.Terms.InterestRate,
		TermLength:   l.Terms.TermLength,
		TermUnit:     string(l.Terms.TermUnit),
		Purpose:      l.Terms.Purpose,
		Collateral:   l.Terms.Collateral,
		Assessment: AssessmentDTO{
			Approved:        l.Assessment.Approved,
			Score:           l.Assessment.Score,
			RiskLevel:       l.Assessment.RiskLevel,
			RecommendedRate: l.Assessment.RecommendedRate,
			Reason:          l.Assessment.Reason,
		},
		RiskScore:        l.RiskScore,
		FundedAmount:     l.FundedAmount,
		AmountRepaid:     l.AmountRepaid,
		TotalAmountDue:   repayment.TotalAmountDue(l.Terms),
		RemainingBalance: repayment.RemainingBalance(l.Terms, l.AmountRepaid),
		LedgerDesync:     l.LedgerDesync,
		Repayments:       reps,
		FundedAt:         l.FundedAt,
		DisbursedAt:      l.DisbursedAt,
		RepaidAt:         l.RepaidAt,
		CancelledAt:      l.CancelledAt,
		DefaultedAt:      l.DefaultedAt,
		RejectedAt:       l.RejectedAt,
		Version:          l.Version,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}
