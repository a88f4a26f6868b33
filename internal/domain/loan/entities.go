package loan

import (
	"time"
)

type Status string

const (
	StatusRequested   Status = "requested"
	StatusMarketplace Status = "marketplace"
	StatusFunded      Status = "funded"
	StatusActive      Status = "active"
	StatusRepaid      Status = "repaid"
	StatusDefaulted   Status = "defaulted"
	StatusCancelled   Status = "cancelled"
	StatusRejected    Status = "rejected"
)

type TermUnit string

const (
	TermDays   TermUnit = "days"
	TermWeeks  TermUnit = "weeks"
	TermMonths TermUnit = "months"
	TermYears  TermUnit = "years"
)

func (u TermUnit) Valid() bool {
	switch u {
	case TermDays, TermWeeks, TermMonths, TermYears:
		return true
	}
	return false
}

// Terms are fixed at application time.
type Terms struct {
	Principal    float64  `gorm:"column:principal;type:decimal(18,2);not null" json:"principal"`
	InterestRate float64  `gorm:"column:interest_rate;type:decimal(8,6);not null" json:"interest_rate"`
	TermLength   int      `gorm:"column:term_length;not null" json:"term_length"`
	TermUnit     TermUnit `gorm:"column:term_unit;size:16;not null" json:"term_unit"`
	Purpose      string   `gorm:"column:purpose;type:text" json:"purpose"`
	Collateral   string   `gorm:"column:collateral;type:text" json:"collateral,omitempty"`
}

// Assessment is the credit decision snapshot taken when the loan was applied for.
type Assessment struct {
	Approved        bool    `gorm:"column:assessment_approved" json:"approved"`
	Score           float64 `gorm:"column:assessment_score;type:decimal(10,4)" json:"score"`
	RiskLevel       string  `gorm:"column:risk_level;size:16" json:"risk_level"`
	RecommendedRate float64 `gorm:"column:recommended_rate;type:decimal(8,6)" json:"recommended_rate"`
	Reason          string  `gorm:"column:assessment_reason;type:text" json:"reason,omitempty"`
}

// Table: loans
type Loan struct {
	ID         uint64  `gorm:"primaryKey;column:id" json:"-"`
	LoanID     string  `gorm:"column:loan_id;size:32;uniqueIndex:ux_loans_loan_id" json:"loan_id"`
	LedgerID   *string `gorm:"column:ledger_id;size:128;index" json:"ledger_id,omitempty"`
	BorrowerID string  `gorm:"column:borrower_id;size:32;index:idx_loans_borrower_status" json:"borrower_id"`
	LenderID   *string `gorm:"column:lender_id;size:32" json:"lender_id,omitempty"`

	Terms      Terms      `gorm:"embedded" json:"terms"`
	Assessment Assessment `gorm:"embedded" json:"assessment"`
	RiskScore  *float64   `gorm:"column:risk_score;type:decimal(10,4)" json:"risk_score,omitempty"`

	Status        Status  `gorm:"column:status;type:enum('requested','marketplace','funded','active','repaid','defaulted','cancelled','rejected');default:'requested';index:idx_loans_borrower_status" json:"status"`
	FundedAmount  float64 `gorm:"column:funded_amount;type:decimal(18,2);not null;default:0" json:"funded_amount"`
	AmountRepaid  float64 `gorm:"column:amount_repaid;type:decimal(18,2);not null;default:0" json:"amount_repaid"`
	FundingTxID   string  `gorm:"column:funding_tx_id;size:128" json:"-"`
	FundRequestID string  `gorm:"column:fund_request_id;size:64" json:"-"`

	LedgerDesync    bool `gorm:"column:ledger_desync;not null;default:false;index" json:"ledger_desync"`
	MirrorRequested bool `gorm:"column:mirror_requested;not null;default:false" json:"mirror_requested"`

	Repayments []RepaymentEvent `gorm:"foreignKey:LoanRef;references:ID" json:"repayments"`

	FundedAt    *time.Time `gorm:"column:funded_at" json:"funded_at,omitempty"`
	DisbursedAt *time.Time `gorm:"column:disbursed_at" json:"disbursed_at,omitempty"`
	RepaidAt    *time.Time `gorm:"column:repaid_at" json:"repaid_at,omitempty"`
	CancelledAt *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	DefaultedAt *time.Time `gorm:"column:defaulted_at" json:"defaulted_at,omitempty"`
	RejectedAt  *time.Time `gorm:"column:rejected_at" json:"rejected_at,omitempty"`

	Version        uint64    `gorm:"column:version;not null;default:0" json:"version"`
	StateUpdatedAt time.Time `gorm:"column:state_updated_at" json:"state_updated_at"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Loan) TableName() string { return "loans" }

// HasLedgerMirror reports whether every mutating transition must also reach the ledger.
func (l *Loan) HasLedgerMirror() bool { return l.LedgerID != nil && *l.LedgerID != "" }

func (l *Loan) IsTerminal() bool { return l.Status.Terminal() }

// OutstandingFunding is the part of the principal no lender has covered yet.
func (l *Loan) OutstandingFunding() float64 { return l.Terms.Principal - l.FundedAmount }

func (l *Loan) LastRepaymentByRequest(requestID string) *RepaymentEvent {
	if requestID == "" {
		return nil
	}
	for i := range l.Repayments {
		if l.Repayments[i].RequestID == requestID {
			return &l.Repayments[i]
		}
	}
	return nil
}

// InterestPaid sums the interest portions recorded so far.
func (l *Loan) InterestPaid() float64 {
	var sum float64
	for _, r := range l.Repayments {
		sum += r.InterestPortion
	}
	return sum
}

type RepaymentSource string

const (
	SourceBorrower       RepaymentSource = "borrower"
	SourceReconciliation RepaymentSource = "reconciliation"
)

// Table: loan_repayments. Rows are append-only.
type RepaymentEvent struct {
	ID               uint64          `gorm:"primaryKey;column:id" json:"-"`
	LoanRef          uint64          `gorm:"column:loan_ref;not null;uniqueIndex:ux_repayments_installment" json:"-"`
	InstallmentNo    int             `gorm:"column:installment_no;not null;uniqueIndex:ux_repayments_installment" json:"installment_no"`
	Amount           float64         `gorm:"column:amount;type:decimal(18,2);not null" json:"amount"`
	PrincipalPortion float64         `gorm:"column:principal_portion;type:decimal(18,2);not null" json:"principal_portion"`
	InterestPortion  float64         `gorm:"column:interest_portion;type:decimal(18,2);not null" json:"interest_portion"`
	PaymentMethod    string          `gorm:"column:payment_method;size:32" json:"payment_method"`
	PaymentTxID      string          `gorm:"column:payment_tx_id;size:128" json:"payment_tx_id,omitempty"`
	RequestID        string          `gorm:"column:request_id;size:64;index" json:"request_id,omitempty"`
	Source           RepaymentSource `gorm:"column:source;size:16;not null" json:"source"`
	PaidAt           time.Time       `gorm:"column:paid_at;not null" json:"paid_at"`
}

func (RepaymentEvent) TableName() string { return "loan_repayments" }
