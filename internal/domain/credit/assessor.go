package credit

import "context"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Request struct {
	BorrowerID      string
	RequestedAmount float64
	Income          float64
	ExistingLoans   int
	// CreditScore is the bureau score if the borrower supplied one (0 when unknown).
	CreditScore     float64
	EmploymentYears float64
}

type Assessment struct {
	Approved        bool
	Score           float64
	RiskLevel       RiskLevel
	RecommendedRate float64
	Reason          string
}

// Assessor is the black-box credit decision collaborator.
type Assessor interface {
	Assess(ctx context.Context, req Request) (*Assessment, error)
}
