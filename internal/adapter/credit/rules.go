// Package credit holds the default rule-based credit assessor.
package credit

import (
	"context"
	"fmt"
	"math"

	creditDomain "loan-lifecycle-engine/internal/domain/credit"
)

const (
	// applications at or above this risk are declined
	approvalThreshold = 0.3
	baseRate          = 0.05
	assumedScore      = 650
	maxBureauScore    = 850
	bureauScoreRange  = 550
)

var _ creditDomain.Assessor = RuleAssessor{}

// RuleAssessor scores an application from its bureau score, debt-to-income ratio, open
// obligations and employment history. Risk is in [0, 1]; lower is better.
type RuleAssessor struct{}

func NewRuleAssessor() RuleAssessor { return RuleAssessor{} }

func (RuleAssessor) Assess(_ context.Context, req creditDomain.Request) (*creditDomain.Assessment, error) {
	risk := riskScore(req)
	score := math.Round((maxBureauScore-risk*bureauScoreRange)*100) / 100

	out := &creditDomain.Assessment{
		Approved:        risk < approvalThreshold,
		Score:           score,
		RiskLevel:       riskLevel(risk),
		RecommendedRate: baseRate + math.Floor(risk*10)/100,
	}
	if out.Approved {
		out.Reason = band(score)
	} else {
		out.Reason = fmt.Sprintf("risk %.2f at or above %.2f threshold (%s)", risk, approvalThreshold, band(score))
	}
	return out, nil
}

func riskScore(req creditDomain.Request) float64 {
	bureau := req.CreditScore
	if bureau <= 0 {
		bureau = assumedScore
	}
	scoreRisk := clamp((maxBureauScore - bureau) / bureauScoreRange)

	dti := 1.0
	if req.Income > 0 {
		dti = clamp(req.RequestedAmount / req.Income)
	}
	obligations := clamp(float64(req.ExistingLoans) / 5)
	tenure := 1 - clamp(req.EmploymentYears/10)

	return clamp(0.5*scoreRisk + 0.3*dti + 0.1*obligations + 0.1*tenure)
}

func riskLevel(risk float64) creditDomain.RiskLevel {
	switch {
	case risk < 0.3:
		return creditDomain.RiskLow
	case risk < 0.6:
		return creditDomain.RiskMedium
	}
	return creditDomain.RiskHigh
}

func band(score float64) string {
	switch {
	case score >= 750:
		return "approved"
	case score >= 650:
		return "conditionally approved"
	case score >= 600:
		return "manual review required"
	}
	return "declined"
}

func clamp(f float64) float64 { return math.Max(0, math.Min(1, f)) }
