// Package repayment holds the loan arithmetic: total due, the principal/interest split of
// a payment and the installment schedule. Everything here is pure and rounds money to cents.
package repayment

import (
	"time"

	"github.com/shopspring/decimal"

	"loan-lifecycle-engine/internal/domain/loan"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

type Breakdown struct {
	// Applied is the part of the payment that counts against the loan; it is capped at
	// the remaining balance.
	Applied          float64
	PrincipalPortion float64
	InterestPortion  float64
	RemainingBalance float64
	Payoff           bool
}

type Installment struct {
	Number    int       `json:"number"`
	DueDate   time.Time `json:"due_date"`
	Amount    float64   `json:"amount"`
	Principal float64   `json:"principal"`
	Interest  float64   `json:"interest"`
}

func money(f float64) decimal.Decimal { return decimal.NewFromFloat(f).Round(2) }

// TermYears converts a term length to years (365-day year, 52-week year).
func TermYears(length int, unit loan.TermUnit) decimal.Decimal {
	n := decimal.NewFromInt(int64(length))
	switch unit {
	case loan.TermDays:
		return n.Div(decimal.NewFromInt(365))
	case loan.TermWeeks:
		return n.Div(decimal.NewFromInt(52))
	case loan.TermMonths:
		return n.Div(decimal.NewFromInt(12))
	case loan.TermYears:
		return n
	}
	return zero
}

func totalInterest(t loan.Terms) decimal.Decimal {
	return money(t.Principal).
		Mul(decimal.NewFromFloat(t.InterestRate)).
		Mul(TermYears(t.TermLength, t.TermUnit)).
		Round(2)
}

func totalDue(t loan.Terms) decimal.Decimal { return money(t.Principal).Add(totalInterest(t)) }

func TotalInterest(t loan.Terms) float64 { return totalInterest(t).InexactFloat64() }

func TotalAmountDue(t loan.Terms) float64 { return totalDue(t).InexactFloat64() }

// RemainingBalance never goes below zero.
func RemainingBalance(t loan.Terms, amountRepaid float64) float64 {
	r := totalDue(t).Sub(money(amountRepaid))
	if r.IsNegative() {
		return 0
	}
	return r.InexactFloat64()
}

// IsPaidOff reports whether amountRepaid covers the total amount due.
func IsPaidOff(t loan.Terms, amountRepaid float64) bool {
	return money(amountRepaid).GreaterThanOrEqual(totalDue(t))
}

// Compute splits payment into principal and interest given what has been repaid so far.
// Interest is apportioned in proportion to the interest share of the remaining balance,
// and a payment that covers the remaining balance pays the loan off.
func Compute(t loan.Terms, amountRepaid, payment float64) (Breakdown, error) {
	const op = "repayment.Compute"
	pay := money(payment)
	if !pay.IsPositive() {
		return Breakdown{}, loan.Validation(op, "payment must be positive, got %v", payment)
	}
	due := totalDue(t)
	repaid := money(amountRepaid)
	remaining := due.Sub(repaid)
	if !remaining.IsPositive() {
		return Breakdown{}, loan.StateConflict(op, "loan is already fully repaid")
	}

	ti := totalInterest(t)
	interestPaid := zero
	if due.IsPositive() {
		interestPaid = repaid.Mul(ti).Div(due).Round(2)
	}
	remainingInterest := decimal.Max(ti.Sub(interestPaid), zero)
	remainingInterest = decimal.Min(remainingInterest, remaining)

	if pay.GreaterThanOrEqual(remaining) {
		return Breakdown{
			Applied:          remaining.InexactFloat64(),
			PrincipalPortion: remaining.Sub(remainingInterest).InexactFloat64(),
			InterestPortion:  remainingInterest.InexactFloat64(),
			RemainingBalance: 0,
			Payoff:           true,
		}, nil
	}

	interest := pay.Mul(remainingInterest).Div(remaining).Round(2)
	interest = decimal.Min(decimal.Max(interest, zero), pay)
	return Breakdown{
		Applied:          pay.InexactFloat64(),
		PrincipalPortion: pay.Sub(interest).InexactFloat64(),
		InterestPortion:  interest.InexactFloat64(),
		RemainingBalance: remaining.Sub(pay).InexactFloat64(),
	}, nil
}

// InstallmentCount is the number of scheduled payments: monthly for month and year terms,
// weekly for week terms and a single bullet payment for day terms.
func InstallmentCount(t loan.Terms) int {
	switch t.TermUnit {
	case loan.TermMonths, loan.TermWeeks:
		return t.TermLength
	case loan.TermYears:
		return t.TermLength * 12
	case loan.TermDays:
		return 1
	}
	return 0
}

// InstallmentAmount is the evenly amortized payment per period.
func InstallmentAmount(t loan.Terms) float64 {
	n := InstallmentCount(t)
	if n <= 0 {
		return 0
	}
	return totalDue(t).Div(decimal.NewFromInt(int64(n))).Round(2).InexactFloat64()
}

func dueDate(t loan.Terms, start time.Time, i int) time.Time {
	switch t.TermUnit {
	case loan.TermWeeks:
		return start.AddDate(0, 0, 7*i)
	case loan.TermDays:
		return start.AddDate(0, 0, t.TermLength)
	}
	return start.AddDate(0, i, 0)
}

// Schedule lays out the nominal installments starting from start. The last installment
// absorbs rounding so the schedule sums exactly to the total amount due.
func Schedule(t loan.Terms, start time.Time) []Installment {
	n := InstallmentCount(t)
	if n <= 0 {
		return nil
	}
	due := totalDue(t)
	ti := totalInterest(t)
	per := due.Div(decimal.NewFromInt(int64(n))).Round(2)
	perInterest := zero
	if due.IsPositive() {
		perInterest = per.Mul(ti).Div(due).Round(2)
	}

	out := make([]Installment, 0, n)
	allocated, allocatedInterest := zero, zero
	for i := 1; i <= n; i++ {
		amt, interest := per, perInterest
		if i == n {
			amt = due.Sub(allocated)
			interest = ti.Sub(allocatedInterest)
		}
		allocated = allocated.Add(amt)
		allocatedInterest = allocatedInterest.Add(interest)
		out = append(out, Installment{
			Number:    i,
			DueDate:   dueDate(t, start, i),
			Amount:    amt.InexactFloat64(),
			Principal: amt.Sub(interest).InexactFloat64(),
			Interest:  interest.InexactFloat64(),
		})
	}
	return out
}

// AddMoney sums two amounts at cent precision.
func AddMoney(a, b float64) float64 { return money(a).Add(money(b)).InexactFloat64() }

// SubMoney returns a - b at cent precision.
func SubMoney(a, b float64) float64 { return money(a).Sub(money(b)).InexactFloat64() }

// Cents converts a float amount to integer cents, useful for exact comparisons.
func Cents(f float64) int64 { return money(f).Mul(hundred).IntPart() }
