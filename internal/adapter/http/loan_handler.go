package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/domain/payment"
	"loan-lifecycle-engine/internal/usecase/lifecycle"
)

// Lifecycle is the slice of the orchestrator the HTTP boundary drives.
type Lifecycle interface {
	Apply(ctx context.Context, in lifecycle.ApplyInput) (*lifecycle.LoanDTO, error)
	PublishToMarketplace(ctx context.Context, loanID, actorID string) (*lifecycle.LoanDTO, error)
	Fund(ctx context.Context, in lifecycle.FundInput) (*lifecycle.LoanDTO, error)
	Disburse(ctx context.Context, loanID, actorID string) (*lifecycle.LoanDTO, error)
	Repay(ctx context.Context, in lifecycle.RepayInput) (*lifecycle.LoanDTO, error)
	Cancel(ctx context.Context, loanID, actorID string) (*lifecycle.LoanDTO, error)
	MarkDefaulted(ctx context.Context, loanID, actorID string) (*lifecycle.LoanDTO, error)
	SetRiskScore(ctx context.Context, in lifecycle.RiskScoreInput) (*lifecycle.LoanDTO, error)
	Get(ctx context.Context, loanID string) (*lifecycle.LoanDTO, error)
	ListByBorrower(ctx context.Context, borrowerID string) ([]*lifecycle.LoanDTO, error)
	ListOpen(ctx context.Context, status string, limit int) ([]*lifecycle.LoanDTO, error)
	Schedule(ctx context.Context, loanID string) (*lifecycle.ScheduleDTO, error)
	AuditTrail(ctx context.Context, loanID string) ([]lifecycle.AuditDTO, error)
}

type LoanHandler struct{ uc Lifecycle }

func NewLoanHandler(uc Lifecycle) *LoanHandler { return &LoanHandler{uc: uc} }

type applyLoanReq struct {
	BorrowerID   string  `json:"borrower_id"   validate:"required,hex32"`
	Principal    float64 `json:"principal"     validate:"required,gt=0,dec2"`
	InterestRate float64 `json:"interest_rate" validate:"gte=0,lte=1"`
	TermLength   int     `json:"term_length"   validate:"required,gt=0"`
	TermUnit     string  `json:"term_unit"     validate:"required,oneof=days weeks months years"`
	Purpose      string  `json:"purpose"       validate:"max=500"`
	Collateral   string  `json:"collateral"    validate:"max=500"`

	Income          float64 `json:"income"           validate:"gte=0"`
	CreditScore     float64 `json:"credit_score"     validate:"gte=0,lte=850,intlike"`
	ExistingLoans   int     `json:"existing_loans"   validate:"gte=0"`
	EmploymentYears float64 `json:"employment_years" validate:"gte=0"`
	Mirror          *bool   `json:"mirror"`
}

type fundLoanReq struct {
	LenderID      string  `json:"lender_id"      validate:"required,hex32"`
	Amount        float64 `json:"amount"         validate:"required,gt=0,dec2"`
	PaymentMethod string  `json:"payment_method" validate:"omitempty,oneof=bank_transfer card wallet"`
}

type repayLoanReq struct {
	Amount        float64 `json:"amount"         validate:"required,gt=0,dec2"`
	PaymentMethod string  `json:"payment_method" validate:"omitempty,oneof=bank_transfer card wallet"`
}

type riskScoreReq struct {
	Score  float64 `json:"score"  validate:"finite,gte=0"`
	Reject bool    `json:"reject"`
	Reason string  `json:"reason" validate:"max=500"`
}

func (h *LoanHandler) ApplyLoan(c echo.Context) error {
	var req applyLoanReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Apply(c.Request().Context(), lifecycle.ApplyInput{
		BorrowerID:      req.BorrowerID,
		Principal:       req.Principal,
		InterestRate:    req.InterestRate,
		TermLength:      req.TermLength,
		TermUnit:        loan.TermUnit(req.TermUnit),
		Purpose:         req.Purpose,
		Collateral:      req.Collateral,
		Income:          req.Income,
		CreditScore:     req.CreditScore,
		ExistingLoans:   req.ExistingLoans,
		EmploymentYears: req.EmploymentYears,
		Mirror:          req.Mirror,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	dto, err := h.uc.Get(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) ListBorrowerLoans(c echo.Context) error {
	borrowerID := c.Param("borrower_id")
	if !reHex32.MatchString(borrowerID) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "borrower_id must be 32-char lowercase hex"})
	}
	list, err := h.uc.ListByBorrower(c.Request().Context(), borrowerID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"borrower_id": borrowerID, "loans": list})
}

// ListOpenLoans is the lender-facing listing: GET /loans?status=marketplace&limit=20.
func (h *LoanHandler) ListOpenLoans(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer"})
		}
		limit = n
	}
	status := c.QueryParam("status")
	list, err := h.uc.ListOpen(c.Request().Context(), status, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": status, "loans": list})
}

func (h *LoanHandler) GetSchedule(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	dto, err := h.uc.Schedule(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) GetAuditTrail(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	recs, err := h.uc.AuditTrail(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"loan_id": loanID, "records": recs})
}

func (h *LoanHandler) FundLoan(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	var req fundLoanReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Fund(c.Request().Context(), lifecycle.FundInput{
		LoanID:    loanID,
		LenderID:  req.LenderID,
		Amount:    req.Amount,
		Method:    payment.Method(req.PaymentMethod),
		RequestID: requestID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) RepayLoan(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	var req repayLoanReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Repay(c.Request().Context(), lifecycle.RepayInput{
		LoanID:    loanID,
		Amount:    req.Amount,
		Method:    payment.Method(req.PaymentMethod),
		ActorID:   actorID(c),
		RequestID: requestID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) SetRiskScore(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if loanID == "" {
		return err
	}
	var req riskScoreReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	dto, err := h.uc.SetRiskScore(c.Request().Context(), lifecycle.RiskScoreInput{
		LoanID:  loanID,
		Score:   req.Score,
		Reject:  req.Reject,
		Reason:  req.Reason,
		ActorID: actorID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

// transition adapts the body-less transitions (publish, disburse, cancel, default).
func (h *LoanHandler) transition(fn func(ctx context.Context, loanID, actorID string) (*lifecycle.LoanDTO, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		loanID, err := loanIDParam(c)
		if loanID == "" {
			return err
		}
		dto, err := fn(c.Request().Context(), loanID, actorID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, dto)
	}
}

func (h *LoanHandler) PublishLoan() echo.HandlerFunc  { return h.transition(h.uc.PublishToMarketplace) }
func (h *LoanHandler) DisburseLoan() echo.HandlerFunc { return h.transition(h.uc.Disburse) }
func (h *LoanHandler) CancelLoan() echo.HandlerFunc   { return h.transition(h.uc.Cancel) }
func (h *LoanHandler) DefaultLoan() echo.HandlerFunc  { return h.transition(h.uc.MarkDefaulted) }
