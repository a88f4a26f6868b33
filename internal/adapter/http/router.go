package http

import "github.com/labstack/echo/v4"

// Register mounts every route on e.
func Register(e *echo.Echo, h *Handler, loans *LoanHandler, admin *AdminHandler) {
	e.GET("/health", h.Health)

	e.POST("/loans", loans.ApplyLoan)
	e.GET("/loans", loans.ListOpenLoans)
	e.GET("/loans/:loan_id", loans.GetLoan)
	e.GET("/loans/:loan_id/schedule", loans.GetSchedule)
	e.GET("/loans/:loan_id/audit", loans.GetAuditTrail)
	e.POST("/loans/:loan_id/publish", loans.PublishLoan())
	e.POST("/loans/:loan_id/fund", loans.FundLoan)
	e.POST("/loans/:loan_id/disburse", loans.DisburseLoan())
	e.POST("/loans/:loan_id/repayments", loans.RepayLoan)
	e.POST("/loans/:loan_id/cancel", loans.CancelLoan())
	e.POST("/loans/:loan_id/default", loans.DefaultLoan())
	e.POST("/loans/:loan_id/risk-score", loans.SetRiskScore)
	e.GET("/borrowers/:borrower_id/loans", loans.ListBorrowerLoans)

	e.POST("/admin/reconcile", admin.Reconcile)
}
