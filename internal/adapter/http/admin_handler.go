package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"loan-lifecycle-engine/internal/usecase/reconcile"
)

type Reconciler interface {
	SweepOnce(ctx context.Context) (reconcile.Report, error)
	ReconcileLoan(ctx context.Context, loanID string) (reconcile.Result, error)
}

type AdminHandler struct{ rec Reconciler }

func NewAdminHandler(rec Reconciler) *AdminHandler { return &AdminHandler{rec: rec} }

type reconcileReq struct {
	// empty sweeps one batch of flagged loans
	LoanID string `json:"loan_id" validate:"omitempty,hex32"`
}

type reconcileLoanResp struct {
	LoanID string           `json:"loan_id"`
	Result reconcile.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

func (h *AdminHandler) Reconcile(c echo.Context) error {
	var req reconcileReq
	if c.Request().ContentLength != 0 {
		if ok, err := bindAndValidate(c, &req); !ok {
			return err
		}
	}
	ctx := c.Request().Context()

	if req.LoanID == "" {
		rep, err := h.rec.SweepOnce(ctx)
		if errors.Is(err, reconcile.ErrNoLedger) {
			return c.JSON(http.StatusConflict, ErrorResponse{Error: "no ledger configured"})
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, rep)
	}

	res, err := h.rec.ReconcileLoan(ctx, req.LoanID)
	if err != nil && res == reconcile.ResultFailed {
		return writeError(c, err)
	}
	out := reconcileLoanResp{LoanID: req.LoanID, Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	return c.JSON(http.StatusOK, out)
}
