package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"loan-lifecycle-engine/internal/adapter/middleware"
	"loan-lifecycle-engine/internal/domain/loan"
	"loan-lifecycle-engine/internal/infrastructure/logger"
)

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch loan.KindOf(err) {
	case loan.KindValidation:
		return http.StatusBadRequest
	case loan.KindNotFound:
		return http.StatusNotFound
	case loan.KindForbidden:
		return http.StatusForbidden
	case loan.KindStateConflict:
		return http.StatusConflict
	case loan.KindBusiness:
		return http.StatusUnprocessableEntity
	case loan.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c echo.Context, err error) error {
	code := statusFor(err)
	msg := err.Error()
	var le *loan.Error
	if errors.As(err, &le) && le.Msg != "" {
		msg = le.Msg
	}
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	return c.JSON(code, ErrorResponse{Error: msg, Kind: string(loan.KindOf(err))})
}

// bindAndValidate returns a non-nil response error when the body is unusable; callers
// return that error as-is.
func bindAndValidate(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	return true, nil
}

func actorID(c echo.Context) string {
	if v, ok := c.Get(middleware.ContextActorID).(string); ok {
		return v
	}
	return c.Request().Header.Get(middleware.HeaderActorID)
}

func requestID(c echo.Context) string {
	if id := logger.RequestID(c.Request().Context()); id != "" {
		return id
	}
	return c.Request().Header.Get(middleware.HeaderRequestID)
}

func loanIDParam(c echo.Context) (string, error) {
	loanID := c.Param("loan_id")
	if loanID == "" {
		return "", c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing loan_id path param"})
	}
	return loanID, nil
}
