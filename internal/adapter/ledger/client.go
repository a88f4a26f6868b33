// Package ledger talks to the ledger gateway, a JSON/HTTP front for the on-chain loan contract.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	ledgerDomain "loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/infrastructure/logger"
)

const headerRequestID = "X-Request-Id"

var _ ledgerDomain.Client = (*Client)(nil)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type requestLoanResponse struct {
	LedgerID       string `json:"ledger_id"`
	TransactionRef string `json:"transaction_ref"`
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
}

type receiptResponse struct {
	TransactionRef string `json:"transaction_ref"`
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) RequestLoan(ctx context.Context, in ledgerDomain.RequestInput) (string, ledgerDomain.Receipt, error) {
	const op = "ledger.RequestLoan"
	var out requestLoanResponse
	if err := c.do(ctx, op, http.MethodPost, "/loans", in, &out); err != nil {
		return "", ledgerDomain.Receipt{}, err
	}
	if !out.Success || out.LedgerID == "" {
		return "", ledgerDomain.Receipt{}, &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrRejected, Reason: reasonOr(out.Reason, "no ledger id issued")}
	}
	return out.LedgerID, ledgerDomain.Receipt{TransactionRef: out.TransactionRef, Success: true}, nil
}

func (c *Client) Fund(ctx context.Context, ledgerID, lenderID string, amount float64) (ledgerDomain.Receipt, error) {
	body := map[string]any{"lender_id": lenderID, "amount": amount}
	return c.mutate(ctx, "ledger.Fund", ledgerID, "fund", body)
}

func (c *Client) Disburse(ctx context.Context, ledgerID string) (ledgerDomain.Receipt, error) {
	return c.mutate(ctx, "ledger.Disburse", ledgerID, "disburse", nil)
}

func (c *Client) Repay(ctx context.Context, ledgerID string, amount float64) (ledgerDomain.Receipt, error) {
	return c.mutate(ctx, "ledger.Repay", ledgerID, "repay", map[string]any{"amount": amount})
}

func (c *Client) Cancel(ctx context.Context, ledgerID string) (ledgerDomain.Receipt, error) {
	return c.mutate(ctx, "ledger.Cancel", ledgerID, "cancel", nil)
}

func (c *Client) MarkDefaulted(ctx context.Context, ledgerID string) (ledgerDomain.Receipt, error) {
	return c.mutate(ctx, "ledger.MarkDefaulted", ledgerID, "default", nil)
}

func (c *Client) Snapshot(ctx context.Context, ledgerID string) (*ledgerDomain.Snapshot, error) {
	var out ledgerDomain.Snapshot
	if err := c.do(ctx, "ledger.Snapshot", http.MethodGet, "/loans/"+url.PathEscape(ledgerID), nil, &out); err != nil {
		return nil, err
	}
	if out.LedgerID == "" {
		out.LedgerID = ledgerID
	}
	if out.FetchedAt.IsZero() {
		out.FetchedAt = time.Now().UTC()
	}
	return &out, nil
}

// PingContext checks the gateway and its chain connection through GET /health.
func (c *Client) PingContext(ctx context.Context) error {
	return c.do(ctx, "ledger.Ping", http.MethodGet, "/health", nil, nil)
}

func (c *Client) mutate(ctx context.Context, op, ledgerID, action string, body any) (ledgerDomain.Receipt, error) {
	var out receiptResponse
	path := "/loans/" + url.PathEscape(ledgerID) + "/" + action
	if err := c.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return ledgerDomain.Receipt{}, err
	}
	if !out.Success {
		return ledgerDomain.Receipt{}, &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrRejected, Reason: out.Reason}
	}
	return ledgerDomain.Receipt{TransactionRef: out.TransactionRef, Success: true}, nil
}

// do performs one round trip and classifies the failure:
// network errors and 5xx/429 are unavailable, deadline hits are timeouts, other 4xx are rejections.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rid := logger.RequestID(ctx); rid != "" {
		req.Header.Set(headerRequestID, rid)
	}

	log := logger.Ctx(ctx, c.log).With(zap.String("op", op), zap.String("path", path))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("ledger call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if isTimeout(ctx, err) {
			return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrTimeout, Reason: err.Error()}
		}
		return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrUnavailable, Reason: err.Error()}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn("ledger: close body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrTimeout, Reason: err.Error()}
		}
		return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrUnavailable, Reason: "read body: " + err.Error()}
	}
	log.Debug("ledger call done", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrUnavailable, Reason: errorReason(resp.StatusCode, raw)}
	case resp.StatusCode >= 400:
		return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrRejected, Reason: errorReason(resp.StatusCode, raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// the call may have been applied; treat the outcome as unknown
		return &ledgerDomain.Error{Op: op, Kind: ledgerDomain.ErrUnavailable, Reason: "decode response: " + err.Error()}
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func errorReason(status int, raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return fmt.Sprintf("status %d: %s", status, e.Error)
	}
	return fmt.Sprintf("status %d", status)
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
