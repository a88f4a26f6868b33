// Package payment is the HTTP client for the payment processor.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	paymentDomain "loan-lifecycle-engine/internal/domain/payment"
	"loan-lifecycle-engine/internal/infrastructure/logger"
)

var _ paymentDomain.Processor = (*Client)(nil)

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

type processRequest struct {
	PayerID string               `json:"payer_id"`
	PayeeID string               `json:"payee_id"`
	Amount  float64              `json:"amount"`
	Method  paymentDomain.Method `json:"method"`
}

// Process charges payer in favour of payee. A decline comes back as Result{Success: false};
// an error means the processor could not give an answer.
func (c *Client) Process(ctx context.Context, payerID, payeeID string, amount float64, method paymentDomain.Method) (*paymentDomain.Result, error) {
	in := processRequest{PayerID: payerID, PayeeID: payeeID, Amount: amount, Method: method}
	return c.post(ctx, "payment.Process", "/payments", in)
}

func (c *Client) Refund(ctx context.Context, transactionID string) (*paymentDomain.Result, error) {
	return c.post(ctx, "payment.Refund", "/payments/"+url.PathEscape(transactionID)+"/refund", nil)
}

func (c *Client) post(ctx context.Context, op, path string, in any) (*paymentDomain.Result, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rid := logger.RequestID(ctx); rid != "" {
		req.Header.Set("Idempotency-Key", op+":"+rid)
	}

	log := logger.Ctx(ctx, c.log).With(zap.String("op", op))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("payment call failed", zap.Error(err))
		return nil, fmt.Errorf("%s: %w: %v", op, paymentDomain.ErrUnavailable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn("payment: close body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %v", op, paymentDomain.ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w: status %d", op, paymentDomain.ErrUnavailable, resp.StatusCode)
	}

	var out paymentDomain.Result
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%s: %w: decode response: %v", op, paymentDomain.ErrUnavailable, err)
		}
	}
	if resp.StatusCode >= 400 {
		out.Success = false
		if out.Reason == "" {
			out.Reason = fmt.Sprintf("declined with status %d", resp.StatusCode)
		}
	}
	log.Info("payment call done", zap.Bool("success", out.Success), zap.String("transaction_id", out.TransactionID))
	return &out, nil
}
