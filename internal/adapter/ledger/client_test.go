package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ledgerDomain "loan-lifecycle-engine/internal/domain/ledger"
	"loan-lifecycle-engine/internal/infrastructure/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", timeout, zap.NewNop())
}

func TestRequestLoan_Success(t *testing.T) {
	var got ledgerDomain.RequestInput
	var gotReqID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/loans", r.URL.Path)
		gotReqID = r.Header.Get("X-Request-Id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ledger_id":"0xabc","transaction_ref":"tx-1","success":true}`))
	}, time.Second)

	ctx := logger.WithRequestID(context.Background(), "req-7")
	id, rcpt, err := c.RequestLoan(ctx, ledgerDomain.RequestInput{LoanID: "L1", BorrowerID: "B1", Principal: 1000, TermLength: 12, TermUnit: "months"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", id)
	assert.Equal(t, "tx-1", rcpt.TransactionRef)
	assert.True(t, rcpt.Success)
	assert.Equal(t, "L1", got.LoanID)
	assert.Equal(t, 1000.0, got.Principal)
	assert.Equal(t, "req-7", gotReqID)
}

func TestRequestLoan_NoLedgerIDIsRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"reason":"duplicate loan"}`))
	}, time.Second)

	_, _, err := c.RequestLoan(context.Background(), ledgerDomain.RequestInput{LoanID: "L1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerDomain.ErrRejected))
	assert.Contains(t, err.Error(), "duplicate loan")
}

func TestMutations_PathsAndBodies(t *testing.T) {
	type call struct {
		path string
		body map[string]any
	}
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var b map[string]any
		_ = json.NewDecoder(r.Body).Decode(&b)
		calls = append(calls, call{path: r.URL.Path, body: b})
		_, _ = w.Write([]byte(`{"transaction_ref":"tx","success":true}`))
	}, time.Second)

	ctx := context.Background()
	_, err := c.Fund(ctx, "0xL", "lender-1", 500)
	require.NoError(t, err)
	_, err = c.Disburse(ctx, "0xL")
	require.NoError(t, err)
	_, err = c.Repay(ctx, "0xL", 42.5)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, "0xL")
	require.NoError(t, err)
	_, err = c.MarkDefaulted(ctx, "0xL")
	require.NoError(t, err)

	require.Len(t, calls, 5)
	assert.Equal(t, "/loans/0xL/fund", calls[0].path)
	assert.Equal(t, "lender-1", calls[0].body["lender_id"])
	assert.Equal(t, 500.0, calls[0].body["amount"])
	assert.Equal(t, "/loans/0xL/disburse", calls[1].path)
	assert.Equal(t, "/loans/0xL/repay", calls[2].path)
	assert.Equal(t, 42.5, calls[2].body["amount"])
	assert.Equal(t, "/loans/0xL/cancel", calls[3].path)
	assert.Equal(t, "/loans/0xL/default", calls[4].path)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{"error":"node down"}`, wantErr: ledgerDomain.ErrUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: ledgerDomain.ErrUnavailable},
		{name: "conflict", status: http.StatusConflict, body: `{"error":"already funded"}`, wantErr: ledgerDomain.ErrRejected},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantErr: ledgerDomain.ErrRejected},
		{name: "success false", status: http.StatusOK, body: `{"success":false,"reason":"state mismatch"}`, wantErr: ledgerDomain.ErrRejected},
		{name: "garbled success", status: http.StatusOK, body: `{not json`, wantErr: ledgerDomain.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, time.Second)

			_, err := c.Fund(context.Background(), "0xL", "lender", 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			var le *ledgerDomain.Error
			require.True(t, errors.As(err, &le))
			assert.Equal(t, "ledger.Fund", le.Op)
		})
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 30*time.Millisecond)
	defer close(release)

	_, err := c.Cancel(context.Background(), "0xL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerDomain.ErrTimeout), "got %v", err)
	assert.True(t, ledgerDomain.IsTransient(err))
}

func TestUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, zap.NewNop())

	_, err := c.Disburse(context.Background(), "0xL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerDomain.ErrUnavailable), "got %v", err)
}

func TestSnapshot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/loans/0xL", r.URL.Path)
		_, _ = w.Write([]byte(`{"principal":1000,"status":"active","lender_id":"len","funded_amount":1000,"amount_repaid":250.5}`))
	}, time.Second)

	snap, err := c.Snapshot(context.Background(), "0xL")
	require.NoError(t, err)
	assert.Equal(t, "0xL", snap.LedgerID)
	assert.Equal(t, ledgerDomain.StatusActive, snap.Status)
	assert.Equal(t, 250.5, snap.AmountRepaid)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestSnapshot_NotFoundIsRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, time.Second)

	_, err := c.Snapshot(context.Background(), "0xmissing")
	assert.True(t, errors.Is(err, ledgerDomain.ErrRejected))
}

func TestPingContext(t *testing.T) {
	up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}, time.Second)
	require.NoError(t, up.PingContext(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second)
	err := down.PingContext(context.Background())
	assert.True(t, errors.Is(err, ledgerDomain.ErrUnavailable), "got %v", err)
}
