package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testAccount = "0x1234567890abcdef1234567890abcdef12345678"

func testRequest(t *testing.T) SubmissionRequest {
	t.Helper()
	req, err := NewSubmissionRequest(testAccount, "d-1", "arb", "arbitrage", samplePlan())
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	return NewClient(server.URL, 2*time.Second, nil), server
}

func TestSubmitSuccess(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/submit" {
			t.Errorf("path %s, want /v1/submit", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tx_id":"0xfeed","status":"confirmed"}`))
	})
	defer server.Close()

	receipt, err := client.Submit(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.TxID != "0xfeed" || receipt.Status != "confirmed" {
		t.Fatalf("receipt %+v", receipt)
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusPaymentRequired, ErrInsufficientFunds},
		{http.StatusTooManyRequests, ErrNetworkCongestion},
		{http.StatusServiceUnavailable, ErrNetworkCongestion},
		{http.StatusInternalServerError, ErrNetworkCongestion},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusUnprocessableEntity, ErrRejected},
	}
	for _, tc := range cases {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"code":"E","message":"nope"}`))
		})
		_, err := client.Submit(context.Background(), testRequest(t))
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestSubmitNetworkErrorIsCongestion(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	server.Close() // connection refused from here on

	_, err := client.Submit(context.Background(), testRequest(t))
	if !errors.Is(err, ErrNetworkCongestion) {
		t.Fatalf("err %v, want ErrNetworkCongestion", err)
	}
}

func TestSubmitRejectsBadAccount(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	})
	defer server.Close()

	req := testRequest(t)
	req.Account = "not-an-address"
	if _, err := client.Submit(context.Background(), req); err == nil {
		t.Fatal("non-hex account accepted")
	}
}
