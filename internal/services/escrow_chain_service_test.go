package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func chainTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/sign-in", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestChain(t *testing.T, srv *httptest.Server) *EscrowChainService {
	t.Helper()
	svc, err := NewEscrowChainService(EscrowChainConfig{
		BaseURL:      srv.URL,
		APIKey:       "key",
		TerminalID:   "term-1",
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  200 * time.Millisecond,
		Client:       srv.Client(),
	})
	if err != nil {
		t.Fatalf("new chain service: %v", err)
	}
	return svc
}

func TestEscrowChain_RequiresConfig(t *testing.T) {
	if _, err := NewEscrowChainService(EscrowChainConfig{BaseURL: "http://x"}); err == nil {
		t.Error("missing api key accepted")
	}
	if _, err := NewEscrowChainService(EscrowChainConfig{APIKey: "k"}); err == nil {
		t.Error("missing base url accepted")
	}
}

func TestEscrowChain_ReleasePayment(t *testing.T) {
	var gotAuth string
	var gotReq SettlementRequest
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/escrow/release-payment" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(PendingTx{TxHash: "0xfeed", Status: TxStatusPending})
	})
	svc := newTestChain(t, srv)

	pending, err := svc.ReleasePayment(context.Background(), SettlementRequest{
		BookingRef:   "7",
		TxRef:        "ref-1",
		LessorAmount: decimal.NewFromInt(100),
		LesseeAmount: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotReq.BookingRef != "7" || gotReq.LessorAmount.String() != "100" {
		t.Errorf("request = %+v", gotReq)
	}
	if pending.TxHash != "0xfeed" {
		t.Errorf("tx hash = %q", pending.TxHash)
	}
	if pending.TxRef != "ref-1" {
		t.Errorf("tx ref = %q, want filled from the request", pending.TxRef)
	}
}

func TestEscrowChain_BroadcastGatewayError(t *testing.T) {
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient escrow balance", http.StatusUnprocessableEntity)
	})
	svc := newTestChain(t, srv)

	_, err := svc.CollectAllFunds(context.Background(), SettlementRequest{TxRef: "ref-1"})
	var gwErr *ChainGatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want ChainGatewayError", err)
	}
	if gwErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", gwErr.StatusCode)
	}
}

func TestEscrowChain_BroadcastRejectsEmptyHash(t *testing.T) {
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PendingTx{Status: TxStatusPending})
	})
	svc := newTestChain(t, srv)

	if _, err := svc.ReleasePayment(context.Background(), SettlementRequest{TxRef: "ref-1"}); err == nil {
		t.Fatal("empty tx_hash accepted")
	}
}

func TestEscrowChain_AwaitReceiptConfirms(t *testing.T) {
	var polls atomic.Int32
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receipt := TxReceipt{TxRef: "ref-1", TxHash: "0xfeed", Status: TxStatusPending}
		if polls.Add(1) >= 3 {
			receipt.Status = TxStatusConfirmed
			receipt.BlockNumber = 42
		}
		json.NewEncoder(w).Encode(receipt)
	})
	svc := newTestChain(t, srv)

	receipt, err := svc.AwaitReceipt(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != TxStatusConfirmed || receipt.BlockNumber != 42 {
		t.Errorf("receipt = %+v", receipt)
	}
	if polls.Load() < 3 {
		t.Errorf("polls = %d, want at least 3", polls.Load())
	}
}

func TestEscrowChain_AwaitReceiptReturnsReverted(t *testing.T) {
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TxReceipt{TxRef: "ref-1", Status: TxStatusReverted, Reason: "slippage"})
	})
	svc := newTestChain(t, srv)

	receipt, err := svc.AwaitReceipt(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != TxStatusReverted || receipt.Reason != "slippage" {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestEscrowChain_AwaitReceiptTimesOut(t *testing.T) {
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TxReceipt{TxRef: "ref-1", Status: TxStatusPending})
	})
	svc := newTestChain(t, srv)

	_, err := svc.AwaitReceipt(context.Background(), "ref-1")
	if !errors.Is(err, ErrReceiptTimeout) {
		t.Fatalf("err = %v, want ErrReceiptTimeout", err)
	}
}

func TestEscrowChain_GetReceiptNotFound(t *testing.T) {
	srv := chainTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	svc := newTestChain(t, srv)

	_, err := svc.GetReceipt(context.Background(), "ref-unknown")
	var gwErr *ChainGatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want ChainGatewayError", err)
	}
	if gwErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", gwErr.StatusCode)
	}
}
