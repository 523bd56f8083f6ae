package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt statuses reported by the escrow gateway.
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusReverted  = "reverted"
)

// ErrReceiptTimeout is returned by AwaitReceipt when the transaction is
// still pending after the configured wait window. The transaction may still
// confirm later; callers must re-check chain state before retrying.
var ErrReceiptTimeout = errors.New("escrow chain: receipt wait timed out")

type EscrowChainConfig struct {
	// Base URL of the escrow gateway that fronts the settlement contract.
	BaseURL string

	APIKey     string
	TerminalID string

	// Receipt polling.
	PollInterval time.Duration
	WaitTimeout  time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// EscrowChainService is the only component allowed to move escrowed funds.
// It fronts the on-chain settlement contract through an HTTP gateway: each
// mutating call broadcasts a signed transaction and returns a pending handle;
// AwaitReceipt resolves the handle to confirmed or reverted.
type EscrowChainService struct {
	apiKey     string
	terminalID string
	baseURL    *url.URL

	pollInterval time.Duration
	waitTimeout  time.Duration

	httpClient *http.Client
	logger     *slog.Logger

	// bearer token cache
	mu          sync.Mutex
	accessToken string
	tokenExp    time.Time
}

func NewEscrowChainService(cfg EscrowChainConfig) (*EscrowChainService, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("escrow chain: base_url/api_key are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	wait := cfg.WaitTimeout
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	s := &EscrowChainService{
		apiKey:       cfg.APIKey,
		terminalID:   cfg.TerminalID,
		baseURL:      u,
		pollInterval: poll,
		waitTimeout:  wait,
		httpClient:   client,
		logger:       logger,
	}
	logger.Info("escrow chain gateway initialized", "baseURL", safeURL(u), "pollInterval", poll, "waitTimeout", wait)
	return s, nil
}

func (s *EscrowChainService) ensureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Until(s.tokenExp) > 2*time.Minute {
		return s.accessToken, nil
	}
	type signInReq struct {
		APIKey     string `json:"api_key"`
		TerminalID string `json:"terminal_id,omitempty"`
	}
	type signInResp struct {
		AccessToken string `json:"access_token"`
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/v1/auth/sign-in")
	body, _ := json.Marshal(signInReq{APIKey: s.apiKey, TerminalID: s.terminalID})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("auth failed: %s %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var out signInResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("auth decode: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("auth: empty access_token")
	}
	s.accessToken = out.AccessToken
	s.tokenExp = time.Now().Add(55 * time.Minute)
	return s.accessToken, nil
}

// SettlementRequest describes one terminal fund movement for a booking.
type SettlementRequest struct {
	BookingRef   string          `json:"booking_ref"`
	TxRef        string          `json:"tx_ref"`
	LessorAmount decimal.Decimal `json:"lessor_amount"`
	LesseeAmount decimal.Decimal `json:"lessee_amount"`
}

// PendingTx is the broadcast handle. Having one means funds may already be
// moving; losing it without resolving the receipt requires reconciliation.
type PendingTx struct {
	TxRef  string `json:"tx_ref"`
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

type TxReceipt struct {
	TxRef       string    `json:"tx_ref"`
	TxHash      string    `json:"tx_hash"`
	Status      string    `json:"status"` // pending | confirmed | reverted
	BlockNumber int64     `json:"block_number,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// ReleasePayment pays the lessor and refunds the deposit to the lessee per
// the amounts in req. Used for the no-damage outcome.
func (s *EscrowChainService) ReleasePayment(ctx context.Context, req SettlementRequest) (*PendingTx, error) {
	return s.broadcast(ctx, "/api/v1/escrow/release-payment", req)
}

// CollectAllFunds sweeps the escrow and redistributes it per req, used when
// a damage fee eats into the deposit.
func (s *EscrowChainService) CollectAllFunds(ctx context.Context, req SettlementRequest) (*PendingTx, error) {
	return s.broadcast(ctx, "/api/v1/escrow/collect-all-funds", req)
}

func (s *EscrowChainService) broadcast(ctx context.Context, endpointPath string, payload SettlementRequest) (*PendingTx, error) {
	logger := s.logger.With("op", path.Base(endpointPath), "txRef", payload.TxRef)
	token, err := s.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, endpointPath)
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broadcast request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	logger.Debug("broadcast raw", "status", resp.Status, "body", trimBody(string(b), 2000))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &ChainGatewayError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out PendingTx
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode broadcast response: %w", err)
	}
	if strings.TrimSpace(out.TxHash) == "" {
		return nil, fmt.Errorf("broadcast: empty tx_hash")
	}
	if out.TxRef == "" {
		out.TxRef = payload.TxRef
	}
	logger.Info("settlement broadcast", "txHash", out.TxHash)
	return &out, nil
}

// GetReceipt fetches the current receipt state for a transaction reference.
func (s *EscrowChainService) GetReceipt(ctx context.Context, txRef string) (*TxReceipt, error) {
	token, err := s.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/v1/escrow/receipts", txRef)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("receipt request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ChainGatewayError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	var out TxReceipt
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &out, nil
}

// AwaitReceipt polls until the transaction confirms, reverts, or the wait
// window closes. A timeout does not mean failure: the transaction is still
// out there and its outcome must be re-checked before any retry.
func (s *EscrowChainService) AwaitReceipt(ctx context.Context, txRef string) (*TxReceipt, error) {
	logger := s.logger.With("op", "AwaitReceipt", "txRef", txRef)

	deadline := time.NewTimer(s.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.GetReceipt(ctx, txRef)
		if err != nil {
			logger.Warn("receipt poll failed", "err", err)
		} else {
			switch receipt.Status {
			case TxStatusConfirmed:
				logger.Info("transaction confirmed", "txHash", receipt.TxHash, "block", receipt.BlockNumber)
				return receipt, nil
			case TxStatusReverted:
				logger.Warn("transaction reverted", "txHash", receipt.TxHash, "reason", receipt.Reason)
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}

// ---------- helpers ----------

func trimBody(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return c.String()
}

type ChainGatewayError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ChainGatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("escrow chain error: %s", e.Status)
	}
	return fmt.Sprintf("escrow chain error: %s: %s", e.Status, bt)
}
