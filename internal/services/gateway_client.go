package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/shopspring/decimal"
)

// GatewayStatus is the gateway's view of a charge
type GatewayStatus string

const (
	GatewaySuccess   GatewayStatus = "success"
	GatewayFailed    GatewayStatus = "failed"
	GatewayAbandoned GatewayStatus = "abandoned"
	GatewayPending   GatewayStatus = "pending"
	GatewayNotFound  GatewayStatus = "not_found"
)

type ChargeRequest struct {
	Reference   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
}

type Charge struct {
	AuthorizationURL string
	TxRef            string
}

type Verification struct {
	Status    GatewayStatus
	Reference string
	TxRef     string
	Amount    decimal.Decimal
	Currency  string
}

// PaymentGateway is the card/transfer processor used for deposits
type PaymentGateway interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// HTTPGateway talks to the gateway's REST API. Amounts cross the wire in kobo.
type HTTPGateway struct {
	cfg    *config.GatewayConfig
	client *http.Client
}

func NewHTTPGateway(cfg *config.GatewayConfig, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPGateway{cfg: cfg, client: client}
}

type chargeBody struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	TxRef            string `json:"tx_ref"`
}

type verifyResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	TxRef     string `json:"tx_ref"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (g *HTTPGateway) InitializeCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body, _ := json.Marshal(chargeBody{
		Reference:   req.Reference,
		Amount:      ToMinor(req.Amount),
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    map[string]string{"user_id": req.UserID},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		logger.Warnf("[GATEWAY] initialize %s failed: %v", req.Reference, err)
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, statusError("initialize charge", resp))
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, fmt.Errorf("decode charge response: %w", err))
	}
	if out.AuthorizationURL == "" {
		return nil, ledger.Errorf(ledger.ErrGatewayUnavailable, "gateway returned no authorization url for %s", req.Reference)
	}
	return &Charge{AuthorizationURL: out.AuthorizationURL, TxRef: out.TxRef}, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.cfg.BaseURL+"/charges/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		logger.Warnf("[GATEWAY] verify %s failed: %v", reference, err)
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Verification{Status: GatewayNotFound, Reference: reference}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, statusError("verify charge", resp))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, fmt.Errorf("decode verify response: %w", err))
	}
	return &Verification{
		Status:    normalizeGatewayStatus(out.Status),
		Reference: out.Reference,
		TxRef:     out.TxRef,
		Amount:    FromMinor(out.Amount),
		Currency:  out.Currency,
	}, nil
}

func normalizeGatewayStatus(s string) GatewayStatus {
	switch strings.ToLower(s) {
	case "success", "successful", "completed":
		return GatewaySuccess
	case "failed", "reversed":
		return GatewayFailed
	case "abandoned", "expired", "cancelled":
		return GatewayAbandoned
	}
	return GatewayPending
}

// ToMinor converts naira to kobo
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts kobo to naira
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// VerifySignature checks a hex HMAC-SHA512 of body under secret
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the hex HMAC-SHA512 signature of body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(b) > 0 {
		return fmt.Errorf("%s: status=%d body=%s", op, resp.StatusCode, string(b))
	}
	return fmt.Errorf("%s: status=%d", op, resp.StatusCode)
}
