package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const bankListCacheKey = "wallet:banks"

// Fallback when the partner's bank list cannot be fetched
var nigerianBanks = []models.Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "063", Name: "Access Bank (Diamond)"},
	{Code: "401", Name: "ASO Savings and Loans"},
	{Code: "023", Name: "Citibank Nigeria"},
	{Code: "050", Name: "Ecobank Nigeria"},
	{Code: "562", Name: "Ekondo Microfinance Bank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "00103", Name: "Globus Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "030", Name: "Heritage Bank"},
	{Code: "301", Name: "Jaiz Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "526", Name: "Parallex Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "125", Name: "Rubies MFB"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "068", Name: "Standard Chartered Bank"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "100", Name: "Suntrust Bank"},
	{Code: "302", Name: "TAJ Bank"},
	{Code: "102", Name: "Titan Trust Bank"},
	{Code: "032", Name: "Union Bank of Nigeria"},
	{Code: "033", Name: "United Bank For Africa"},
	{Code: "215", Name: "Unity Bank"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "304", Name: "Lotus Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "090267", Name: "Kuda Microfinance Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "110005", Name: "Paycom"},
	{Code: "090405", Name: "Moniepoint MFB"},
	{Code: "090328", Name: "Eyowo"},
	{Code: "090175", Name: "Rubies MFB"},
	{Code: "090110", Name: "VFD Microfinance Bank"},
	{Code: "090286", Name: "Safe Haven MFB"},
	{Code: "090365", Name: "Corestep MFB"},
	{Code: "090393", Name: "Bridgeway MFB"},
	{Code: "090270", Name: "AB Microfinance Bank"},
	{Code: "090371", Name: "Agosasa MFB"},
	{Code: "090374", Name: "Amju Unique MFB"},
	{Code: "090376", Name: "Balogun Gambari MFB"},
	{Code: "090377", Name: "Isaleoyo MFB"},
	{Code: "090378", Name: "New Golden Pastures MFB"},
	{Code: "090392", Name: "Mozfin MFB"},
	{Code: "090394", Name: "Nirsal MFB"},
	{Code: "090395", Name: "Nwannegadi MFB"},
	{Code: "090396", Name: "Oscotech MFB"},
	{Code: "090399", Name: "Ndiorah MFB"},
}

// PayoutState is the partner's view of a payout
type PayoutState string

const (
	PayoutProcessing PayoutState = "processing"
	PayoutSucceeded  PayoutState = "success"
	PayoutRejected   PayoutState = "failed"
	PayoutUnknown    PayoutState = "not_found"
)

type PayoutInstruction struct {
	Reference     string
	BankCode      string
	AccountNumber string
	AccountName   string
	Amount        decimal.Decimal
	Currency      string
	Document      string // pacs.008 XML
}

type PayoutReceipt struct {
	PayoutID string
	State    PayoutState
}

type PayoutStatus struct {
	PayoutID string
	State    PayoutState
	Reason   string
}

// BankingPartner resolves destination accounts and executes payouts
type BankingPartner interface {
	ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error)
	ListBanks(ctx context.Context) ([]models.Bank, error)
	InitiatePayout(ctx context.Context, in PayoutInstruction) (*PayoutReceipt, error)
	PayoutStatus(ctx context.Context, reference string) (*PayoutStatus, error)
}

type HTTPBankingPartner struct {
	cfg    *config.BankConfig
	client *http.Client
}

func NewHTTPBankingPartner(cfg *config.BankConfig, client *http.Client) *HTTPBankingPartner {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPBankingPartner{cfg: cfg, client: client}
}

func (p *HTTPBankingPartner) do(ctx context.Context, method, path string, body []byte, contentType string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, fmt.Errorf("banking partner %s %s: %w", method, path, err))
	}
	return resp, nil
}

func (p *HTTPBankingPartner) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	q := url.Values{"bank_code": {bankCode}, "account_number": {accountNumber}}
	resp, err := p.do(ctx, http.MethodGet, "/accounts/resolve?"+q.Encode(), nil, "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", nil
	case resp.StatusCode >= 500:
		return "", ledger.Wrap(ledger.ErrGatewayUnavailable, statusError("resolve account", resp))
	case resp.StatusCode != http.StatusOK:
		return "", ledger.Wrap(ledger.ErrAccountVerificationFailed, statusError("resolve account", resp))
	}

	var out struct {
		AccountName string `json:"account_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ledger.Wrap(ledger.ErrAccountVerificationFailed, err)
	}
	return strings.TrimSpace(out.AccountName), nil
}

func (p *HTTPBankingPartner) ListBanks(ctx context.Context) ([]models.Bank, error) {
	resp, err := p.do(ctx, http.MethodGet, "/banks", nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list banks", resp)
	}
	var banks []models.Bank
	if err := json.NewDecoder(resp.Body).Decode(&banks); err != nil {
		return nil, err
	}
	return banks, nil
}

type payoutBody struct {
	Reference     string `json:"reference"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Instruction   string `json:"instruction"`
}

type payoutResponse struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

// InitiatePayout is keyed by the withdrawal reference so a retried call cannot pay twice.
// Only 400 and 422 count as a rejection; any other failure leaves the payout for a retry.
func (p *HTTPBankingPartner) InitiatePayout(ctx context.Context, in PayoutInstruction) (*PayoutReceipt, error) {
	body, _ := json.Marshal(payoutBody{
		Reference:     in.Reference,
		BankCode:      in.BankCode,
		AccountNumber: in.AccountNumber,
		AccountName:   in.AccountName,
		Amount:        ToMinor(in.Amount),
		Currency:      in.Currency,
		Instruction:   in.Document,
	})
	resp, err := p.do(ctx, http.MethodPost, "/payouts", body, "application/json", map[string]string{"Idempotency-Key": in.Reference})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// Idempotency-Key replay: the partner already holds this payout
		return p.replayedPayout(ctx, in.Reference)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ledger.Wrap(ledger.ErrPayoutFailed, statusError("initiate payout", resp))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, statusError("initiate payout", resp))
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, fmt.Errorf("decode payout response: %w", err))
	}
	return &PayoutReceipt{PayoutID: out.PayoutID, State: normalizePayoutState(out.Status)}, nil
}

func (p *HTTPBankingPartner) replayedPayout(ctx context.Context, reference string) (*PayoutReceipt, error) {
	st, err := p.PayoutStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	if st.State == PayoutUnknown {
		return nil, ledger.Errorf(ledger.ErrGatewayUnavailable, "payout %s reported as duplicate but not found", reference)
	}
	return &PayoutReceipt{PayoutID: st.PayoutID, State: st.State}, nil
}

func (p *HTTPBankingPartner) PayoutStatus(ctx context.Context, reference string) (*PayoutStatus, error) {
	resp, err := p.do(ctx, http.MethodGet, "/payouts/"+url.PathEscape(reference), nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PayoutStatus{State: PayoutUnknown}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, statusError("payout status", resp))
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ledger.Wrap(ledger.ErrGatewayUnavailable, err)
	}
	return &PayoutStatus{PayoutID: out.PayoutID, State: normalizePayoutState(out.Status), Reason: out.Reason}, nil
}

func normalizePayoutState(s string) PayoutState {
	switch strings.ToLower(s) {
	case "success", "successful", "completed", "paid":
		return PayoutSucceeded
	case "failed", "rejected", "reversed":
		return PayoutRejected
	}
	return PayoutProcessing
}

// BankService serves the bank directory, cached in Redis
type BankService struct {
	partner BankingPartner
	redis   *redis.Client
	ttl     time.Duration
}

func NewBankService(partner BankingPartner, rdb *redis.Client, ttl time.Duration) *BankService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BankService{partner: partner, redis: rdb, ttl: ttl}
}

// GetAllBanks never fails: the static list backs a missing partner or cache
func (bs *BankService) GetAllBanks(ctx context.Context) []models.Bank {
	if bs.redis != nil {
		if raw, err := bs.redis.Get(ctx, bankListCacheKey).Result(); err == nil {
			var banks []models.Bank
			if json.Unmarshal([]byte(raw), &banks) == nil && len(banks) > 0 {
				return banks
			}
		} else if err != redis.Nil {
			logger.Warnf("[BANKS] cache read failed: %v", err)
		}
	}

	if bs.partner != nil {
		banks, err := bs.partner.ListBanks(ctx)
		if err == nil && len(banks) > 0 {
			if bs.redis != nil {
				data, _ := json.Marshal(banks)
				if err := bs.redis.Set(ctx, bankListCacheKey, string(data), bs.ttl).Err(); err != nil {
					logger.Warnf("[BANKS] cache write failed: %v", err)
				}
			}
			return banks
		}
		if err != nil {
			logger.Warnf("[BANKS] partner bank list unavailable, using static list: %v", err)
		}
	}

	banks := make([]models.Bank, len(nigerianBanks))
	copy(banks, nigerianBanks)
	return banks
}
