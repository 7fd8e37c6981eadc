package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPartner(t *testing.T, handler http.HandlerFunc) *HTTPBankingPartner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPBankingPartner(&config.BankConfig{BaseURL: srv.URL, SecretKey: "bank_sk", Timeout: 5 * time.Second}, nil)
}

func TestHTTPBankingPartner_ResolveAccount(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/accounts/resolve", r.URL.Path)
			assert.Equal(t, "058", r.URL.Query().Get("bank_code"))
			assert.Equal(t, "0123456789", r.URL.Query().Get("account_number"))
			assert.Equal(t, "Bearer bank_sk", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{"account_name": " ADA OBI "})
		})

		name, err := p.ResolveAccount(context.Background(), "058", "0123456789")
		require.NoError(t, err)
		assert.Equal(t, "ADA OBI", name)
	})

	t.Run("no match", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		name, err := p.ResolveAccount(context.Background(), "058", "0123456789")
		require.NoError(t, err)
		assert.Empty(t, name)
	})

	t.Run("partner down", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := p.ResolveAccount(context.Background(), "058", "0123456789")
		assert.True(t, errors.Is(err, ledger.ErrGatewayUnavailable))
	})
}

func TestHTTPBankingPartner_InitiatePayout(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var got payoutBody
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/payouts", r.URL.Path)
			assert.Equal(t, "WDR-1", r.Header.Get("Idempotency-Key"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"payout_id": "PO-77", "status": "processing"})
		})

		receipt, err := p.InitiatePayout(context.Background(), PayoutInstruction{
			Reference:     "WDR-1",
			BankCode:      "058",
			AccountNumber: "0123456789",
			AccountName:   "ADA OBI",
			Amount:        dec("4000"),
			Currency:      "NGN",
			Document:      "<Document/>",
		})
		require.NoError(t, err)
		assert.Equal(t, "PO-77", receipt.PayoutID)
		assert.Equal(t, PayoutProcessing, receipt.State)
		assert.Equal(t, int64(400000), got.Amount)
		assert.Equal(t, "<Document/>", got.Instruction)
	})

	t.Run("rejected", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		_, err := p.InitiatePayout(context.Background(), PayoutInstruction{Reference: "WDR-1", Amount: dec("4000")})
		assert.True(t, errors.Is(err, ledger.ErrPayoutFailed))
	})

	t.Run("retryable statuses", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
			p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})

			_, err := p.InitiatePayout(context.Background(), PayoutInstruction{Reference: "WDR-1", Amount: dec("4000")})
			assert.True(t, errors.Is(err, ledger.ErrGatewayUnavailable), "status %d", status)
			assert.False(t, errors.Is(err, ledger.ErrPayoutFailed), "status %d", status)
		}
	})

	t.Run("duplicate resolves through status lookup", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusConflict)
				return
			}
			assert.Equal(t, "/payouts/WDR-1", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"payout_id": "PO-77", "status": "successful"})
		})

		receipt, err := p.InitiatePayout(context.Background(), PayoutInstruction{Reference: "WDR-1", Amount: dec("4000")})
		require.NoError(t, err)
		assert.Equal(t, "PO-77", receipt.PayoutID)
		assert.Equal(t, PayoutSucceeded, receipt.State)
	})

	t.Run("duplicate the partner cannot find", func(t *testing.T) {
		p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := p.InitiatePayout(context.Background(), PayoutInstruction{Reference: "WDR-1", Amount: dec("4000")})
		assert.True(t, errors.Is(err, ledger.ErrGatewayUnavailable))
	})
}

func TestHTTPBankingPartner_PayoutStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   PayoutState
	}{
		{name: "paid", status: http.StatusOK, body: `{"payout_id":"PO-1","status":"successful"}`, want: PayoutSucceeded},
		{name: "reversed", status: http.StatusOK, body: `{"payout_id":"PO-1","status":"reversed","reason":"account closed"}`, want: PayoutRejected},
		{name: "in flight", status: http.StatusOK, body: `{"payout_id":"PO-1","status":"queued"}`, want: PayoutProcessing},
		{name: "never seen", status: http.StatusNotFound, want: PayoutUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPartner(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payouts/WDR-1", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			st, err := p.PayoutStatus(context.Background(), "WDR-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.State)
		})
	}
}

func TestBankService_GetAllBanks(t *testing.T) {
	ctx := context.Background()
	partnerBanks := []models.Bank{{Code: "058", Name: "Guaranty Trust Bank"}, {Code: "999", Name: "Campus MFB"}}
	cached, _ := json.Marshal(partnerBanks)

	t.Run("cache hit", func(t *testing.T) {
		db, rmock := redismock.NewClientMock()
		partner := &mockBank{}
		rmock.ExpectGet(bankListCacheKey).SetVal(string(cached))

		banks := NewBankService(partner, db, time.Hour).GetAllBanks(ctx)
		assert.Equal(t, partnerBanks, banks)
		partner.AssertNotCalled(t, "ListBanks", mock.Anything)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("cache miss fills cache", func(t *testing.T) {
		db, rmock := redismock.NewClientMock()
		partner := &mockBank{}
		partner.On("ListBanks", mock.Anything).Return(partnerBanks, nil)
		rmock.ExpectGet(bankListCacheKey).RedisNil()
		rmock.ExpectSet(bankListCacheKey, string(cached), time.Hour).SetVal("OK")

		banks := NewBankService(partner, db, time.Hour).GetAllBanks(ctx)
		assert.Equal(t, partnerBanks, banks)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("partner down falls back to static list", func(t *testing.T) {
		partner := &mockBank{}
		partner.On("ListBanks", mock.Anything).Return(nil, errors.New("timeout"))

		banks := NewBankService(partner, nil, 0).GetAllBanks(ctx)
		assert.Len(t, banks, len(nigerianBanks))
		assert.Contains(t, banks, models.Bank{Code: "058", Name: "Guaranty Trust Bank"})
	})
}
