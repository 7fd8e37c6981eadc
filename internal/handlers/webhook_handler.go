package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

const (
	GatewaySignatureHeader = "X-Gateway-Signature"
	BankSignatureHeader    = "X-Bank-Signature"
)

type webhookReceiver interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

// WebhookHandler accepts signed callbacks from the gateway and the banking
// partner. The payload only names a reference; the outcome is always fetched
// back from the sender before anything is committed.
type WebhookHandler struct {
	gateway webhookReceiver
	bank    webhookReceiver
}

func NewWebhookHandler(deposits *services.DepositService, withdrawals *services.WithdrawalService) *WebhookHandler {
	return &WebhookHandler{gateway: deposits, bank: withdrawals}
}

func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/gateway", h.Gateway)
	r.Post("/webhooks/bank", h.Bank)
}

// Gateway handles deposit events
// @Summary Payment gateway webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA512 of the body"
// @Success 200 {object} object{status=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/gateway [post]
func (h *WebhookHandler) Gateway(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "gateway", h.gateway, r.Header.Get(GatewaySignatureHeader))
}

// Bank handles payout settlement events
// @Summary Banking partner webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Bank-Signature header string true "HMAC-SHA512 of the body"
// @Success 200 {object} object{status=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/bank [post]
func (h *WebhookHandler) Bank(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "bank", h.bank, r.Header.Get(BankSignatureHeader))
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request, source string, receiver webhookReceiver, signature string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := receiver.HandleWebhook(r.Context(), body, signature); err != nil {
		logger.WithField("source", source).WithError(err).Warn("[WEBHOOK] rejected")
		services.SendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
