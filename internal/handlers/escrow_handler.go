package handlers

import (
	"net/http"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/middleware"
	"github.com/campusmart/backend/internal/models"
	"github.com/campusmart/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type EscrowHandler struct {
	escrow    *services.EscrowService
	validator *services.ValidationHelper
}

func NewEscrowHandler(escrow *services.EscrowService) *EscrowHandler {
	return &EscrowHandler{
		escrow:    escrow,
		validator: services.NewValidationHelper(),
	}
}

func (h *EscrowHandler) Routes(r chi.Router) {
	r.Post("/escrow", h.Hold)
	r.Get("/escrow/{tradeId}", h.Get)
	r.Post("/escrow/{tradeId}/release", h.Release)
	r.Post("/escrow/{tradeId}/refund", h.Refund)
}

// Hold earmarks the caller's funds for a trade
// @Summary Hold funds in escrow
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{tradeId=string,tradeKind=string,sellerId=string,amount=string} true "Hold request"
// @Success 201 {object} services.EscrowResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /escrow [post]
func (h *EscrowHandler) Hold(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		TradeID   string           `json:"tradeId" validate:"required,max=64"`
		TradeKind models.TradeKind `json:"tradeKind" validate:"omitempty,oneof=product gig business"`
		SellerID  string           `json:"sellerId" validate:"omitempty,max=64"`
		Amount    decimal.Decimal  `json:"amount"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.escrow.Hold(r.Context(), services.HoldRequest{
		BuyerID:   buyerID,
		SellerID:  req.SellerID,
		TradeID:   req.TradeID,
		TradeKind: req.TradeKind,
		Amount:    req.Amount,
	})
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

// Get returns the hold for a trade the caller takes part in
// @Summary Get escrow hold
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} models.EscrowHold
// @Failure 404 {object} services.ErrorResponse
// @Router /escrow/{tradeId} [get]
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	hold, ok := h.visibleHold(w, r, func(hold *models.EscrowHold) bool {
		return hold.BuyerID == userID || hold.SellerID == userID
	})
	if !ok {
		return
	}
	writeData(w, http.StatusOK, hold)
}

// Release pays the held funds to the seller. Only the buyer can confirm a trade.
// @Summary Release escrow
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Param request body object{sellerId=string} false "Seller, when not fixed at hold time"
// @Success 200 {object} services.EscrowResult
// @Failure 409 {object} services.ErrorResponse
// @Router /escrow/{tradeId}/release [post]
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		SellerID string `json:"sellerId" validate:"omitempty,max=64"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, h.validator, &req) {
		return
	}

	hold, ok := h.visibleHold(w, r, func(hold *models.EscrowHold) bool {
		return hold.BuyerID == userID
	})
	if !ok {
		return
	}

	result, err := h.escrow.Release(r.Context(), hold.TradeID, req.SellerID)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// Refund returns the held funds to the buyer
// @Summary Refund escrow
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} services.EscrowResult
// @Failure 409 {object} services.ErrorResponse
// @Router /escrow/{tradeId}/refund [post]
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	// the seller may cancel a sale and give the buyer their money back
	hold, ok := h.visibleHold(w, r, func(hold *models.EscrowHold) bool {
		return hold.BuyerID == userID || hold.SellerID == userID
	})
	if !ok {
		return
	}

	result, err := h.escrow.Refund(r.Context(), hold.TradeID, hold.BuyerID)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// visibleHold loads the trade's hold and answers 404 unless allowed, or the caller is an admin
func (h *EscrowHandler) visibleHold(w http.ResponseWriter, r *http.Request, allowed func(*models.EscrowHold) bool) (*models.EscrowHold, bool) {
	tradeID := chi.URLParam(r, "tradeId")
	hold, err := h.escrow.GetHold(r.Context(), tradeID)
	if err != nil {
		services.SendWalletError(w, err)
		return nil, false
	}
	if !allowed(hold) && !middleware.IsAdmin(r.Context()) {
		services.SendWalletError(w, ledger.Errorf(ledger.ErrNotFound, "escrow hold %s not found", tradeID))
		return nil, false
	}
	return hold, true
}
