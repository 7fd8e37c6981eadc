package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldRefunded HoldStatus = "refunded"
)

// TradeKind names the marketplace object a hold is tied to
type TradeKind string

const (
	TradeProduct  TradeKind = "product"
	TradeGig      TradeKind = "gig"
	TradeBusiness TradeKind = "business"
)

// EscrowHold links the buyer's escrow debit to its release or refund
type EscrowHold struct {
	TradeID             string          `json:"tradeId" db:"trade_id"`
	TradeKind           TradeKind       `json:"tradeKind,omitempty" db:"trade_kind"`
	BuyerID             string          `json:"buyerId" db:"buyer_id"`
	SellerID            string          `json:"sellerId,omitempty" db:"seller_id"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	Status              HoldStatus      `json:"status" db:"status"`
	EscrowReference     string          `json:"escrowReference" db:"escrow_reference"`
	ResolutionReference string          `json:"resolutionReference,omitempty" db:"resolution_reference"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}

func (h *EscrowHold) Clone() *EscrowHold {
	c := *h
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
