package services

import (
	"context"
	"errors"
	"strings"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

type HoldRequest struct {
	BuyerID   string
	SellerID  string
	TradeID   string
	TradeKind models.TradeKind
	Amount    decimal.Decimal
}

type EscrowResult struct {
	Hold        *models.EscrowHold  `json:"hold"`
	Transaction *models.Transaction `json:"transaction"`
	Fee         *models.Transaction `json:"fee,omitempty"`
}

// EscrowService runs the per-trade state machine none -> held -> released|refunded
type EscrowService struct {
	ledger   *ledger.Ledger
	accounts *AccountService
	cfg      *config.WalletConfig
}

func NewEscrowService(l *ledger.Ledger, accounts *AccountService, cfg *config.WalletConfig) *EscrowService {
	return &EscrowService{ledger: l, accounts: accounts, cfg: cfg}
}

func (s *EscrowService) GetHold(ctx context.Context, tradeID string) (*models.EscrowHold, error) {
	return s.ledger.Store().GetEscrowHold(ctx, tradeID)
}

// Hold moves the trade amount from the buyer's balance into pendingBalance
func (s *EscrowService) Hold(ctx context.Context, in HoldRequest) (*EscrowResult, error) {
	if strings.TrimSpace(in.TradeID) == "" {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "tradeId is required")
	}
	if err := ledger.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.SellerID != "" && in.SellerID == in.BuyerID {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "buyer cannot be the seller")
	}

	result := &EscrowResult{}
	err := s.ledger.Run(ctx, []string{in.BuyerID}, func(u *ledger.Unit) error {
		hold := &models.EscrowHold{
			TradeID:         in.TradeID,
			TradeKind:       in.TradeKind,
			BuyerID:         in.BuyerID,
			SellerID:        in.SellerID,
			Amount:          in.Amount,
			Status:          models.HoldHeld,
			EscrowReference: "ESC-" + in.TradeID,
		}
		if err := u.Tx.InsertEscrowHold(ctx, hold); err != nil {
			if errors.Is(err, ledger.ErrDuplicateReference) {
				return ledger.Errorf(ledger.ErrInvalidState, "trade %s already has an escrow hold", in.TradeID)
			}
			return err
		}
		if err := s.accounts.MoveToPending(u, in.BuyerID, in.Amount); err != nil {
			return err
		}
		txn, err := u.Record(ctx, ledger.Entry{
			UserID:      in.BuyerID,
			Type:        models.TypeEscrow,
			Amount:      in.Amount,
			Reference:   hold.EscrowReference,
			TradeID:     in.TradeID,
			Description: "Escrow hold for trade " + in.TradeID,
		})
		if err != nil {
			return err
		}
		result.Hold = hold
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"trade_id": in.TradeID,
		"buyer_id": in.BuyerID,
		"amount":   in.Amount.StringFixed(2),
	}).Info("[ESCROW] held")
	return result, nil
}

// Release pays the held amount to the seller, less the platform fee
func (s *EscrowService) Release(ctx context.Context, tradeID, sellerID string) (*EscrowResult, error) {
	hold, err := s.GetHold(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if hold.SellerID != "" {
		if sellerID != "" && sellerID != hold.SellerID {
			return nil, ledger.Errorf(ledger.ErrInvalidRequest, "seller does not match trade %s", tradeID)
		}
		sellerID = hold.SellerID
	}
	if sellerID == "" {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "sellerId is required")
	}
	if sellerID == hold.BuyerID {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "buyer cannot be the seller")
	}
	if hold.Status != models.HoldHeld {
		return nil, ledger.Errorf(ledger.ErrInvalidState, "trade %s is %s", tradeID, hold.Status)
	}

	result := &EscrowResult{}
	err = s.ledger.Run(ctx, []string{hold.BuyerID, sellerID}, func(u *ledger.Unit) error {
		current, err := u.Tx.LockEscrowHold(ctx, tradeID)
		if err != nil {
			return err
		}
		reference := "REL-" + tradeID
		ok, err := u.Tx.CompareAndSetHoldStatus(ctx, tradeID, models.HoldHeld, models.HoldReleased, reference)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.Errorf(ledger.ErrInvalidState, "trade %s is %s", tradeID, current.Status)
		}

		if err := s.accounts.ReleaseFromPending(u, current.BuyerID, current.Amount, ReleaseOut); err != nil {
			return err
		}
		if err := s.accounts.ApplyCompletedCredit(u, sellerID, current.Amount); err != nil {
			return err
		}
		txn, err := u.Record(ctx, ledger.Entry{
			UserID:      sellerID,
			Type:        models.TypeRelease,
			Amount:      current.Amount,
			Reference:   reference,
			TradeID:     tradeID,
			Description: "Escrow release for trade " + tradeID,
		})
		if err != nil {
			return err
		}
		result.Transaction = txn

		fee := current.Amount.Mul(s.cfg.ReleaseFeePercent).Div(hundred).Round(2)
		if fee.IsPositive() {
			if err := s.accounts.ApplyDebit(u, sellerID, fee); err != nil {
				return err
			}
			feeTxn, err := u.Record(ctx, ledger.Entry{
				UserID:      sellerID,
				Type:        models.TypeFee,
				Amount:      fee,
				Reference:   "FEE-" + tradeID,
				TradeID:     tradeID,
				Description: "Platform fee for trade " + tradeID,
			})
			if err != nil {
				return err
			}
			result.Fee = feeTxn
		}

		current.Status = models.HoldReleased
		current.ResolutionReference = reference
		if current.SellerID == "" {
			current.SellerID = sellerID
		}
		result.Hold = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"trade_id":  tradeID,
		"buyer_id":  hold.BuyerID,
		"seller_id": sellerID,
		"amount":    hold.Amount.StringFixed(2),
	}).Info("[ESCROW] released")
	return result, nil
}

// Refund returns the held amount to the buyer's balance
func (s *EscrowService) Refund(ctx context.Context, tradeID, buyerID string) (*EscrowResult, error) {
	hold, err := s.GetHold(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if hold.BuyerID != buyerID {
		return nil, ledger.Errorf(ledger.ErrNotFound, "escrow hold %s not found", tradeID)
	}
	if hold.Status != models.HoldHeld {
		return nil, ledger.Errorf(ledger.ErrInvalidState, "trade %s is %s", tradeID, hold.Status)
	}

	result := &EscrowResult{}
	err = s.ledger.Run(ctx, []string{buyerID}, func(u *ledger.Unit) error {
		current, err := u.Tx.LockEscrowHold(ctx, tradeID)
		if err != nil {
			return err
		}
		reference := "RFD-" + tradeID
		ok, err := u.Tx.CompareAndSetHoldStatus(ctx, tradeID, models.HoldHeld, models.HoldRefunded, reference)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.Errorf(ledger.ErrInvalidState, "trade %s is %s", tradeID, current.Status)
		}

		if err := s.accounts.ReleaseFromPending(u, buyerID, current.Amount, ReleaseToBalance); err != nil {
			return err
		}
		txn, err := u.Record(ctx, ledger.Entry{
			UserID:      buyerID,
			Type:        models.TypeRefund,
			Amount:      current.Amount,
			Reference:   reference,
			TradeID:     tradeID,
			Description: "Escrow refund for trade " + tradeID,
		})
		if err != nil {
			return err
		}

		current.Status = models.HoldRefunded
		current.ResolutionReference = reference
		result.Hold = current
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"trade_id": tradeID,
		"buyer_id": buyerID,
		"amount":   hold.Amount.StringFixed(2),
	}).Info("[ESCROW] refunded")
	return result, nil
}
