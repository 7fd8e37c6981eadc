package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type DepositInit struct {
	AuthorizationURL string              `json:"authorizationUrl"`
	Reference        string              `json:"reference"`
	Transaction      *models.Transaction `json:"transaction"`
}

type DepositResult struct {
	Status      models.TransactionStatus `json:"status"`
	Transaction *models.Transaction      `json:"transaction"`
}

// DepositService funds wallets through the payment gateway. A deposit is only
// credited after a verify-by-reference round trip reports success for the
// exact amount requested.
type DepositService struct {
	ledger   *ledger.Ledger
	accounts *AccountService
	gateway  PaymentGateway
	guard    *IdempotencyGuard
	metrics  *Metrics
	cfg      *config.WalletConfig
	gwCfg    *config.GatewayConfig
}

func NewDepositService(l *ledger.Ledger, accounts *AccountService, gateway PaymentGateway, guard *IdempotencyGuard, metrics *Metrics, cfg *config.WalletConfig, gwCfg *config.GatewayConfig) *DepositService {
	return &DepositService{
		ledger:   l,
		accounts: accounts,
		gateway:  gateway,
		guard:    guard,
		metrics:  metrics,
		cfg:      cfg,
		gwCfg:    gwCfg,
	}
}

// Initialize records a pending deposit and asks the gateway for a checkout URL.
// When the gateway is down the pending entry is left for reconciliation.
func (s *DepositService) Initialize(ctx context.Context, userID string, amount decimal.Decimal) (*DepositInit, error) {
	if amount.LessThan(s.cfg.MinDeposit) {
		return nil, ledger.Errorf(ledger.ErrBelowMinimumDeposit, "minimum deposit is %s %s", s.cfg.MinDeposit.StringFixed(2), s.cfg.Currency)
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	reference := "DEP-" + uuid.NewString()
	var txn *models.Transaction
	err := s.ledger.Run(ctx, []string{userID}, func(u *ledger.Unit) error {
		var err error
		txn, err = u.CreatePending(ctx, ledger.Entry{
			UserID:      userID,
			Type:        models.TypeDeposit,
			Amount:      amount,
			Reference:   reference,
			Description: "Wallet deposit",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	charge, err := s.gateway.InitializeCharge(ctx, ChargeRequest{
		Reference:   reference,
		UserID:      userID,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		CallbackURL: s.gwCfg.CallbackURL,
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"reference": reference, "user_id": userID}).WithError(err).Warn("[DEPOSIT] charge initialization failed")
		if ledger.CodeOf(err) == "" {
			err = ledger.Wrap(ledger.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	if charge.TxRef != "" {
		err = s.ledger.Run(ctx, []string{userID}, func(u *ledger.Unit) error {
			return u.Tx.SetTxRef(ctx, txn.ID, charge.TxRef)
		})
		if err != nil {
			return nil, err
		}
		txRef := charge.TxRef
		txn.TxRef = &txRef
	}

	logger.WithFields(logrus.Fields{
		"reference": reference,
		"user_id":   userID,
		"amount":    amount.StringFixed(2),
	}).Info("[DEPOSIT] initialized")

	return &DepositInit{AuthorizationURL: charge.AuthorizationURL, Reference: reference, Transaction: txn}, nil
}

// Get is a committed read of a deposit entry
func (s *DepositService) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := s.ledger.Store().GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Type != models.TypeDeposit {
		return nil, ledger.Errorf(ledger.ErrNotFound, "deposit %s not found", reference)
	}
	return txn, nil
}

// Verify settles a deposit against the gateway. Safe to call any number of
// times and concurrently: an already terminal deposit is returned as stored and
// the pending -> terminal transition happens at most once.
func (s *DepositService) Verify(ctx context.Context, reference string) (*DepositResult, error) {
	txn, err := s.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status.Terminal() {
		s.metrics.IdempotentReplay("deposit_verify")
		return &DepositResult{Status: txn.Status, Transaction: txn}, storedMismatch(txn)
	}

	release, ok := s.guard.Claim(ctx, "deposit_verify", "deposit:"+reference)
	if !ok {
		return &DepositResult{Status: txn.Status, Transaction: txn}, nil
	}
	defer release()

	// Gateway round trip happens before any account lock is taken
	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.metrics.DepositVerified("unavailable")
		if ledger.CodeOf(err) == "" {
			err = ledger.Wrap(ledger.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	return s.settle(ctx, txn, v)
}

func (s *DepositService) settle(ctx context.Context, txn *models.Transaction, v *Verification) (*DepositResult, error) {
	var (
		current  *models.Transaction
		mismatch error
		outcome  string
	)
	err := s.ledger.Run(ctx, []string{txn.UserID}, func(u *ledger.Unit) error {
		var err error
		current, err = u.LockTransaction(ctx, txn.Reference)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			outcome = "replay"
			return nil
		}

		if current.TxRef == nil && v.TxRef != "" {
			if err := u.Tx.SetTxRef(ctx, current.ID, v.TxRef); err != nil {
				return err
			}
			txRef := v.TxRef
			current.TxRef = &txRef
		}

		status := s.decide(current, v)
		if status == models.StatusFailed && v.Status == GatewaySuccess {
			reason := fmt.Sprintf("gateway reported %s %s for %s %s",
				v.Amount.StringFixed(2), v.Currency, current.Amount.StringFixed(2), s.cfg.Currency)
			mismatch = ledger.Errorf(ledger.ErrAmountMismatch, "%s", reason)
			current.Description = current.Description + ", " + amountMismatchNote + reason
			if err := u.Tx.SetDescription(ctx, current.ID, current.Description); err != nil {
				return err
			}
		}
		outcome = string(status)
		if status == models.StatusPending {
			return nil
		}

		changed, err := u.Commit(ctx, current, status)
		if err != nil {
			return err
		}
		if !changed {
			outcome = "replay"
			return nil
		}
		if status == models.StatusCompleted {
			return s.accounts.ApplyCompletedCredit(u, current.UserID, current.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome == "replay" {
		s.metrics.IdempotentReplay("deposit_verify")
		if mismatch = storedMismatch(current); mismatch != nil {
			return &DepositResult{Status: current.Status, Transaction: current}, mismatch
		}
	} else {
		s.metrics.DepositVerified(outcome)
	}

	fields := logrus.Fields{
		"reference":      current.Reference,
		"user_id":        current.UserID,
		"status":         current.Status,
		"gateway_status": v.Status,
	}
	if mismatch != nil {
		logger.WithFields(fields).Error("[DEPOSIT] amount mismatch, deposit failed closed")
		return &DepositResult{Status: current.Status, Transaction: current}, mismatch
	}
	logger.WithFields(fields).Info("[DEPOSIT] verified")
	return &DepositResult{Status: current.Status, Transaction: current}, nil
}

const amountMismatchNote = "amount mismatch: "

// storedMismatch rebuilds the AMOUNT_MISMATCH error of a deposit that failed closed
func storedMismatch(txn *models.Transaction) error {
	if txn.Status != models.StatusFailed {
		return nil
	}
	i := strings.Index(txn.Description, amountMismatchNote)
	if i < 0 {
		return nil
	}
	return ledger.Errorf(ledger.ErrAmountMismatch, "%s", txn.Description[i+len(amountMismatchNote):])
}

// decide maps the gateway's view onto the next ledger status. A deposit the
// gateway has never seen is voided only once it is older than the
// reconciliation window.
func (s *DepositService) decide(txn *models.Transaction, v *Verification) models.TransactionStatus {
	switch v.Status {
	case GatewaySuccess:
		if !v.Amount.Equal(txn.Amount) {
			return models.StatusFailed
		}
		if v.Currency != "" && s.cfg.Currency != "" && v.Currency != s.cfg.Currency {
			return models.StatusFailed
		}
		return models.StatusCompleted
	case GatewayFailed, GatewayAbandoned:
		return models.StatusFailed
	case GatewayNotFound:
		if s.ledger.Now().Sub(txn.CreatedAt) >= s.cfg.ReconcileAfter {
			return models.StatusCancelled
		}
	}
	return models.StatusPending
}

type gatewayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhook authenticates a gateway callback and re-verifies the deposit it
// names. The payload's own status and amount are ignored.
func (s *DepositService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.gwCfg.WebhookSecret == "" || !VerifySignature(s.gwCfg.WebhookSecret, body, signature) {
		return ledger.ErrInvalidSignature
	}

	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Data.Reference == "" {
		return ledger.Errorf(ledger.ErrInvalidRequest, "webhook payload has no reference")
	}

	_, err := s.Verify(ctx, event.Data.Reference)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		logger.Warnf("[DEPOSIT] webhook %s for unknown reference %s ignored", event.Event, event.Data.Reference)
		return nil
	case errors.Is(err, ledger.ErrAmountMismatch):
		// Already committed as failed; retrying the delivery changes nothing
		return nil
	}
	return err
}
