package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PayoutQueue hands a withdrawal reference to the background payout worker
type PayoutQueue interface {
	EnqueuePayout(ctx context.Context, reference string) error
}

type WithdrawalResult struct {
	Transaction    *models.Transaction `json:"transaction"`
	FeeTransaction *models.Transaction `json:"feeTransaction,omitempty"`
	AccountName    string              `json:"accountName"`
}

// WithdrawalService pays wallet funds out to verified bank accounts. The debit
// is posted with the pending entries; a failed payout is compensated by a
// refund entry, never by editing the originals.
type WithdrawalService struct {
	ledger   *ledger.Ledger
	accounts *AccountService
	bank     BankingPartner
	iso      *ISO20022Service
	guard    *IdempotencyGuard
	metrics  *Metrics
	cfg      *config.WalletConfig
	bankCfg  *config.BankConfig
	queue    PayoutQueue
}

func NewWithdrawalService(l *ledger.Ledger, accounts *AccountService, bank BankingPartner, iso *ISO20022Service, guard *IdempotencyGuard, metrics *Metrics, cfg *config.WalletConfig, bankCfg *config.BankConfig) *WithdrawalService {
	return &WithdrawalService{
		ledger:   l,
		accounts: accounts,
		bank:     bank,
		iso:      iso,
		guard:    guard,
		metrics:  metrics,
		cfg:      cfg,
		bankCfg:  bankCfg,
	}
}

// SetQueue enables async payout mode
func (s *WithdrawalService) SetQueue(q PayoutQueue) {
	s.queue = q
}

func feeReference(reference string) string { return reference + "-FEE" }

func reversalReference(reference string) string { return reference + "-REV" }

// VerifyAccount resolves the account holder's name with the banking partner
func (s *WithdrawalService) VerifyAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	if !bankCodeRegex.MatchString(bankCode) {
		return "", ledger.Errorf(ledger.ErrInvalidRequest, "invalid bank code")
	}
	if !accountNumberRegex.MatchString(accountNumber) {
		return "", ledger.Errorf(ledger.ErrInvalidRequest, "account number must be 10 digits")
	}

	name, err := s.bank.ResolveAccount(ctx, bankCode, accountNumber)
	if err != nil {
		if ledger.CodeOf(err) == "" {
			err = ledger.Wrap(ledger.ErrGatewayUnavailable, err)
		}
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "", ledger.Errorf(ledger.ErrAccountVerificationFailed, "no account %s at bank %s", accountNumber, bankCode)
	}
	return name, nil
}

// Create debits amount + fee and records the pending withdrawal entries in one
// unit, then hands the payout off. Validation failures create no entries.
func (s *WithdrawalService) Create(ctx context.Context, userID string, amount decimal.Decimal, bankCode, accountNumber string) (*WithdrawalResult, error) {
	if amount.LessThan(s.cfg.MinWithdrawal) {
		return nil, ledger.Errorf(ledger.ErrBelowMinimumWithdrawal, "minimum withdrawal is %s %s", s.cfg.MinWithdrawal.StringFixed(2), s.cfg.Currency)
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	// Partner lookup runs before any account lock
	accountName, err := s.VerifyAccount(ctx, bankCode, accountNumber)
	if err != nil {
		return nil, err
	}

	fee := s.cfg.WithdrawalFee
	reference := "WDR-" + uuid.NewString()
	req := &models.WithdrawalRequest{
		Reference:     reference,
		UserID:        userID,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
		AccountName:   accountName,
		Amount:        amount,
		Fee:           fee,
	}

	result := &WithdrawalResult{AccountName: accountName}
	err = s.ledger.Run(ctx, []string{userID}, func(u *ledger.Unit) error {
		if err := s.accounts.ApplyDebit(u, userID, req.Total()); err != nil {
			return err
		}

		txn, err := u.CreatePending(ctx, ledger.Entry{
			UserID:      userID,
			Type:        models.TypeWithdrawal,
			Amount:      amount,
			Reference:   reference,
			Description: "Withdrawal to " + req.MaskedAccount(),
		})
		if err != nil {
			return err
		}
		result.Transaction = txn

		if fee.IsPositive() {
			req.FeeReference = feeReference(reference)
			feeTxn, err := u.CreatePending(ctx, ledger.Entry{
				UserID:      userID,
				Type:        models.TypeWithdrawalFee,
				Amount:      fee,
				Reference:   req.FeeReference,
				Description: "Withdrawal fee for " + reference,
			})
			if err != nil {
				return err
			}
			result.FeeTransaction = feeTxn
		}

		return u.Tx.InsertWithdrawalRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"reference": reference,
		"user_id":   userID,
		"amount":    amount.StringFixed(2),
		"fee":       fee.StringFixed(2),
		"account":   req.MaskedAccount(),
	}).Info("[WITHDRAWAL] created")

	if s.cfg.PayoutMode == config.PayoutAsync && s.queue != nil {
		if err := s.queue.EnqueuePayout(ctx, reference); err != nil {
			logger.WithField("reference", reference).WithError(err).Warn("[WITHDRAWAL] enqueue failed, left for reconciliation")
		}
		return result, nil
	}

	dispatchErr := s.Dispatch(ctx, reference)
	s.refresh(ctx, result)
	if errors.Is(dispatchErr, ledger.ErrPayoutFailed) {
		return result, dispatchErr
	}
	// A transient partner failure leaves the withdrawal pending for reconciliation
	return result, nil
}

func (s *WithdrawalService) refresh(ctx context.Context, result *WithdrawalResult) {
	if txn, err := s.ledger.Store().GetTransaction(ctx, result.Transaction.Reference); err == nil {
		result.Transaction = txn
	}
	if result.FeeTransaction != nil {
		if txn, err := s.ledger.Store().GetTransaction(ctx, result.FeeTransaction.Reference); err == nil {
			result.FeeTransaction = txn
		}
	}
}

// Dispatch sends the payout instruction to the banking partner. Calling it for
// a withdrawal that is settled or already handed off does nothing.
func (s *WithdrawalService) Dispatch(ctx context.Context, reference string) error {
	req, err := s.ledger.Store().GetWithdrawalRequest(ctx, reference)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if req.PayoutID != "" {
		return nil
	}

	release, ok := s.guard.Claim(ctx, "payout_dispatch", "payout:"+reference)
	if !ok {
		return nil
	}
	defer release()

	txn, err := s.ledger.Store().GetTransaction(ctx, reference)
	if err != nil {
		return err
	}
	if txn.Status.Terminal() {
		return nil
	}

	in, err := s.iso.PayoutInstruction(req, s.cfg.Currency)
	if err != nil {
		return err
	}

	receipt, err := s.bank.InitiatePayout(ctx, in)
	if err != nil {
		if errors.Is(err, ledger.ErrPayoutFailed) {
			s.metrics.Payout("rejected")
			if _, serr := s.Settle(ctx, reference, false, err.Error()); serr != nil {
				return serr
			}
			return err
		}
		s.metrics.Payout("unavailable")
		logger.WithField("reference", reference).WithError(err).Warn("[WITHDRAWAL] payout hand-off failed")
		if ledger.CodeOf(err) == "" {
			err = ledger.Wrap(ledger.ErrGatewayUnavailable, err)
		}
		return err
	}
	s.metrics.Payout("initiated")

	if receipt.PayoutID != "" {
		err = s.ledger.Run(ctx, []string{req.UserID}, func(u *ledger.Unit) error {
			if err := u.Tx.SetPayoutID(ctx, reference, receipt.PayoutID); err != nil {
				return err
			}
			if txn.TxRef == nil {
				return u.Tx.SetTxRef(ctx, txn.ID, receipt.PayoutID)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	switch receipt.State {
	case PayoutSucceeded:
		_, err = s.Settle(ctx, reference, true, "")
	case PayoutRejected:
		if _, err = s.Settle(ctx, reference, false, "payout rejected by partner"); err == nil {
			err = ledger.Errorf(ledger.ErrPayoutFailed, "payout %s rejected by partner", reference)
		}
	}
	return err
}

// Settle moves the withdrawal and its fee to completed or failed. On failure a
// refund of amount + fee is recorded in the same unit. Repeating a settlement
// with the same outcome is a no-op.
func (s *WithdrawalService) Settle(ctx context.Context, reference string, success bool, reason string) (*models.Transaction, error) {
	stored, err := s.ledger.Store().GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if stored.Type != models.TypeWithdrawal {
		return nil, ledger.Errorf(ledger.ErrNotFound, "withdrawal %s not found", reference)
	}

	status := models.StatusCompleted
	if !success {
		status = models.StatusFailed
	}

	var (
		txn     *models.Transaction
		changed bool
	)
	err = s.ledger.Run(ctx, []string{stored.UserID}, func(u *ledger.Unit) error {
		var err error
		txn, err = u.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		changed, err = u.Commit(ctx, txn, status)
		if err != nil || !changed {
			return err
		}

		total := txn.Amount
		feeTxn, err := u.LockTransaction(ctx, feeReference(reference))
		switch {
		case err == nil:
			if _, err := u.Commit(ctx, feeTxn, status); err != nil {
				return err
			}
			total = total.Add(feeTxn.Amount)
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		if !success {
			if _, err := u.Record(ctx, ledger.Entry{
				UserID:      txn.UserID,
				Type:        models.TypeRefund,
				Amount:      total,
				Reference:   reversalReference(reference),
				Description: "Reversal of failed withdrawal " + reference,
			}); err != nil {
				return err
			}
			if err := s.accounts.ApplyReversal(u, txn.UserID, total); err != nil {
				return err
			}
		}
		return u.Tx.DeleteWithdrawalRequest(ctx, reference)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		result := "completed"
		if !success {
			result = "failed"
		}
		s.metrics.Payout(result)
		logger.WithFields(logrus.Fields{
			"reference": reference,
			"user_id":   txn.UserID,
			"status":    txn.Status,
			"reason":    reason,
		}).Info("[WITHDRAWAL] settled")
	}
	return txn, nil
}

// SyncWithPartner asks the banking partner for the payout outcome and settles
// accordingly. A payout the partner has never seen fails only after the
// reconciliation window.
func (s *WithdrawalService) SyncWithPartner(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := s.ledger.Store().GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Type != models.TypeWithdrawal {
		return nil, ledger.Errorf(ledger.ErrNotFound, "withdrawal %s not found", reference)
	}
	if txn.Status.Terminal() {
		return txn, nil
	}

	release, ok := s.guard.Claim(ctx, "payout_sync", "payout:"+reference)
	if !ok {
		return txn, nil
	}
	defer release()

	st, err := s.bank.PayoutStatus(ctx, reference)
	if err != nil {
		if ledger.CodeOf(err) == "" {
			err = ledger.Wrap(ledger.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	switch st.State {
	case PayoutSucceeded:
		return s.Settle(ctx, reference, true, "")
	case PayoutRejected:
		return s.Settle(ctx, reference, false, st.Reason)
	case PayoutUnknown:
		if s.ledger.Now().Sub(txn.CreatedAt) >= s.cfg.ReconcileAfter {
			return s.Settle(ctx, reference, false, "payout unknown to partner")
		}
	}
	return txn, nil
}

type bankEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhook authenticates a banking partner callback and re-queries the
// payout it names before settling
func (s *WithdrawalService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.bankCfg.WebhookSecret == "" || !VerifySignature(s.bankCfg.WebhookSecret, body, signature) {
		return ledger.ErrInvalidSignature
	}

	var event bankEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Data.Reference == "" {
		return ledger.Errorf(ledger.ErrInvalidRequest, "webhook payload has no reference")
	}

	_, err := s.SyncWithPartner(ctx, event.Data.Reference)
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Warnf("[WITHDRAWAL] webhook %s for unknown reference %s ignored", event.Event, event.Data.Reference)
		return nil
	}
	return err
}
