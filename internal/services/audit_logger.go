package services

import (
	"encoding/json"
	"time"

	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/sirupsen/logrus"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	UserID    string    `json:"user_id"`
	TxnType   string    `json:"txn_type,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// AuditLogger writes one AUDIT line per money movement
type AuditLogger struct {
	log *logrus.Logger
}

func NewAuditLogger(l *logrus.Logger) *AuditLogger {
	if l == nil {
		l = logger.Logger()
	}
	return &AuditLogger{log: l}
}

// LogCommit is registered as a ledger commit observer
func (a *AuditLogger) LogCommit(txn *models.Transaction) {
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "COMMIT",
		Reference: txn.Reference,
		UserID:    txn.UserID,
		TxnType:   string(txn.Type),
		Amount:    txn.Amount.String(),
		Status:    string(txn.Status),
	}
	if txn.TradeID != nil {
		event.Details = map[string]string{"trade_id": *txn.TradeID}
	}
	a.write(event)
}

func (a *AuditLogger) LogError(reference, userID string, err error) {
	a.write(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "ERROR",
		Reference: reference,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(reference, userID, operation string, details map[string]string) {
	a.write(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		Reference: reference,
		UserID:    userID,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *AuditLogger) write(event AuditEvent) {
	data, _ := json.Marshal(event)
	a.log.Infof("AUDIT: %s", string(data))
}
