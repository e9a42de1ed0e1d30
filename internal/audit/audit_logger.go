package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogPosting(opType, correlationID, userID string, amount decimal.Decimal, currency string, debitAccountID, creditAccountID int64) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "POSTING_" + opType,
		CorrelationID: correlationID,
		UserID:        userID,
		Amount:        amount.StringFixed(2),
		Currency:      currency,
		Status:        "SUCCESS",
		Details: map[string]int64{
			"debit_account_id":  debitAccountID,
			"credit_account_id": creditAccountID,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogSettlement(orderID, buyerID string, postings int, replayed bool) {
	status := "SETTLED"
	if replayed {
		status = "REPLAYED"
	}
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "ORDER_SETTLEMENT",
		CorrelationID: orderID,
		UserID:        buyerID,
		Status:        status,
		Details:       map[string]int{"postings": postings},
	}
	a.log(event)
}

func (a *AuditLogger) LogTransition(withdrawalID, userID, from, to, actor string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "WITHDRAWAL_TRANSITION",
		CorrelationID: withdrawalID,
		UserID:        userID,
		Status:        "SUCCESS",
		Details: map[string]string{
			"from":  from,
			"to":    to,
			"actor": actor,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(eventType, correlationID, userID string, err error) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     eventType,
		CorrelationID: correlationID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
