package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request statuses
const (
	WithdrawalRequested = "requested"
	WithdrawalInReview  = "in_review"
	WithdrawalApproved  = "approved"
	WithdrawalPaid      = "paid"
	WithdrawalRejected  = "rejected"
	WithdrawalCanceled  = "canceled"
)

// Payout methods
const (
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
)

// WithdrawalTransition is one entry of the append-only status audit trail
type WithdrawalTransition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// WithdrawalPayload is the JSONB payload of a withdrawal request: payout
// destination details plus the full transition history.
type WithdrawalPayload struct {
	BankCode    string                 `json:"bank_code,omitempty"`
	ProviderRef string                 `json:"provider_ref,omitempty"`
	Transitions []WithdrawalTransition `json:"transitions"`
}

// Value implements driver.Valuer for WithdrawalPayload
func (p WithdrawalPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for WithdrawalPayload
func (p *WithdrawalPayload) Scan(value any) error {
	if value == nil {
		*p = WithdrawalPayload{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, p)
}

// WithdrawalRequest is a user's request to pay out referral balance
type WithdrawalRequest struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	AmountRub      decimal.Decimal   `json:"amount_rub" db:"amount_rub"`
	Method         string            `json:"method" db:"method"` // bank_transfer or card
	Destination    string            `json:"destination" db:"destination"`
	Status         string            `json:"status" db:"status"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	Payload        WithdrawalPayload `json:"payload" db:"payload"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// CreateWithdrawal is the request body for opening a withdrawal
type CreateWithdrawal struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"required,oneof=bank_transfer card"`
	Destination    string          `json:"destination" validate:"required,max=64"`
	BankCode       string          `json:"bankCode,omitempty" validate:"omitempty,bik"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"required,min=8,max=64"`
}
