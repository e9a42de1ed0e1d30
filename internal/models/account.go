package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency codes carried by ledger accounts and postings
const (
	CurrencyRUB = "RUB"
	CurrencyVWC = "VWC" // wellness coin
	CurrencyPV  = "PV"  // points volume
)

// Account types
const (
	AccountCashRUB        = "cash_rub"
	AccountPV             = "pv"
	AccountVWC            = "vwc"
	AccountReferral       = "referral"
	AccountReserveSpecial = "reserve_special"
	AccountNetworkFund    = "network_fund"
)

// Owner types
const (
	OwnerUser   = "user"
	OwnerSystem = "system"
)

// Account is one ledger account, unique per (owner_id, currency, type).
// System accounts carry an empty owner_id.
type Account struct {
	ID        int64     `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	OwnerType string    `json:"owner_type" db:"owner_type"` // user or system
	Currency  string    `json:"currency" db:"currency"`
	Type      string    `json:"type" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountBalance pairs an account with its derived balance
type AccountBalance struct {
	Account
	Balance decimal.Decimal `json:"balance"`
}

// Posting operation types
const (
	OpOrderSettlement   = "order_settlement"
	OpReferralBonus     = "referral_bonus"
	OpCashbackVWC       = "cashback_vwc"
	OpPVAccrual         = "pv_accrual"
	OpWithdrawalRequest = "withdrawal_request"
	OpWithdrawalRelease = "withdrawal_release"
	OpWithdrawalPayout  = "withdrawal_payout"
	OpManualAdjustment  = "manual_adjustment"
)

// Posting is one immutable double-entry record. Both legs carry the same
// currency and amount; rows are never updated or deleted.
type Posting struct {
	ID              int64           `json:"id" db:"id"`
	OpType          string          `json:"op_type" db:"op_type"`
	CorrelationID   string          `json:"correlation_id,omitempty" db:"correlation_id"`
	DebitAccountID  int64           `json:"debit_account_id" db:"debit_account_id"`
	CreditAccountID int64           `json:"credit_account_id" db:"credit_account_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	UserID          string          `json:"user_id,omitempty" db:"user_id"`
	Memo            string          `json:"memo,omitempty" db:"memo"`
	Meta            Metadata        `json:"meta,omitempty" db:"meta"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// PostingInput is the write shape accepted by the ledger store
type PostingInput struct {
	OpType          string
	CorrelationID   string
	DebitAccountID  int64
	CreditAccountID int64
	Amount          decimal.Decimal
	Currency        string
	UserID          string
	Memo            string
	Meta            Metadata
}
