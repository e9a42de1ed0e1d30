package models

import (
	"github.com/shopspring/decimal"
)

// SettlementRequest describes one paid order handed to the commission
// engine. Checkout may pass the figures it already displayed; any figure
// left nil is derived from OrderBase by the engine's configured rules.
type SettlementRequest struct {
	OrderID     string           `json:"orderId" validate:"required,max=64"`
	BuyerID     string           `json:"buyerId" validate:"omitempty,max=64"`
	OrderBase   decimal.Decimal  `json:"orderBase"`
	PV          *int64           `json:"pv,omitempty"`
	CashbackVWC *decimal.Decimal `json:"cashbackVwc,omitempty"`
	NetworkFund *decimal.Decimal `json:"networkFund,omitempty"`
	Attempt     int              `json:"attempt,omitempty"` // queue redelivery counter
}

// SettlementResult lists the postings written for an order. Replayed is set
// when the order was already settled and nothing new was written.
type SettlementResult struct {
	OrderID  string    `json:"orderId"`
	Replayed bool      `json:"replayed"`
	Postings []Posting `json:"postings"`
}
