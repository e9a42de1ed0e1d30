package config

import (
	"github.com/shopspring/decimal"
)

type WithdrawalConfig struct {
	MaxActiveRequests int             // requests in requested/in_review/approved per user
	MinAmount         decimal.Decimal // RUB
	MaxAmount         decimal.Decimal // RUB, per request
}

func LoadWithdrawalConfig() *WithdrawalConfig {
	return &WithdrawalConfig{
		MaxActiveRequests: getEnvAsInt("WITHDRAWAL_MAX_ACTIVE", 5),
		MinAmount:         getEnvAsDecimal("WITHDRAWAL_MIN_AMOUNT", "100"),
		MaxAmount:         getEnvAsDecimal("WITHDRAWAL_MAX_AMOUNT", "300000"),
	}
}
