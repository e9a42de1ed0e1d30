package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SettlementConfig struct {
	PVDivisor       decimal.Decimal // RUB of order base per 1 PV
	CashbackRate    decimal.Decimal // VWC cashback share of order base
	NetworkFundRate decimal.Decimal // network fund share of order base
	MaxUplineDepth  int
	LevelPercents   []decimal.Decimal // bonus percent per upline level, level 1 first
	QueueName       string
	MaxAttempts     int
	PopTimeout      time.Duration
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		PVDivisor:       getEnvAsDecimal("SETTLEMENT_PV_DIVISOR", "200"),
		CashbackRate:    getEnvAsDecimal("SETTLEMENT_CASHBACK_RATE", "0.05"),
		NetworkFundRate: getEnvAsDecimal("SETTLEMENT_NETWORK_FUND_RATE", "0.50"),
		MaxUplineDepth:  getEnvAsInt("SETTLEMENT_MAX_UPLINE_DEPTH", 8),
		LevelPercents:   getEnvAsDecimalList("SETTLEMENT_LEVEL_PERCENTS", "20,10,5,5,3,3,2,2"),
		QueueName:       getEnv("SETTLEMENT_QUEUE_NAME", "settlement_queue"),
		MaxAttempts:     getEnvAsInt("SETTLEMENT_MAX_ATTEMPTS", 3),
		PopTimeout:      getEnvAsDuration("SETTLEMENT_POP_TIMEOUT", 5*time.Second),
	}
}

// LevelPercent returns the bonus percent for an upline level, zero when the
// level is beyond the configured table.
func (c *SettlementConfig) LevelPercent(level int) decimal.Decimal {
	if level < 1 || level > len(c.LevelPercents) {
		return decimal.Zero
	}
	return c.LevelPercents[level-1]
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}

func getEnvAsDecimalList(key, defaultVal string) []decimal.Decimal {
	raw := getEnv(key, defaultVal)
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}
