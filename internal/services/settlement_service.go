package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/vitawell/backend/internal/audit"
	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

var oneHundred = decimal.NewFromInt(100)

// SettlementService turns one paid order into the full commission posting
// set: the network fund contribution, per-level referral bonuses, the
// buyer's VWC cashback and PV accrual. An order settles exactly once; the
// fund posting's (op_type, correlation_id) key makes retries and concurrent
// deliveries replay the first result.
type SettlementService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *LedgerService
	network *NetworkService
	audit   *audit.AuditLogger
	config  *config.SettlementConfig
}

func NewSettlementService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, network *NetworkService, cfg *config.SettlementConfig) *SettlementService {
	return &SettlementService{
		db:      db,
		redis:   redisClient,
		ledger:  ledger,
		network: network,
		audit:   audit.NewAuditLogger(),
		config:  cfg,
	}
}

// ComputePV converts an order base to points volume, one point per full
// PVDivisor rubles.
func (s *SettlementService) ComputePV(orderBase decimal.Decimal) int64 {
	if !orderBase.IsPositive() {
		return 0
	}
	return orderBase.Div(s.config.PVDivisor).Floor().IntPart()
}

// ComputeCashback returns the buyer's VWC cashback, rounded half up to kopecks
func (s *SettlementService) ComputeCashback(orderBase decimal.Decimal) decimal.Decimal {
	return orderBase.Mul(s.config.CashbackRate).Round(2)
}

// ComputeNetworkFund returns the order's network fund contribution
func (s *SettlementService) ComputeNetworkFund(orderBase decimal.Decimal) decimal.Decimal {
	return orderBase.Mul(s.config.NetworkFundRate).Round(2)
}

// LevelBonus returns the referral bonus paid at one upline level
func (s *SettlementService) LevelBonus(orderBase decimal.Decimal, level int) decimal.Decimal {
	percent := s.config.LevelPercent(level)
	if percent.IsZero() {
		return decimal.Zero
	}
	return orderBase.Mul(percent).Div(oneHundred).Round(2)
}

// SettleOrder writes the commission postings for one order in a single
// database transaction. Calling it again for the same order returns the
// postings already written and changes nothing.
func (s *SettlementService) SettleOrder(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if !req.OrderBase.IsPositive() {
		return nil, fmt.Errorf("order base must be positive, got %s", req.OrderBase)
	}

	if _, err := s.ledger.FindPostingByCorrelation(ctx, models.OpOrderSettlement, req.OrderID); err == nil {
		log.Printf("[SETTLEMENT] Order %s already settled, replaying result", req.OrderID)
		return s.replayResult(ctx, req)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	pv := s.ComputePV(req.OrderBase)
	if req.PV != nil {
		pv = *req.PV
	}
	cashback := s.ComputeCashback(req.OrderBase)
	if req.CashbackVWC != nil {
		cashback = *req.CashbackVWC
	}
	fund := s.ComputeNetworkFund(req.OrderBase)
	if req.NetworkFund != nil {
		fund = *req.NetworkFund
	}
	if !fund.IsPositive() {
		return nil, fmt.Errorf("network fund amount must be positive, got %s", fund)
	}

	// The sponsor chain is read-only and resolved before the money moves.
	// A missing ancestor shortens the payout set, never fails the order.
	var upline []models.UplineEntry
	if req.BuyerID != "" {
		var err error
		upline, err = s.network.GetUpline(ctx, req.BuyerID, s.config.MaxUplineDepth)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("[SETTLEMENT] Order %s has no buyer, settling fund contribution only", req.OrderID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cashRub, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountCashRUB)
	if err != nil {
		return nil, err
	}
	fundRub, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountNetworkFund)
	if err != nil {
		return nil, err
	}

	var postings []models.Posting

	fundPosting, err := s.ledger.CreatePostingTx(tx, models.PostingInput{
		OpType:          models.OpOrderSettlement,
		CorrelationID:   req.OrderID,
		DebitAccountID:  cashRub.ID,
		CreditAccountID: fundRub.ID,
		Amount:          fund,
		Currency:        models.CurrencyRUB,
		UserID:          req.BuyerID,
		Memo:            "network fund contribution",
		Meta: models.Metadata{
			"orderId":   req.OrderID,
			"buyerId":   req.BuyerID,
			"orderBase": req.OrderBase.StringFixed(2),
		},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePosting) {
			// Lost the race to a concurrent delivery of the same order
			tx.Rollback()
			log.Printf("[SETTLEMENT] Order %s settled concurrently, replaying result", req.OrderID)
			return s.replayResult(ctx, req)
		}
		return nil, err
	}
	postings = append(postings, *fundPosting)

	for _, entry := range upline {
		bonus := s.LevelBonus(req.OrderBase, entry.Level)
		if !bonus.IsPositive() {
			continue
		}

		referralAcct, err := s.ledger.EnsureAccountTx(tx, entry.ParentID, models.CurrencyRUB, models.AccountReferral)
		if err != nil {
			return nil, err
		}

		bonusPosting, err := s.ledger.CreatePostingTx(tx, models.PostingInput{
			OpType:          models.OpReferralBonus,
			CorrelationID:   fmt.Sprintf("%s:L%d", req.OrderID, entry.Level),
			DebitAccountID:  fundRub.ID,
			CreditAccountID: referralAcct.ID,
			Amount:          bonus,
			Currency:        models.CurrencyRUB,
			UserID:          entry.ParentID,
			Memo:            fmt.Sprintf("level %d referral bonus", entry.Level),
			Meta: models.Metadata{
				"orderId":       req.OrderID,
				"level":         entry.Level,
				"beneficiaryId": entry.ParentID,
			},
		})
		if err != nil {
			return nil, err
		}
		postings = append(postings, *bonusPosting)
	}

	if req.BuyerID != "" {
		if cashback.IsPositive() {
			fundVwc, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyVWC, models.AccountNetworkFund)
			if err != nil {
				return nil, err
			}
			buyerVwc, err := s.ledger.EnsureAccountTx(tx, req.BuyerID, models.CurrencyVWC, models.AccountVWC)
			if err != nil {
				return nil, err
			}
			cashbackPosting, err := s.ledger.CreatePostingTx(tx, models.PostingInput{
				OpType:          models.OpCashbackVWC,
				CorrelationID:   req.OrderID,
				DebitAccountID:  fundVwc.ID,
				CreditAccountID: buyerVwc.ID,
				Amount:          cashback,
				Currency:        models.CurrencyVWC,
				UserID:          req.BuyerID,
				Memo:            "order cashback",
				Meta:            models.Metadata{"orderId": req.OrderID},
			})
			if err != nil {
				return nil, err
			}
			postings = append(postings, *cashbackPosting)
		}

		if pv > 0 {
			fundPv, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyPV, models.AccountNetworkFund)
			if err != nil {
				return nil, err
			}
			buyerPv, err := s.ledger.EnsureAccountTx(tx, req.BuyerID, models.CurrencyPV, models.AccountPV)
			if err != nil {
				return nil, err
			}
			pvPosting, err := s.ledger.CreatePostingTx(tx, models.PostingInput{
				OpType:          models.OpPVAccrual,
				CorrelationID:   req.OrderID,
				DebitAccountID:  fundPv.ID,
				CreditAccountID: buyerPv.ID,
				Amount:          decimal.NewFromInt(pv),
				Currency:        models.CurrencyPV,
				UserID:          req.BuyerID,
				Memo:            "order points volume",
				Meta:            models.Metadata{"orderId": req.OrderID},
			})
			if err != nil {
				return nil, err
			}
			postings = append(postings, *pvPosting)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit order %s: %v", req.OrderID, err)
		return nil, err
	}

	s.audit.LogSettlement(req.OrderID, req.BuyerID, len(postings), false)
	log.Printf("[SETTLEMENT] Order %s settled: %d postings, fund %s, %d upline levels paid",
		req.OrderID, len(postings), fund.StringFixed(2), len(postings)-1)

	return &models.SettlementResult{
		OrderID:  req.OrderID,
		Replayed: false,
		Postings: postings,
	}, nil
}

func (s *SettlementService) replayResult(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	postings, err := s.ledger.ListPostingsByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	s.audit.LogSettlement(req.OrderID, req.BuyerID, len(postings), true)
	return &models.SettlementResult{
		OrderID:  req.OrderID,
		Replayed: true,
		Postings: postings,
	}, nil
}

// OrderStatus returns the postings already written for an order
func (s *SettlementService) OrderStatus(ctx context.Context, orderID string) (*models.SettlementResult, error) {
	if _, err := s.ledger.FindPostingByCorrelation(ctx, models.OpOrderSettlement, orderID); err != nil {
		return nil, err
	}
	postings, err := s.ledger.ListPostingsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.SettlementResult{
		OrderID:  orderID,
		Replayed: true,
		Postings: postings,
	}, nil
}

// EnqueueOrder pushes a settlement request onto the Redis queue. Without
// Redis the order settles synchronously so checkout never stalls on a
// missing broker.
func (s *SettlementService) EnqueueOrder(ctx context.Context, req models.SettlementRequest) error {
	if s.redis == nil {
		log.Printf("[SETTLEMENT] Redis unavailable, settling order %s synchronously", req.OrderID)
		_, err := s.SettleOrder(ctx, req)
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := s.redis.RPush(ctx, s.config.QueueName, data).Err(); err != nil {
		return err
	}
	log.Printf("[SETTLEMENT] Order %s queued for settlement", req.OrderID)
	return nil
}
