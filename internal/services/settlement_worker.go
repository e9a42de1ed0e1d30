package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

// SettlementWorker drains the Redis settlement queue and hands each order to
// the engine. Settlement is idempotent, so redelivering a payload after a
// crash is always safe.
type SettlementWorker struct {
	service *SettlementService
	redis   *redis.Client
	config  *config.SettlementConfig
}

func NewSettlementWorker(service *SettlementService, redisClient *redis.Client, cfg *config.SettlementConfig) *SettlementWorker {
	return &SettlementWorker{
		service: service,
		redis:   redisClient,
		config:  cfg,
	}
}

// Run blocks until ctx is canceled
func (w *SettlementWorker) Run(ctx context.Context) {
	if w.redis == nil {
		log.Printf("[WORKER] Redis unavailable, settlement worker not started")
		return
	}

	log.Printf("[WORKER] Settlement worker started, queue %s", w.config.QueueName)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[WORKER] Settlement worker stopped")
			return
		default:
		}

		res, err := w.redis.BLPop(ctx, w.config.PopTimeout, w.config.QueueName).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[WORKER] Settlement worker stopped")
				return
			}
			log.Printf("[WORKER] Queue read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// BLPop returns [key, payload]
		if len(res) == 2 {
			w.process(ctx, []byte(res[1]))
		}
	}
}

func (w *SettlementWorker) process(ctx context.Context, payload []byte) {
	var req models.SettlementRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("[WORKER] Dropping malformed settlement payload: %v", err)
		return
	}

	if _, err := w.service.SettleOrder(ctx, req); err != nil {
		req.Attempt++
		if req.Attempt >= w.config.MaxAttempts {
			log.Printf("[WORKER] Order %s failed after %d attempts, giving up: %v", req.OrderID, req.Attempt, err)
			return
		}
		log.Printf("[WORKER] Order %s failed (attempt %d), requeueing: %v", req.OrderID, req.Attempt, err)
		if data, merr := json.Marshal(req); merr == nil {
			w.redis.RPush(ctx, w.config.QueueName, data)
		}
	}
}
