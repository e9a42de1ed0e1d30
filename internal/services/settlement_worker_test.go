package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

func TestSettlementWorker_Process(t *testing.T) {
	t.Run("drops a malformed payload", func(t *testing.T) {
		service, mock, cleanup := newSettlementFixture(t)
		defer cleanup()

		redisClient, redisMock := redismock.NewClientMock()
		worker := NewSettlementWorker(service, redisClient, config.LoadSettlementConfig())

		worker.process(context.Background(), []byte("not json"))

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("requeues a failed order with a bumped attempt", func(t *testing.T) {
		service, mock, cleanup := newSettlementFixture(t)
		defer cleanup()

		cfg := config.LoadSettlementConfig()
		redisClient, redisMock := redismock.NewClientMock()
		worker := NewSettlementWorker(service, redisClient, cfg)

		// Zero order base fails validation before any posting is written
		payload, err := json.Marshal(models.SettlementRequest{OrderID: "order-1"})
		assert.NoError(t, err)
		requeued, err := json.Marshal(models.SettlementRequest{OrderID: "order-1", Attempt: 1})
		assert.NoError(t, err)

		redisMock.ExpectRPush(cfg.QueueName, requeued).SetVal(1)

		worker.process(context.Background(), payload)

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("gives up once the attempt limit is reached", func(t *testing.T) {
		service, mock, cleanup := newSettlementFixture(t)
		defer cleanup()

		cfg := config.LoadSettlementConfig()
		redisClient, redisMock := redismock.NewClientMock()
		worker := NewSettlementWorker(service, redisClient, cfg)

		payload, err := json.Marshal(models.SettlementRequest{OrderID: "order-1", Attempt: cfg.MaxAttempts - 1})
		assert.NoError(t, err)

		worker.process(context.Background(), payload)

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
