package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vitawell/backend/internal/models"
)

func TestLedgerService_EnsureAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("creates system account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("", models.OwnerSystem, models.CurrencyRUB, models.AccountNetworkFund, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "currency", "type", "created_at"}).
				AddRow(1, "", models.OwnerSystem, models.CurrencyRUB, models.AccountNetworkFund, time.Now()))
		mock.ExpectCommit()

		account, err := service.EnsureAccount(context.Background(), "", models.CurrencyRUB, models.AccountNetworkFund)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), account.ID)
		assert.Equal(t, models.OwnerSystem, account.OwnerType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing account for same key", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "currency", "type", "created_at"}).
				AddRow(7, "user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral, time.Now()))
		mock.ExpectCommit()

		account, err := service.EnsureAccount(context.Background(), "user-1", models.CurrencyRUB, models.AccountReferral)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), account.ID)
		assert.Equal(t, models.OwnerUser, account.OwnerType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown currency", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.EnsureAccount(context.Background(), "user-1", "USD", models.AccountCashRUB)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown currency")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown account type", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.EnsureAccount(context.Background(), "user-1", models.CurrencyRUB, "savings")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown account type")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("derives balance from postings", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN credit_account_id = \\$1").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("750.50"))

		balance, err := service.GetBalance(context.Background(), 5)
		assert.NoError(t, err)
		assert.True(t, balance.Equal(decimal.RequireFromString("750.50")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty account balances to zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN credit_account_id = \\$1").
			WithArgs(int64(6)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))

		balance, err := service.GetBalance(context.Background(), 6)
		assert.NoError(t, err)
		assert.True(t, balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_CreatePosting(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	accountRow := func(id int64, ownerID, ownerType, currency, accountType string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "currency", "type", "created_at"}).
			AddRow(id, ownerID, ownerType, currency, accountType, time.Now())
	}

	t.Run("successful posting", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(2)).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.CurrencyRUB, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_postings").
			WithArgs(models.OpWithdrawalRequest, "w-1", int64(1), int64(2), sqlmock.AnyArg(),
				models.CurrencyRUB, "user-1", "withdrawal hold", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectCommit()

		posting, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpWithdrawalRequest,
			CorrelationID:   "w-1",
			DebitAccountID:  1,
			CreditAccountID: 2,
			Amount:          decimal.RequireFromString("500.00"),
			Currency:        models.CurrencyRUB,
			UserID:          "user-1",
			Memo:            "withdrawal hold",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(10), posting.ID)
		assert.True(t, posting.Amount.Equal(decimal.RequireFromString("500.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpManualAdjustment,
			DebitAccountID:  1,
			CreditAccountID: 2,
			Amount:          decimal.Zero,
			Currency:        models.CurrencyRUB,
		})
		assert.Error(t, err)
		var invalid *InvalidPostingError
		assert.ErrorAs(t, err, &invalid)
		assert.Contains(t, err.Error(), "amount must be positive")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects posting to the same account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpManualAdjustment,
			DebitAccountID:  3,
			CreditAccountID: 3,
			Amount:          decimal.NewFromInt(100),
			Currency:        models.CurrencyRUB,
		})
		assert.Error(t, err)
		var invalid *InvalidPostingError
		assert.ErrorAs(t, err, &invalid)
		assert.Contains(t, err.Error(), "must differ")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects currency mismatch", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(4)).
			WillReturnRows(accountRow(4, "user-1", models.OwnerUser, models.CurrencyVWC, models.AccountVWC))
		mock.ExpectRollback()

		_, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpManualAdjustment,
			DebitAccountID:  1,
			CreditAccountID: 4,
			Amount:          decimal.NewFromInt(100),
			Currency:        models.CurrencyRUB,
		})
		assert.Error(t, err)
		var invalid *InvalidPostingError
		assert.ErrorAs(t, err, &invalid)
		assert.Contains(t, err.Error(), "currency mismatch")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects posting to missing account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpManualAdjustment,
			DebitAccountID:  99,
			CreditAccountID: 2,
			Amount:          decimal.NewFromInt(100),
			Currency:        models.CurrencyRUB,
		})
		assert.Error(t, err)
		var invalid *InvalidPostingError
		assert.ErrorAs(t, err, &invalid)
		assert.Contains(t, err.Error(), "account 99 not found")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate correlation surfaces as replay", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "", models.OwnerSystem, models.CurrencyRUB, models.AccountCashRUB))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(2)).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.CurrencyRUB, models.AccountNetworkFund))
		mock.ExpectQuery("INSERT INTO ledger_postings").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := service.CreatePosting(context.Background(), models.PostingInput{
			OpType:          models.OpOrderSettlement,
			CorrelationID:   "order-1",
			DebitAccountID:  1,
			CreditAccountID: 2,
			Amount:          decimal.NewFromInt(500),
			Currency:        models.CurrencyRUB,
		})
		assert.ErrorIs(t, err, ErrDuplicatePosting)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetAccount(context.Background(), 42)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_ListPostingsByAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	postingRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "op_type", "correlation_id", "debit_account_id", "credit_account_id",
			"amount", "currency", "user_id", "memo", "meta", "created_at"}).
			AddRow(3, models.OpReferralBonus, "order-1:L1", 2, 7, "200.00", models.CurrencyRUB,
				"sponsor-1", "level 1 referral bonus", []byte(`{"orderId":"order-1"}`), time.Now())
	}

	t.Run("clamps page size to the maximum", func(t *testing.T) {
		mock.ExpectQuery("FROM ledger_postings").
			WithArgs(int64(7), 100, 0).
			WillReturnRows(postingRows())

		postings, err := service.ListPostingsByAccount(context.Background(), 7, 1000, -3)
		assert.NoError(t, err)
		assert.Len(t, postings, 1)
		assert.Equal(t, "order-1:L1", postings[0].CorrelationID)
		assert.True(t, postings[0].Amount.Equal(decimal.RequireFromString("200.00")))
		assert.Equal(t, "order-1", postings[0].Meta["orderId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults page size when unset", func(t *testing.T) {
		mock.ExpectQuery("FROM ledger_postings").
			WithArgs(int64(7), 20, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "op_type", "correlation_id", "debit_account_id",
				"credit_account_id", "amount", "currency", "user_id", "memo", "meta", "created_at"}))

		postings, err := service.ListPostingsByAccount(context.Background(), 7, 0, 0)
		assert.NoError(t, err)
		assert.Empty(t, postings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_FindPostingByCorrelation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("not settled yet", func(t *testing.T) {
		mock.ExpectQuery("WHERE op_type = \\$1 AND correlation_id = \\$2").
			WithArgs(models.OpOrderSettlement, "order-9").
			WillReturnError(sql.ErrNoRows)

		_, err := service.FindPostingByCorrelation(context.Background(), models.OpOrderSettlement, "order-9")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
