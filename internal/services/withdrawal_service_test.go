package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{models.WithdrawalRequested, models.WithdrawalInReview, true},
		{models.WithdrawalRequested, models.WithdrawalApproved, true},
		{models.WithdrawalRequested, models.WithdrawalRejected, true},
		{models.WithdrawalRequested, models.WithdrawalCanceled, true},
		{models.WithdrawalInReview, models.WithdrawalApproved, true},
		{models.WithdrawalInReview, models.WithdrawalRejected, true},
		{models.WithdrawalApproved, models.WithdrawalPaid, true},
		{models.WithdrawalApproved, models.WithdrawalRejected, true},

		{models.WithdrawalRequested, models.WithdrawalPaid, false},
		{models.WithdrawalInReview, models.WithdrawalCanceled, false},
		{models.WithdrawalApproved, models.WithdrawalCanceled, false},
		{models.WithdrawalPaid, models.WithdrawalRejected, false},
		{models.WithdrawalPaid, models.WithdrawalRequested, false},
		{models.WithdrawalRejected, models.WithdrawalApproved, false},
		{models.WithdrawalCanceled, models.WithdrawalRequested, false},
		{"unknown", models.WithdrawalApproved, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func newWithdrawalFixture(t *testing.T, banks *BankService) (*WithdrawalService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	service := NewWithdrawalService(db, ledger, nil, banks, config.LoadWithdrawalConfig())
	return service, mock, func() { db.Close() }
}

func withdrawalRow(id, userID, status, payload string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "amount_rub", "method", "destination",
		"status", "idempotency_key", "payload", "created_at", "updated_at"}).
		AddRow(id, userID, "500.00", models.MethodBankTransfer, "40817810099910004312",
			status, "key-1", []byte(payload), time.Now(), time.Now())
}

func TestWithdrawalService_Create(t *testing.T) {
	accountRow := func(id int64, ownerID, ownerType, accountType string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "currency", "type", "created_at"}).
			AddRow(id, ownerID, ownerType, models.CurrencyRUB, accountType, time.Now())
	}

	t.Run("holds the amount and opens the request", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("", models.OwnerSystem, models.CurrencyRUB, models.AccountReserveSpecial, sqlmock.AnyArg()).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral, sqlmock.AnyArg()).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN credit_account_id = \\$1").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("750.00"))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
			WithArgs("user-1", pq.Array(activeWithdrawalStatuses)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("INSERT INTO withdrawal_requests").
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), models.MethodCard, "4111111111111111",
				models.WithdrawalRequested, "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(2)).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_postings").
			WithArgs(models.OpWithdrawalRequest, sqlmock.AnyArg(), int64(1), int64(2), sqlmock.AnyArg(),
				models.CurrencyRUB, "user-1", "withdrawal hold", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectCommit()

		w, replayed, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(500),
			Method:      models.MethodCard,
			Destination: "4111111111111111",
		})
		assert.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, models.WithdrawalRequested, w.Status)
		assert.Equal(t, "500.00", w.AmountRub.StringFixed(2))
		assert.Len(t, w.Payload.Transitions, 1)
		assert.Equal(t, models.WithdrawalRequested, w.Payload.Transitions[0].To)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns the original request for a duplicate key", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("WHERE user_id = \\$1 AND idempotency_key = \\$2").
			WithArgs("user-1", "key-1").
			WillReturnRows(withdrawalRow("w-1", "user-1", models.WithdrawalRequested, `{}`))
		mock.ExpectRollback()

		w, replayed, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:         decimal.NewFromInt(500),
			Method:         models.MethodCard,
			Destination:    "4111111111111111",
			IdempotencyKey: "key-1",
		})
		assert.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, "w-1", w.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when the referral balance is short", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN credit_account_id = \\$1").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("100.00"))
		mock.ExpectRollback()

		_, _, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(500),
			Method:      models.MethodCard,
			Destination: "4111111111111111",
		})
		var insufficient *InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "100", insufficient.Available.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when too many requests are active", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN credit_account_id = \\$1").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("10000.00"))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
			WithArgs("user-1", pq.Array(activeWithdrawalStatuses)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
		mock.ExpectRollback()

		_, _, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(500),
			Method:      models.MethodCard,
			Destination: "4111111111111111",
		})
		var limited *RateLimitedError
		assert.ErrorAs(t, err, &limited)
		assert.Equal(t, 5, limited.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects amount below the minimum", func(t *testing.T) {
		service, _, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		_, _, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(50),
			Method:      models.MethodCard,
			Destination: "4111111111111111",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be between")
	})

	t.Run("requires a bank code for bank transfers", func(t *testing.T) {
		service, _, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		_, _, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(500),
			Method:      models.MethodBankTransfer,
			Destination: "40817810099910004312",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "bank code is required")
	})

	t.Run("rejects a bank that cannot take the method", func(t *testing.T) {
		service, _, cleanup := newWithdrawalFixture(t, NewBankService())
		defer cleanup()

		_, _, err := service.Create(context.Background(), "user-1", models.CreateWithdrawal{
			Amount:      decimal.NewFromInt(500),
			Method:      models.MethodBankTransfer,
			Destination: "40817810099910004312",
			BankCode:    "044525444",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not support")
	})
}

func TestWithdrawalService_Transitions(t *testing.T) {
	accountRow := func(id int64, ownerID, ownerType, accountType string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "currency", "type", "created_at"}).
			AddRow(id, ownerID, ownerType, models.CurrencyRUB, accountType, time.Now())
	}

	t.Run("approve from requested", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("w-1").
			WillReturnRows(withdrawalRow("w-1", "user-1", models.WithdrawalRequested, `{}`))
		mock.ExpectExec("UPDATE withdrawal_requests").
			WithArgs(models.WithdrawalApproved, sqlmock.AnyArg(), sqlmock.AnyArg(), "w-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w, err := service.Approve(context.Background(), "w-1", "admin-1", "looks fine")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalApproved, w.Status)
		assert.Len(t, w.Payload.Transitions, 1)
		assert.Equal(t, models.WithdrawalRequested, w.Payload.Transitions[0].From)
		assert.Equal(t, "admin-1", w.Payload.Transitions[0].Actor)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reject releases the hold in the same transaction", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("w-2").
			WillReturnRows(withdrawalRow("w-2", "user-1", models.WithdrawalInReview, `{}`))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("", models.OwnerSystem, models.CurrencyRUB, models.AccountReserveSpecial, sqlmock.AnyArg()).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("user-1", models.OwnerUser, models.CurrencyRUB, models.AccountReferral, sqlmock.AnyArg()).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(2)).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(1)).
			WillReturnRows(accountRow(1, "user-1", models.OwnerUser, models.AccountReferral))
		mock.ExpectQuery("INSERT INTO ledger_postings").
			WithArgs(models.OpWithdrawalRelease, "w-2", int64(2), int64(1), sqlmock.AnyArg(),
				models.CurrencyRUB, "user-1", "withdrawal hold released", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
		mock.ExpectExec("UPDATE withdrawal_requests").
			WithArgs(models.WithdrawalRejected, sqlmock.AnyArg(), sqlmock.AnyArg(), "w-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w, err := service.Reject(context.Background(), "w-2", "admin-1", "destination mismatch")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalRejected, w.Status)
		assert.Equal(t, "destination mismatch", w.Payload.Transitions[0].Note)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid requires approval first", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("w-3").
			WillReturnRows(withdrawalRow("w-3", "user-1", models.WithdrawalRequested, `{}`))
		mock.ExpectRollback()

		_, err := service.MarkPaid(context.Background(), "w-3", "admin-1", "prov-1")
		var invalid *InvalidStateTransitionError
		assert.ErrorAs(t, err, &invalid)
		assert.Equal(t, models.WithdrawalRequested, invalid.From)
		assert.Equal(t, models.WithdrawalPaid, invalid.To)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark paid moves reserve to cash", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("w-4").
			WillReturnRows(withdrawalRow("w-4", "user-1", models.WithdrawalApproved, `{"bankCode":"044525225"}`))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("", models.OwnerSystem, models.CurrencyRUB, models.AccountReserveSpecial, sqlmock.AnyArg()).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("INSERT INTO ledger_accounts").
			WithArgs("", models.OwnerSystem, models.CurrencyRUB, models.AccountCashRUB, sqlmock.AnyArg()).
			WillReturnRows(accountRow(8, "", models.OwnerSystem, models.AccountCashRUB))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(2)).
			WillReturnRows(accountRow(2, "", models.OwnerSystem, models.AccountReserveSpecial))
		mock.ExpectQuery("SELECT id, owner_id, owner_type, currency, type, created_at").
			WithArgs(int64(8)).
			WillReturnRows(accountRow(8, "", models.OwnerSystem, models.AccountCashRUB))
		mock.ExpectQuery("INSERT INTO ledger_postings").
			WithArgs(models.OpWithdrawalPayout, "w-4", int64(2), int64(8), sqlmock.AnyArg(),
				models.CurrencyRUB, "user-1", "withdrawal payout", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))
		mock.ExpectExec("UPDATE withdrawal_requests").
			WithArgs(models.WithdrawalPaid, sqlmock.AnyArg(), sqlmock.AnyArg(), "w-4").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w, err := service.MarkPaid(context.Background(), "w-4", "admin-1", "prov-123")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalPaid, w.Status)
		assert.Equal(t, "prov-123", w.Payload.ProviderRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown request", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("w-404").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.SubmitForReview(context.Background(), "w-404", "admin-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancel hides other users' requests", func(t *testing.T) {
		service, mock, cleanup := newWithdrawalFixture(t, nil)
		defer cleanup()

		mock.ExpectQuery("FROM withdrawal_requests").
			WithArgs("w-5").
			WillReturnRows(withdrawalRow("w-5", "someone-else", models.WithdrawalRequested, `{}`))

		_, err := service.Cancel(context.Background(), "w-5", "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateWithdrawalHandler(t *testing.T) {
	service, _, cleanup := newWithdrawalFixture(t, nil)
	defer cleanup()

	t.Run("requires authentication", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/withdrawals", strings.NewReader(`{}`))
		w := httptest.NewRecorder()

		service.CreateWithdrawalHandler(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/withdrawals", strings.NewReader(`{invalid`))
		req = req.WithContext(context.WithValue(req.Context(), "userID", "user-1"))
		w := httptest.NewRecorder()

		service.CreateWithdrawalHandler(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Invalid request body", response["error"])
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := `{"amount":"500","method":"card","destination":"4111111111111111","surprise":true}`
		req := httptest.NewRequest("POST", "/api/v1/withdrawals", strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), "userID", "user-1"))
		w := httptest.NewRecorder()

		service.CreateWithdrawalHandler(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validates the payload", func(t *testing.T) {
		body := `{"amount":"500","method":"cheque","destination":"4111111111111111"}`
		req := httptest.NewRequest("POST", "/api/v1/withdrawals", strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), "userID", "user-1"))
		w := httptest.NewRecorder()

		service.CreateWithdrawalHandler(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response["error"])
	})
}
