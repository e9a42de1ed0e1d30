package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitawell/backend/internal/audit"
	"github.com/vitawell/backend/internal/models"
)

var knownCurrencies = map[string]bool{
	models.CurrencyRUB: true,
	models.CurrencyVWC: true,
	models.CurrencyPV:  true,
}

var knownAccountTypes = map[string]bool{
	models.AccountCashRUB:        true,
	models.AccountPV:             true,
	models.AccountVWC:            true,
	models.AccountReferral:       true,
	models.AccountReserveSpecial: true,
	models.AccountNetworkFund:    true,
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService is the append-only double-entry store. Balances are always
// derived from postings at read time; nothing keeps a running counter.
type LedgerService struct {
	db    *sql.DB
	audit *audit.AuditLogger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewAuditLogger(),
	}
}

// EnsureAccount returns the account for (ownerID, currency, accountType),
// creating it when absent. The upsert resolves concurrent calls to the same
// key without a duplicate. Empty ownerID addresses the platform's system
// account for that currency and type.
func (s *LedgerService) EnsureAccount(ctx context.Context, ownerID, currency, accountType string) (*models.Account, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.EnsureAccountTx(tx, ownerID, currency, accountType)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) EnsureAccountTx(tx *sql.Tx, ownerID, currency, accountType string) (*models.Account, error) {
	if !knownCurrencies[currency] {
		return nil, fmt.Errorf("unknown currency %q", currency)
	}
	if !knownAccountTypes[accountType] {
		return nil, fmt.Errorf("unknown account type %q", accountType)
	}

	ownerType := models.OwnerUser
	if ownerID == "" {
		ownerType = models.OwnerSystem
	}

	var account models.Account
	err := tx.QueryRow(`
		INSERT INTO ledger_accounts (owner_id, owner_type, currency, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, currency, type)
		DO UPDATE SET owner_type = EXCLUDED.owner_type
		RETURNING id, owner_id, owner_type, currency, type, created_at`,
		ownerID, ownerType, currency, accountType, time.Now()).
		Scan(&account.ID, &account.OwnerID, &account.OwnerType, &account.Currency, &account.Type, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	return &account, nil
}

// GetAccount loads one account by id
func (s *LedgerService) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, currency, type, created_at
		FROM ledger_accounts
		WHERE id = $1`, accountID).
		Scan(&account.ID, &account.OwnerID, &account.OwnerType, &account.Currency, &account.Type, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBalance derives an account balance as sum(credits) - sum(debits) in a
// single statement, so the figure is a consistent snapshot.
func (s *LedgerService) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN credit_account_id = $1 THEN amount ELSE -amount END), 0)
		FROM ledger_postings
		WHERE credit_account_id = $1 OR debit_account_id = $1`, accountID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// BalanceTx derives the balance inside a transaction. Callers lock the
// account row first when the figure guards a debit.
func (s *LedgerService) BalanceTx(tx *sql.Tx, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN credit_account_id = $1 THEN amount ELSE -amount END), 0)
		FROM ledger_postings
		WHERE credit_account_id = $1 OR debit_account_id = $1`, accountID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// LockAccountsTx takes FOR UPDATE locks on the given account rows in
// ascending id order to prevent deadlocks between concurrent flows.
func (s *LedgerService) LockAccountsTx(tx *sql.Tx, accountIDs ...int64) error {
	ids := make([]int64, 0, len(accountIDs))
	seen := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		var locked int64
		err := tx.QueryRow(`
			SELECT id
			FROM ledger_accounts
			WHERE id = $1
			FOR UPDATE`, id).Scan(&locked)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CreatePosting writes one double-entry record in its own transaction
func (s *LedgerService) CreatePosting(ctx context.Context, input models.PostingInput) (*models.Posting, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	posting, err := s.CreatePostingTx(tx, input)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return posting, nil
}

// CreatePostingTx validates and appends one posting inside the caller's
// transaction. Rows are immutable once written. A duplicate
// (op_type, correlation_id) surfaces as ErrDuplicatePosting so callers can
// treat the write as already applied.
func (s *LedgerService) CreatePostingTx(tx *sql.Tx, input models.PostingInput) (*models.Posting, error) {
	if !input.Amount.IsPositive() {
		return nil, &InvalidPostingError{Reason: "amount must be positive"}
	}
	if input.DebitAccountID == input.CreditAccountID {
		return nil, &InvalidPostingError{Reason: "debit and credit accounts must differ"}
	}

	debit, err := s.accountTx(tx, input.DebitAccountID)
	if err != nil {
		return nil, err
	}
	credit, err := s.accountTx(tx, input.CreditAccountID)
	if err != nil {
		return nil, err
	}
	if debit.Currency != input.Currency || credit.Currency != input.Currency {
		return nil, &InvalidPostingError{
			Reason: fmt.Sprintf("currency mismatch: posting %s, debit %s, credit %s",
				input.Currency, debit.Currency, credit.Currency),
		}
	}

	posting := models.Posting{
		OpType:          input.OpType,
		CorrelationID:   input.CorrelationID,
		DebitAccountID:  input.DebitAccountID,
		CreditAccountID: input.CreditAccountID,
		Amount:          input.Amount,
		Currency:        input.Currency,
		UserID:          input.UserID,
		Memo:            input.Memo,
		Meta:            input.Meta,
		CreatedAt:       time.Now(),
	}

	err = tx.QueryRow(`
		INSERT INTO ledger_postings (op_type, correlation_id, debit_account_id, credit_account_id, amount, currency, user_id, memo, meta, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		posting.OpType, posting.CorrelationID, posting.DebitAccountID, posting.CreditAccountID,
		posting.Amount, posting.Currency, posting.UserID, posting.Memo, posting.Meta, posting.CreatedAt).
		Scan(&posting.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicatePosting, input.OpType, input.CorrelationID)
		}
		return nil, fmt.Errorf("create posting: %w", err)
	}

	s.audit.LogPosting(posting.OpType, posting.CorrelationID, posting.UserID,
		posting.Amount, posting.Currency, posting.DebitAccountID, posting.CreditAccountID)
	return &posting, nil
}

func (s *LedgerService) accountTx(tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, owner_id, owner_type, currency, type, created_at
		FROM ledger_accounts
		WHERE id = $1`, accountID).
		Scan(&account.ID, &account.OwnerID, &account.OwnerType, &account.Currency, &account.Type, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &InvalidPostingError{Reason: fmt.Sprintf("account %d not found", accountID)}
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccountsByOwner returns the owner's accounts with derived balances
func (s *LedgerService) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.AccountBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.owner_id, a.owner_type, a.currency, a.type, a.created_at,
		       COALESCE(SUM(CASE WHEN p.credit_account_id = a.id THEN p.amount
		                         WHEN p.debit_account_id = a.id THEN -p.amount
		                         ELSE 0 END), 0) AS balance
		FROM ledger_accounts a
		LEFT JOIN ledger_postings p
		  ON p.credit_account_id = a.id OR p.debit_account_id = a.id
		WHERE a.owner_id = $1
		GROUP BY a.id, a.owner_id, a.owner_type, a.currency, a.type, a.created_at
		ORDER BY a.currency, a.type`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.AccountBalance
	for rows.Next() {
		var ab models.AccountBalance
		if err := rows.Scan(&ab.ID, &ab.OwnerID, &ab.OwnerType, &ab.Currency, &ab.Type, &ab.CreatedAt, &ab.Balance); err != nil {
			return nil, err
		}
		accounts = append(accounts, ab)
	}
	return accounts, rows.Err()
}

// ListAllAccounts pages over every account, newest first
func (s *LedgerService) ListAllAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, owner_type, currency, type, created_at
		FROM ledger_accounts
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.OwnerType, &a.Currency, &a.Type, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListPostingsByAccount pages over an account's postings, newest first
func (s *LedgerService) ListPostingsByAccount(ctx context.Context, accountID int64, limit, offset int) ([]models.Posting, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, COALESCE(correlation_id, ''), debit_account_id, credit_account_id, amount, currency, user_id, memo, meta, created_at
		FROM ledger_postings
		WHERE debit_account_id = $1 OR credit_account_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPostings(rows)
}

// ListPostingsByOrder returns every posting written for an order, oldest
// first, matched through the orderId carried in posting meta.
func (s *LedgerService) ListPostingsByOrder(ctx context.Context, orderID string) ([]models.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, COALESCE(correlation_id, ''), debit_account_id, credit_account_id, amount, currency, user_id, memo, meta, created_at
		FROM ledger_postings
		WHERE meta->>'orderId' = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPostings(rows)
}

// FindPostingByCorrelation looks up the posting keyed by (opType, correlationID)
func (s *LedgerService) FindPostingByCorrelation(ctx context.Context, opType, correlationID string) (*models.Posting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, op_type, COALESCE(correlation_id, ''), debit_account_id, credit_account_id, amount, currency, user_id, memo, meta, created_at
		FROM ledger_postings
		WHERE op_type = $1 AND correlation_id = $2`, opType, correlationID)

	posting, err := scanPosting(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return posting, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(row rowScanner) (*models.Posting, error) {
	var p models.Posting
	err := row.Scan(&p.ID, &p.OpType, &p.CorrelationID, &p.DebitAccountID, &p.CreditAccountID,
		&p.Amount, &p.Currency, &p.UserID, &p.Memo, &p.Meta, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPostings(rows *sql.Rows) ([]models.Posting, error) {
	var postings []models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, *p)
	}
	return postings, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
