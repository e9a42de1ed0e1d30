package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vitawell/backend/internal/audit"
	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

// withdrawalTransitions is the single source of truth for the status
// machine. Every mutation checks it inside the row lock.
var withdrawalTransitions = map[string]map[string]bool{
	models.WithdrawalRequested: {
		models.WithdrawalInReview: true,
		models.WithdrawalApproved: true,
		models.WithdrawalRejected: true,
		models.WithdrawalCanceled: true,
	},
	models.WithdrawalInReview: {
		models.WithdrawalApproved: true,
		models.WithdrawalRejected: true,
	},
	models.WithdrawalApproved: {
		models.WithdrawalPaid:     true,
		models.WithdrawalRejected: true,
	},
	models.WithdrawalPaid:     {},
	models.WithdrawalRejected: {},
	models.WithdrawalCanceled: {},
}

// CanTransition reports whether a withdrawal may move from one status to another
func CanTransition(from, to string) bool {
	return withdrawalTransitions[from][to]
}

var activeWithdrawalStatuses = []string{
	models.WithdrawalRequested,
	models.WithdrawalInReview,
	models.WithdrawalApproved,
}

// WithdrawalService moves referral earnings out of the platform. Opening a
// request locks the amount on the reserve account with a ledger posting;
// reject and cancel release it, paid sends it out through the cash account.
type WithdrawalService struct {
	db        *sql.DB
	ledger    *LedgerService
	payout    *PayoutService
	banks     *BankService
	audit     *audit.AuditLogger
	validator *ValidationHelper
	config    *config.WithdrawalConfig
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService, payout *PayoutService, banks *BankService, cfg *config.WithdrawalConfig) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		ledger:    ledger,
		payout:    payout,
		banks:     banks,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		config:    cfg,
	}
}

// Create opens a withdrawal request. The whole flow runs in one database
// transaction: idempotency lookup, balance check on the locked referral
// account, active-request limit, row insert and the hold posting. Submitting
// the same (user, idempotency key) again returns the original request
// unchanged.
func (s *WithdrawalService) Create(ctx context.Context, userID string, req models.CreateWithdrawal) (*models.WithdrawalRequest, bool, error) {
	if !req.Amount.IsPositive() {
		return nil, false, fmt.Errorf("withdrawal amount must be positive")
	}
	if req.Amount.LessThan(s.config.MinAmount) || req.Amount.GreaterThan(s.config.MaxAmount) {
		return nil, false, fmt.Errorf("withdrawal amount must be between %s and %s",
			s.config.MinAmount.StringFixed(2), s.config.MaxAmount.StringFixed(2))
	}
	if req.Method == models.MethodBankTransfer && req.BankCode == "" {
		return nil, false, fmt.Errorf("bank code is required for bank transfers")
	}
	if req.BankCode != "" && s.banks != nil && !s.banks.Supports(req.BankCode, req.Method) {
		return nil, false, fmt.Errorf("bank %s does not support %s payouts", req.BankCode, req.Method)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKeyTx(tx, userID, req.IdempotencyKey)
		if err == nil {
			log.Printf("[WITHDRAWAL] Duplicate create for user %s key %s, returning %s", userID, req.IdempotencyKey, existing.ID)
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	reserve, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountReserveSpecial)
	if err != nil {
		return nil, false, err
	}
	referral, err := s.ledger.EnsureAccountTx(tx, userID, models.CurrencyRUB, models.AccountReferral)
	if err != nil {
		return nil, false, err
	}
	if err := s.ledger.LockAccountsTx(tx, referral.ID); err != nil {
		return nil, false, err
	}

	balance, err := s.ledger.BalanceTx(tx, referral.ID)
	if err != nil {
		return nil, false, err
	}
	if balance.LessThan(req.Amount) {
		return nil, false, &InsufficientBalanceError{
			AccountID: referral.ID,
			Available: balance,
			Requested: req.Amount,
		}
	}

	var active int
	err = tx.QueryRow(`
		SELECT COUNT(*)
		FROM withdrawal_requests
		WHERE user_id = $1 AND status = ANY($2)`,
		userID, pq.Array(activeWithdrawalStatuses)).Scan(&active)
	if err != nil {
		return nil, false, err
	}
	if active >= s.config.MaxActiveRequests {
		return nil, false, &RateLimitedError{Active: active, Max: s.config.MaxActiveRequests}
	}

	now := time.Now()
	w := models.WithdrawalRequest{
		ID:             uuid.NewString(),
		UserID:         userID,
		AmountRub:      req.Amount,
		Method:         req.Method,
		Destination:    req.Destination,
		Status:         models.WithdrawalRequested,
		IdempotencyKey: req.IdempotencyKey,
		Payload: models.WithdrawalPayload{
			BankCode: req.BankCode,
			Transitions: []models.WithdrawalTransition{
				{From: "", To: models.WithdrawalRequested, Actor: userID, At: now},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.Exec(`
		INSERT INTO withdrawal_requests (id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.AmountRub, w.Method, w.Destination, w.Status, w.IdempotencyKey, w.Payload, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent submit with the same key won; the aborted
			// transaction cannot continue, so re-read outside it.
			tx.Rollback()
			winner, lookupErr := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return winner, true, nil
		}
		return nil, false, err
	}

	_, err = s.ledger.CreatePostingTx(tx, models.PostingInput{
		OpType:          models.OpWithdrawalRequest,
		CorrelationID:   w.ID,
		DebitAccountID:  referral.ID,
		CreditAccountID: reserve.ID,
		Amount:          req.Amount,
		Currency:        models.CurrencyRUB,
		UserID:          userID,
		Memo:            "withdrawal hold",
		Meta:            models.Metadata{"withdrawalId": w.ID},
	})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	s.audit.LogTransition(w.ID, userID, "", models.WithdrawalRequested, userID)
	log.Printf("[WITHDRAWAL] Created %s for user %s: %s RUB via %s", w.ID, userID, w.AmountRub.StringFixed(2), w.Method)
	return &w, false, nil
}

// SubmitForReview moves a request into manual review
func (s *WithdrawalService) SubmitForReview(ctx context.Context, id, adminID string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, id, models.WithdrawalInReview, adminID, "", nil)
}

// Approve clears a request for payout
func (s *WithdrawalService) Approve(ctx context.Context, id, adminID, note string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, id, models.WithdrawalApproved, adminID, note, nil)
}

// Reject declines a request and releases the held amount back to the
// user's referral account in the same transaction.
func (s *WithdrawalService) Reject(ctx context.Context, id, adminID, reason string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, id, models.WithdrawalRejected, adminID, reason, s.releaseHold)
}

// Cancel lets the owner withdraw their own request before review. The held
// amount is released in the same transaction.
func (s *WithdrawalService) Cancel(ctx context.Context, id, callerUserID string) (*models.WithdrawalRequest, error) {
	w, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != callerUserID {
		return nil, ErrNotFound
	}
	return s.transition(ctx, id, models.WithdrawalCanceled, callerUserID, "", s.releaseHold)
}

// MarkPaid records the payout: reserve to cash in the same transaction as
// the status change. The ISO 20022 message is exported after commit; an
// export failure is logged, never un-pays.
func (s *WithdrawalService) MarkPaid(ctx context.Context, id, adminID, providerRef string) (*models.WithdrawalRequest, error) {
	w, err := s.transition(ctx, id, models.WithdrawalPaid, adminID, providerRef, func(tx *sql.Tx, w *models.WithdrawalRequest) error {
		reserve, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountReserveSpecial)
		if err != nil {
			return err
		}
		cash, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountCashRUB)
		if err != nil {
			return err
		}
		w.Payload.ProviderRef = providerRef
		_, err = s.ledger.CreatePostingTx(tx, models.PostingInput{
			OpType:          models.OpWithdrawalPayout,
			CorrelationID:   w.ID,
			DebitAccountID:  reserve.ID,
			CreditAccountID: cash.ID,
			Amount:          w.AmountRub,
			Currency:        models.CurrencyRUB,
			UserID:          w.UserID,
			Memo:            "withdrawal payout",
			Meta:            models.Metadata{"withdrawalId": w.ID, "providerRef": providerRef},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.payout != nil {
		if err := s.payout.ExportWithdrawal(w); err != nil {
			log.Printf("[WITHDRAWAL] Payout export failed for %s: %v", w.ID, err)
		}
	}
	return w, nil
}

func (s *WithdrawalService) releaseHold(tx *sql.Tx, w *models.WithdrawalRequest) error {
	reserve, err := s.ledger.EnsureAccountTx(tx, "", models.CurrencyRUB, models.AccountReserveSpecial)
	if err != nil {
		return err
	}
	referral, err := s.ledger.EnsureAccountTx(tx, w.UserID, models.CurrencyRUB, models.AccountReferral)
	if err != nil {
		return err
	}
	_, err = s.ledger.CreatePostingTx(tx, models.PostingInput{
		OpType:          models.OpWithdrawalRelease,
		CorrelationID:   w.ID,
		DebitAccountID:  reserve.ID,
		CreditAccountID: referral.ID,
		Amount:          w.AmountRub,
		Currency:        models.CurrencyRUB,
		UserID:          w.UserID,
		Memo:            "withdrawal hold released",
		Meta:            models.Metadata{"withdrawalId": w.ID},
	})
	return err
}

// transition applies one status change under a row lock. postFn writes any
// ledger postings that must land in the same transaction.
func (s *WithdrawalService) transition(ctx context.Context, id, to, actor, note string, postFn func(*sql.Tx, *models.WithdrawalRequest) error) (*models.WithdrawalRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := s.lockRequestTx(tx, id)
	if err != nil {
		return nil, err
	}

	from := w.Status
	if !CanTransition(from, to) {
		return nil, &InvalidStateTransitionError{From: from, To: to}
	}

	if postFn != nil {
		if err := postFn(tx, w); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	w.Status = to
	w.UpdatedAt = now
	w.Payload.Transitions = append(w.Payload.Transitions, models.WithdrawalTransition{
		From:  from,
		To:    to,
		Actor: actor,
		Note:  note,
		At:    now,
	})

	_, err = tx.Exec(`
		UPDATE withdrawal_requests
		SET status = $1, payload = $2, updated_at = $3
		WHERE id = $4`,
		w.Status, w.Payload, w.UpdatedAt, w.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(w.ID, w.UserID, from, to, actor)
	log.Printf("[WITHDRAWAL] %s moved %s -> %s by %s", w.ID, from, to, actor)
	return w, nil
}

func (s *WithdrawalService) lockRequestTx(tx *sql.Tx, id string) (*models.WithdrawalRequest, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE`, id)
	return scanWithdrawal(row)
}

func (s *WithdrawalService) findByIdempotencyKeyTx(tx *sql.Tx, userID, key string) (*models.WithdrawalRequest, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	return scanWithdrawal(row)
}

func (s *WithdrawalService) findByIdempotencyKey(ctx context.Context, userID, key string) (*models.WithdrawalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	return scanWithdrawal(row)
}

// GetByID loads one withdrawal request
func (s *WithdrawalService) GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE id = $1`, id)
	return scanWithdrawal(row)
}

// ListByUser pages over a user's requests, newest first
func (s *WithdrawalService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.WithdrawalRequest, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// ListByStatus pages the admin review queue, oldest first
func (s *WithdrawalService) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_rub, method, destination, status, idempotency_key, payload, created_at, updated_at
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.UserID, &w.AmountRub, &w.Method, &w.Destination,
		&w.Status, &w.IdempotencyKey, &w.Payload, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWithdrawals(rows *sql.Rows) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// HTTP handlers

// CreateWithdrawalHandler opens a withdrawal request
// @Summary Create withdrawal request
// @Description Request a payout of referral balance; idempotent per Idempotency-Key
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateWithdrawal true "Withdrawal request"
// @Success 201 {object} models.WithdrawalRequest
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.CreateWithdrawal

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, replayed, err := s.Create(r.Context(), userID, req)
	if err != nil {
		status := ErrorStatusCode(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"replayed":   replayed,
		"withdrawal": request,
	})
}

// ListWithdrawalsHandler lists the caller's requests
// @Summary List own withdrawal requests
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{withdrawals=[]models.WithdrawalRequest,count=int}
// @Router /withdrawals [get]
func (s *WithdrawalService) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	withdrawals, err := s.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"withdrawals": withdrawals,
		"count":       len(withdrawals),
	})
}

// GetWithdrawalHandler returns one of the caller's requests
// @Summary Get withdrawal request
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/{id} [get]
func (s *WithdrawalService) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	request, err := s.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil || request.UserID != userID {
		SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(request)
}

// CancelWithdrawalHandler cancels the caller's own request
// @Summary Cancel withdrawal request
// @Description Cancel an own request in requested state; the held amount is released
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{id}/cancel [post]
func (s *WithdrawalService) CancelWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	request, err := s.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"withdrawal": request,
	})
}

// Admin handlers

// AdminListWithdrawalsHandler pages the review queue
// @Summary List withdrawal requests by status
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter (default requested)"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{withdrawals=[]models.WithdrawalRequest,count=int}
// @Router /admin/withdrawals [get]
func (s *WithdrawalService) AdminListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.WithdrawalRequested
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	withdrawals, err := s.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"withdrawals": withdrawals,
		"count":       len(withdrawals),
	})
}

// AdminReviewHandler moves a request into review
// @Summary Mark withdrawal for review
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/review [post]
func (s *WithdrawalService) AdminReviewHandler(w http.ResponseWriter, r *http.Request) {
	s.adminTransitionHandler(w, r, func(id, adminID string, body adminActionRequest) (*models.WithdrawalRequest, error) {
		return s.SubmitForReview(r.Context(), id, adminID)
	})
}

// AdminApproveHandler clears a request for payout
// @Summary Approve withdrawal
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{note=string} false "Approval note"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/approve [post]
func (s *WithdrawalService) AdminApproveHandler(w http.ResponseWriter, r *http.Request) {
	s.adminTransitionHandler(w, r, func(id, adminID string, body adminActionRequest) (*models.WithdrawalRequest, error) {
		return s.Approve(r.Context(), id, adminID, body.Note)
	})
}

// AdminRejectHandler declines a request and releases the hold
// @Summary Reject withdrawal
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{reason=string} false "Rejection reason"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/reject [post]
func (s *WithdrawalService) AdminRejectHandler(w http.ResponseWriter, r *http.Request) {
	s.adminTransitionHandler(w, r, func(id, adminID string, body adminActionRequest) (*models.WithdrawalRequest, error) {
		return s.Reject(r.Context(), id, adminID, body.Reason)
	})
}

// AdminPayHandler marks a request paid and exports the payout message
// @Summary Mark withdrawal paid
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{providerRef=string} false "Payout provider reference"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/pay [post]
func (s *WithdrawalService) AdminPayHandler(w http.ResponseWriter, r *http.Request) {
	s.adminTransitionHandler(w, r, func(id, adminID string, body adminActionRequest) (*models.WithdrawalRequest, error) {
		return s.MarkPaid(r.Context(), id, adminID, body.ProviderRef)
	})
}

// AdminPayoutMessageHandler renders the ISO 20022 payout message for an
// approved or paid request
// @Summary Get payout message
// @Description Render the pacs.008 credit transfer XML for a withdrawal
// @Tags admin
// @Produce xml
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {string} string "pacs.008 XML"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/payout-message [get]
func (s *WithdrawalService) AdminPayoutMessageHandler(w http.ResponseWriter, r *http.Request) {
	request, err := s.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
		return
	}
	if request.Status != models.WithdrawalApproved && request.Status != models.WithdrawalPaid {
		SendErrorResponse(w, "Withdrawal has no payout message in status "+request.Status, http.StatusConflict, nil)
		return
	}

	doc, err := s.payout.BuildPacs008(request)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}
	xmlData, err := s.payout.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xmlData))
}

type adminActionRequest struct {
	Note        string `json:"note,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
}

func (s *WithdrawalService) adminTransitionHandler(w http.ResponseWriter, r *http.Request, action func(id, adminID string, body adminActionRequest) (*models.WithdrawalRequest, error)) {
	adminID, ok := r.Context().Value("userID").(string)
	if !ok || adminID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var body adminActionRequest
	if r.ContentLength > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	request, err := action(chi.URLParam(r, "id"), adminID, body)
	if err != nil {
		SendErrorResponse(w, err.Error(), ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"withdrawal": request,
	})
}
