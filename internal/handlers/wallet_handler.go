package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vitawell/backend/internal/models"
	"github.com/vitawell/backend/internal/services"
)

type WalletHandler struct {
	ledger *services.LedgerService
}

func NewWalletHandler(ledger *services.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetAccounts returns the caller's ledger accounts with balances
// @Summary Get wallet accounts
// @Description Ledger accounts of the authenticated user with derived balances
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,accounts=[]models.AccountBalance}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/accounts [get]
func (h *WalletHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accounts, err := h.ledger.ListAccountsByOwner(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"accounts": accounts,
	})
}

// GetBalance returns one account balance for the caller
// @Summary Get a single balance
// @Description Derived balance of the caller's account for a currency and type; the account is created on first use
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param currency query string false "Currency, default RUB"
// @Param type query string false "Account type, default referral"
// @Success 200 {object} object{success=bool,account=models.Account,balance=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/balance [get]
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = models.CurrencyRUB
	}
	accountType := r.URL.Query().Get("type")
	if accountType == "" {
		accountType = models.AccountReferral
	}

	account, err := h.ledger.EnsureAccount(r.Context(), userID, currency, accountType)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), account.ID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"account": account,
		"balance": balance.StringFixed(2),
	})
}

// GetAccountPostings returns postings on one of the caller's accounts
// @Summary Get account postings
// @Description Posting history of one account, newest first
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param accountID path int true "Account ID"
// @Param limit query int false "Page size, max 100"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} object{success=bool,postings=[]models.Posting}
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/accounts/{accountID}/postings [get]
func (h *WalletHandler) GetAccountPostings(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	// Do not reveal whether someone else's account exists
	if account.OwnerID != userID {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	limit, offset := pageParams(r)
	postings, err := h.ledger.ListPostingsByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"postings": postings,
	})
}

// AdminListAccounts lists all ledger accounts
// @Summary List ledger accounts
// @Description All ledger accounts, newest first
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size, max 100"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} object{success=bool,accounts=[]models.Account}
// @Router /admin/ledger/accounts [get]
func (h *WalletHandler) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	accounts, err := h.ledger.ListAllAccounts(r.Context(), limit, offset)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"accounts": accounts,
	})
}

// AdminAccountPostings returns postings on any account
// @Summary Get postings of any account
// @Description Posting history of any ledger account, newest first
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param accountID path int true "Account ID"
// @Param limit query int false "Page size, max 100"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} object{success=bool,postings=[]models.Posting}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/ledger/accounts/{accountID}/postings [get]
func (h *WalletHandler) AdminAccountPostings(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	if _, err := h.ledger.GetAccount(r.Context(), accountID); err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	limit, offset := pageParams(r)
	postings, err := h.ledger.ListPostingsByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"postings": postings,
	})
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
