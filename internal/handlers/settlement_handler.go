package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vitawell/backend/internal/models"
	"github.com/vitawell/backend/internal/services"
)

type SettlementHandler struct {
	service   *services.SettlementService
	validator *services.ValidationHelper
}

func NewSettlementHandler(service *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// EnqueueOrder queues an order for commission settlement
// @Summary Enqueue order settlement
// @Description Queue a paid order for asynchronous commission settlement
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SettlementRequest true "Paid order"
// @Success 202 {object} object{success=bool,orderId=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/settlements/orders [post]
func (h *SettlementHandler) EnqueueOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.EnqueueOrder(r.Context(), *req); err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"orderId": req.OrderID,
	})
}

// SettleOrder settles an order synchronously
// @Summary Settle order
// @Description Run commission settlement for a paid order and return the postings written
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SettlementRequest true "Paid order"
// @Success 200 {object} object{success=bool,data=models.SettlementResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /admin/settlements/orders/sync [post]
func (h *SettlementHandler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.SettleOrder(r.Context(), *req)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}

// GetOrderStatus returns the settlement state of an order
// @Summary Get order settlement status
// @Description Postings written for an order, or 404 if the order was never settled
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param orderID path string true "Order ID"
// @Success 200 {object} object{success=bool,data=models.SettlementResult}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/settlements/orders/{orderID} [get]
func (h *SettlementHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		services.SendErrorResponse(w, "Order ID is required", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.OrderStatus(r.Context(), orderID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}

func (h *SettlementHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*models.SettlementRequest, bool) {
	var req models.SettlementRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}

	return &req, true
}
