package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vitawell/backend/internal/services"
)

type NetworkHandler struct {
	service   *services.NetworkService
	validator *services.ValidationHelper
}

func NewNetworkHandler(service *services.NetworkService) *NetworkHandler {
	return &NetworkHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GetUpline returns the caller's sponsor chain
// @Summary Get upline
// @Description Ordered sponsor chain of the authenticated user, nearest sponsor first
// @Tags network
// @Produce json
// @Security BearerAuth
// @Param levels query int false "Maximum levels to walk"
// @Success 200 {object} object{success=bool,upline=[]models.UplineEntry}
// @Failure 401 {object} services.ErrorResponse
// @Router /network/upline [get]
func (h *NetworkHandler) GetUpline(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	levels, _ := strconv.Atoi(r.URL.Query().Get("levels"))
	upline, err := h.service.GetUpline(r.Context(), userID, levels)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"upline":  upline,
	})
}

// GetDownline returns the caller's recruits grouped by level
// @Summary Get downline
// @Description Recruits of the authenticated user grouped by depth
// @Tags network
// @Produce json
// @Security BearerAuth
// @Param levels query int false "Maximum levels to walk"
// @Success 200 {object} object{success=bool,downline=[]models.DownlineLevel}
// @Failure 401 {object} services.ErrorResponse
// @Router /network/downline [get]
func (h *NetworkHandler) GetDownline(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	levels, _ := strconv.Atoi(r.URL.Query().Get("levels"))
	downline, err := h.service.GetDownline(r.Context(), userID, levels)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.ErrorStatusCode(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"downline": downline,
	})
}

// GetReferralInvite returns the caller's invite link with a QR code
// @Summary Get referral invite
// @Description Invite link and QR code image for recruiting new members
// @Tags network
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,link=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /network/referral-qr [get]
func (h *NetworkHandler) GetReferralInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	link, qrImage, err := h.service.ReferralInvite(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"link":    link,
		"qrImage": qrImage,
	})
}

// RegisterEdge attaches a member under a sponsor
// @Summary Register referral edge
// @Description Attach a member under a sponsor in the referral network
// @Tags network
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{childId=string,parentId=string} true "Referral edge"
// @Success 201 {object} object{success=bool,edge=models.ReferralEdge}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/network/edges [post]
func (h *NetworkHandler) RegisterEdge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChildID  string `json:"childId" validate:"required,max=64"`
		ParentID string `json:"parentId" validate:"required,max=64"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	edge, err := h.service.RegisterReferral(r.Context(), req.ChildID, req.ParentID)
	if err != nil {
		status := services.ErrorStatusCode(err)
		var cycle *services.CycleError
		if status == http.StatusInternalServerError && !errors.As(err, &cycle) {
			// self-sponsor and cycle-closing edges are caller mistakes
			status = http.StatusBadRequest
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"edge":    edge,
	})
}
