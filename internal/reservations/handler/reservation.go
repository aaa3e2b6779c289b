package handler

import (
	"encoding/json"
	"net/http"

	"clinicops/internal/reservations/service"
	apperrors "clinicops/pkg/errors"
	httputil "clinicops/pkg/http"
	"clinicops/pkg/logger"
	"clinicops/pkg/middleware"
	"clinicops/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type ReservationHandler struct {
	service service.ReservationService
	log     *logger.Logger
}

func NewReservationHandler(service service.ReservationService, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		service: service,
		log:     log,
	}
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sessionID, ok := h.requireSession(w, r, "Create")
	if !ok {
		return
	}

	var req model.HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Create", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}
	req.SessionID = sessionID

	hold, err := h.service.CreateHold(r.Context(), &req)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Create", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, hold); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID, ok := h.requireSession(w, r, "Confirm")
	if !ok {
		return
	}

	hold, err := h.service.ConfirmHold(r.Context(), ps.ByName("id"), sessionID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Confirm", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, hold); err != nil {
		h.log.Error("failed to write success response", "handler", "Confirm", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Extend(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID, ok := h.requireSession(w, r, "Extend")
	if !ok {
		return
	}

	hold, err := h.service.ExtendHold(r.Context(), ps.ByName("id"), sessionID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Extend", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, hold); err != nil {
		h.log.Error("failed to write success response", "handler", "Extend", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID, ok := h.requireSession(w, r, "Release")
	if !ok {
		return
	}

	if err := h.service.ReleaseHold(r.Context(), ps.ByName("id"), sessionID); err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Release", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	httputil.WriteNoContent(w)
}

func (h *ReservationHandler) ReleaseAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sessionID, ok := h.requireSession(w, r, "ReleaseAll")
	if !ok {
		return
	}

	holds, err := h.service.ReleaseAllForSession(r.Context(), sessionID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "ReleaseAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, map[string]any{"released": len(holds)}); err != nil {
		h.log.Error("failed to write success response", "handler", "ReleaseAll", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) requireSession(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	sessionID := r.Header.Get(middleware.SessionHeader)
	if sessionID == "" {
		err := apperrors.InvalidInput("Missing " + middleware.SessionHeader + " header")
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", op, "operation", "WriteError", "error", writeErr)
		}
		return "", false
	}
	return sessionID, true
}

func (h *ReservationHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/reservations", h.Create)
	router.POST("/api/v1/reservations/:id/confirm", h.Confirm)
	router.POST("/api/v1/reservations/:id/extend", h.Extend)
	router.DELETE("/api/v1/reservations/:id", h.Release)
	router.DELETE("/api/v1/reservations", h.ReleaseAll)
}
