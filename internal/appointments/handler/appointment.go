package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"clinicops/internal/appointments/service"
	apperrors "clinicops/pkg/errors"
	httputil "clinicops/pkg/http"
	"clinicops/pkg/logger"
	"clinicops/pkg/middleware"
	"clinicops/pkg/model"

	"github.com/julienschmidt/httprouter"
)

// suggestTimeout bounds the alternatives lookup that decorates a
// conflict response.
const suggestTimeout = 2 * time.Second

type AppointmentHandler struct {
	service   service.AppointmentService
	suggester *service.Suggester
	log       *logger.Logger
}

func NewAppointmentHandler(service service.AppointmentService, suggester *service.Suggester, log *logger.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service:   service,
		suggester: suggester,
		log:       log,
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Create", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}
	req.SessionID = r.Header.Get(middleware.SessionHeader)

	appointment, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.writeBookingError(w, r, &req, err, "Create")
		return
	}

	if err := httputil.WriteCreated(w, appointment); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *AppointmentHandler) CreateBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var reqs []*model.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "CreateBatch", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}
	sessionID := r.Header.Get(middleware.SessionHeader)
	for _, req := range reqs {
		req.SessionID = sessionID
	}

	result, err := h.service.CreateBatch(r.Context(), reqs)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "CreateBatch", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, result); err != nil {
		h.log.Error("failed to write created response", "handler", "CreateBatch", "operation", "WriteCreated", "error", err)
	}
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.Cancel(r.Context(), ps.ByName("id")); err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Cancel", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	httputil.WriteNoContent(w)
}

func (h *AppointmentHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appointment, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetByID", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, appointment); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	vetID := query.Get("vet_id")
	date := query.Get("date")

	appointments, err := h.service.ListByVetAndDate(r.Context(), vetID, date)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "List", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, appointments); err != nil {
		h.log.Error("failed to write success response", "handler", "List", "operation", "WriteSuccess", "error", err)
	}
}

// writeBookingError decorates slot conflicts with alternative free
// slots before writing the response. Other errors pass through as-is.
func (h *AppointmentHandler) writeBookingError(w http.ResponseWriter, r *http.Request, req *model.AppointmentRequest, err error, op string) {
	appErr := apperrors.AsAppError(err)
	if appErr != nil && h.suggester != nil && isSlotConflict(appErr.Code) {
		alternatives := h.suggester.SuggestWithDeadline(
			r.Context(), req.VetID, req.Date, req.StartTime, req.DurationMin, suggestTimeout,
		)
		if alternatives == nil {
			alternatives = []model.Alternative{}
		}
		err = appErr.WithDetail("alternatives", alternatives)
	}

	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", op, "operation", "WriteError", "error", writeErr)
	}
}

func isSlotConflict(code string) bool {
	switch code {
	case apperrors.CodeSlotConflict, apperrors.CodeSlotReserved, apperrors.CodeSlotAlreadyBooked:
		return true
	}
	return false
}

func (h *AppointmentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/appointments", h.Create)
	router.POST("/api/v1/appointments/batch", h.CreateBatch)
	router.GET("/api/v1/appointments", h.List)
	router.GET("/api/v1/appointments/id/:id", h.GetByID)
	router.DELETE("/api/v1/appointments/id/:id", h.Cancel)
}
