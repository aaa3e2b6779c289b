package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "clinicops/pkg/errors"
	httputil "clinicops/pkg/http"
	"clinicops/pkg/logger"
	"clinicops/pkg/middleware"
	"clinicops/pkg/model"

	"github.com/julienschmidt/httprouter"
)

const heartbeatInterval = 15 * time.Second

// HoldSource is the slice of the reservation manager the watch endpoint
// needs: the snapshot on subscribe and the cleanup on disconnect.
type HoldSource interface {
	LiveHolds(ctx context.Context, vetID, date string) ([]*model.Hold, error)
	ReleaseAllForSession(ctx context.Context, sessionID string) ([]*model.Hold, error)
}

type WatchHandler struct {
	hub      *Hub
	registry *Registry
	holds    HoldSource
	log      *logger.Logger
}

func NewWatchHandler(hub *Hub, registry *Registry, holds HoldSource, log *logger.Logger) *WatchHandler {
	return &WatchHandler{
		hub:      hub,
		registry: registry,
		holds:    holds,
		log:      log,
	}
}

// CreateSession mints an opaque session token. Clients present it on
// every reservation call and on the watch stream.
func (h *WatchHandler) CreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session := h.registry.Mint()
	if err := httputil.WriteCreated(w, session); err != nil {
		h.log.Error("failed to write created response", "handler", "CreateSession", "operation", "WriteCreated", "error", err)
	}
}

// Watch streams room events over Server-Sent Events. The stream opens
// with an availability snapshot so a new viewer never acts on stale
// state, and the session's holds are released when the connection drops.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	vetID := ps.ByName("vet")
	date := ps.ByName("date")

	// EventSource cannot set request headers, so the token may also
	// arrive as a query parameter.
	sessionID := r.Header.Get(middleware.SessionHeader)
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session")
	}
	if !h.registry.Valid(sessionID) {
		if writeErr := httputil.WriteError(w, apperrors.New(apperrors.CodeInvalidInput, "Unknown or expired session token", http.StatusUnauthorized)); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Watch", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if _, err := model.ParseDate(date); err != nil {
		if writeErr := httputil.WriteError(w, apperrors.InvalidInput("Date must be in YYYY-MM-DD format")); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Watch", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		if writeErr := httputil.WriteError(w, apperrors.Internal("Streaming unsupported", nil)); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Watch", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Subscribe before reading the snapshot so nothing published in
	// between is lost.
	sub := h.hub.Subscribe(vetID, date, sessionID)
	defer sub.Close()
	h.registry.StreamOpened(sessionID)
	defer func() {
		// A session may watch several rooms; only its last stream
		// closing counts as the disconnect that frees its holds.
		if h.registry.StreamClosed(sessionID) {
			h.releaseOnDisconnect(sessionID)
		}
	}()

	h.log.Info("Watch stream opened", "vet_id", vetID, "date", date, "session_id", sessionID)

	liveHolds, err := h.holds.LiveHolds(r.Context(), vetID, date)
	if err != nil {
		h.log.Error("Failed to load snapshot holds", "vet_id", vetID, "date", date, "error", err)
		liveHolds = nil
	}
	if err := writeSSE(w, flusher, newSnapshotEvent(vetID, date, sessionID, liveHolds)); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info("Watch stream closed", "vet_id", vetID, "date", date, "session_id", sessionID)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-sub.C:
			if err := writeSSE(w, flusher, event); err != nil {
				return
			}
		}
	}
}

// releaseOnDisconnect implements disconnect-as-cancellation: every
// pending hold of the session is freed once its stream is gone.
func (h *WatchHandler) releaseOnDisconnect(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	released, err := h.holds.ReleaseAllForSession(ctx, sessionID)
	if err != nil {
		h.log.Error("Failed to release holds on disconnect", "session_id", sessionID, "error", err)
		return
	}
	if len(released) > 0 {
		h.log.Info("Released holds on disconnect", "session_id", sessionID, "count", len(released))
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (h *WatchHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/sessions", h.CreateSession)
	router.GET("/api/v1/watch/:vet/:date", h.Watch)
}
