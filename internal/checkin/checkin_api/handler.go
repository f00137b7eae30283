package checkin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin/idempotency"
	checkin "ms-checkin/internal/checkin/service"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

type CheckinService interface {
	Scan(ctx context.Context, operatorID, token string, req models.ScanRequest) (*checkin.ScanOutcome, error)
	StoredScan(ctx context.Context, operatorID, token string) (*checkin.ScanOutcome, error)
	VenueOccupancy(ctx context.Context, eventID, venueID string) (*models.OccupancySnapshot, error)
	ScanHistory(ctx context.Context, operatorID, eventID string) ([]models.AttendanceRecord, error)
	EventStats(ctx context.Context, operatorID, eventID string) (*models.ScanStats, error)
	Subscribe(ctx context.Context, eventID string) <-chan models.OccupancyUpdate
}

type Handler struct {
	Service  CheckinService
	Validate *validator.Validate
	Logger   *logger.Logger
}

func NewHandler(service CheckinService, log *logger.Logger) *Handler {
	return &Handler{
		Service:  service,
		Validate: validator.New(),
		Logger:   log,
	}
}

// RegisterRoutes registers the check-in routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/scan", h.Scan)
		r.Get("/history", h.ScanHistory)
		r.Get("/events/{eventId}/stats", h.EventStats)
		r.Get("/events/{eventId}/venues/{venueId}/occupancy", h.VenueOccupancy)
		r.Get("/events/{eventId}/occupancy/stream", h.StreamOccupancy)
	})
}

func (h *Handler) validate(ctx context.Context, payload interface{}) error {
	err := h.Validate.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}

	var errorFields validator.ValidationErrors
	if !errors.As(err, &errorFields) {
		return err
	}

	errMessages := make([]string, len(errorFields))
	for k, errorField := range errorFields {
		errMessages[k] = fmt.Sprintf("invalid '%s' (%s)", errorField.Field(), errorField.Tag())
	}
	return errors.New(strings.Join(errMessages, ", "))
}

// operator returns the authenticated operator or writes a 401.
func (h *Handler) operator(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Warn("API", "User ID not found in context")
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", nil)
		return "", false
	}
	return userID, true
}

// Scan handles POST /api/checkin/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operator(w, r)
	if !ok {
		return
	}

	token := r.Header.Get(IdempotencyKeyHeader)
	if err := idempotency.ValidateToken(token); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid Idempotency-Key header", err)
		return
	}

	// A retried key gets the stored answer whatever the body now says.
	stored, err := h.Service.StoredScan(r.Context(), operatorID, token)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Idempotency lookup failed for operator %s: %v", operatorID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to process scan", nil)
		return
	}
	if stored != nil {
		h.writeOutcome(w, stored)
		return
	}

	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate(r.Context(), req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid scan request", err)
		return
	}

	outcome, err := h.Service.Scan(r.Context(), operatorID, token, req)
	switch {
	case errors.Is(err, idempotency.ErrInvalidToken):
		utils.WriteError(w, http.StatusBadRequest, "Invalid Idempotency-Key header", err)
		return
	case errors.Is(err, idempotency.ErrRequestInFlight):
		utils.WriteError(w, http.StatusConflict, "Scan already in progress", err)
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("Scan failed for operator %s: %v", operatorID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to process scan", nil)
		return
	}

	h.writeOutcome(w, outcome)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, outcome *checkin.ScanOutcome) {
	if outcome.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	utils.WriteRaw(w, http.StatusOK, outcome.Body)
}

// VenueOccupancy handles GET /api/checkin/events/{eventId}/venues/{venueId}/occupancy
func (h *Handler) VenueOccupancy(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.operator(w, r); !ok {
		return
	}
	eventID := chi.URLParam(r, "eventId")
	venueID := chi.URLParam(r, "venueId")

	snapshot, err := h.Service.VenueOccupancy(r.Context(), eventID, venueID)
	switch {
	case errors.Is(err, checkin.ErrEventNotFound), errors.Is(err, checkin.ErrVenueNotFound):
		utils.WriteError(w, http.StatusNotFound, "Occupancy not available", err)
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("Occupancy lookup for %s/%s failed: %v", eventID, venueID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to get occupancy", nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, snapshot)
}

// ScanHistory handles GET /api/checkin/history?event_id=
func (h *Handler) ScanHistory(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operator(w, r)
	if !ok {
		return
	}

	history, err := h.Service.ScanHistory(r.Context(), operatorID, r.URL.Query().Get("event_id"))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Scan history for %s failed: %v", operatorID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to get scan history", nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, history)
}

// EventStats handles GET /api/checkin/events/{eventId}/stats
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operator(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "eventId")

	stats, err := h.Service.EventStats(r.Context(), operatorID, eventID)
	switch {
	case errors.Is(err, checkin.ErrForbidden):
		h.Logger.LogSecurity("STATS_FORBIDDEN", fmt.Sprintf("operator=%s event=%s", operatorID, eventID))
		utils.WriteError(w, http.StatusForbidden, "You do not have permission to access these statistics", err)
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("Stats for %s failed: %v", eventID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to get statistics", nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}
