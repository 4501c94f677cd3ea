package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/audit"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/booking"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/metrics"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/redis"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

// BookingService is the slice of the booking service the API exposes.
type BookingService interface {
	Availability(ctx context.Context, professionalID, serviceID uuid.UUID, from schedule.LocalDate, days int) ([]booking.DayAvailability, error)
	Book(ctx context.Context, req booking.BookRequest) (*db.Appointment, error)
	Reschedule(ctx context.Context, appointmentID uuid.UUID, date schedule.LocalDate, startHHMM string) (*db.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID) error
}

// BookingRequest is the POST /v1/appointments body.
type BookingRequest struct {
	BusinessID     string `json:"business_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	CustomerID     string `json:"customer_id"`
	Date           string `json:"date"`
	Start          string `json:"start"`
}

// RescheduleRequest is the body for POST /v1/appointments/{id}/reschedule.
type RescheduleRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	svc         BookingService
	idempotency *redis.IdempotencyService // nil if Redis not configured
	trail       *audit.Trail
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, svc BookingService, idempotency *redis.IdempotencyService, trail *audit.Trail) *Handler {
	return &Handler{
		logger:      logger,
		svc:         svc,
		idempotency: idempotency,
		trail:       trail,
	}
}

// Routes mounts the API routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/availability", h.GetAvailability)
	r.Post("/appointments", h.CreateAppointment)
	r.Post("/appointments/{id}/reschedule", h.RescheduleAppointment)
	r.Post("/appointments/{id}/cancel", h.CancelAppointment)
}

// GetAvailability handles
// GET /v1/availability?professional_id=&service_id=&from=YYYY-MM-DD&days=7
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	professionalID, err := uuid.Parse(r.URL.Query().Get("professional_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid professional_id", "professional_id must be a valid UUID")
		return
	}
	serviceID, err := uuid.Parse(r.URL.Query().Get("service_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid service_id", "service_id must be a valid UUID")
		return
	}
	from, err := schedule.ParseLocalDate(r.URL.Query().Get("from"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from date", "from must be YYYY-MM-DD")
		return
	}

	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil {
			days = d
		}
	}

	result, err := h.svc.Availability(ctx, professionalID, serviceID, from, days)
	if err != nil {
		h.writeServiceError(w, err, "availability")
		return
	}
	metrics.RecordAvailabilityQuery()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": result})
}

// CreateAppointment handles POST /v1/appointments
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.BusinessID == "" || req.ProfessionalID == "" || req.ServiceID == "" || req.CustomerID == "" || req.Date == "" || req.Start == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"business_id, professional_id, service_id, customer_id, date, and start are required")
		return
	}

	professionalID, err := uuid.Parse(req.ProfessionalID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid professional_id", "professional_id must be a valid UUID")
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid service_id", "service_id must be a valid UUID")
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid customer_id", "customer_id must be a valid UUID")
		return
	}
	date, err := schedule.ParseLocalDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", "date must be YYYY-MM-DD")
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.BusinessID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cached.AppointmentID})
			return
		}
	}

	appt, err := h.svc.Book(ctx, booking.BookRequest{
		ProfessionalID: professionalID,
		ServiceID:      serviceID,
		CustomerID:     customerID,
		Date:           date,
		Start:          req.Start,
	})
	if err != nil {
		// Free the reservation so the client can retry the same key.
		if idempotencyKey != "" && h.idempotency != nil {
			if relErr := h.idempotency.Release(ctx, req.BusinessID, idempotencyKey); relErr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.writeServiceError(w, err, "booking")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			AppointmentID: appt.ID.String(),
			StatusCode:    http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.BusinessID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.trail.Emit(ctx, audit.Event{
		Kind:          audit.KindAppointmentBooked,
		BusinessID:    appt.BusinessID.String(),
		AppointmentID: appt.ID.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(appt)
}

// RescheduleAppointment handles POST /v1/appointments/{id}/reschedule
func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid appointment ID", "ID must be a valid UUID")
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	date, err := schedule.ParseLocalDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", "date must be YYYY-MM-DD")
		return
	}

	appt, err := h.svc.Reschedule(ctx, appointmentID, date, req.Start)
	if err != nil {
		h.writeServiceError(w, err, "reschedule")
		return
	}

	h.trail.Emit(ctx, audit.Event{
		Kind:          audit.KindAppointmentRescheduled,
		BusinessID:    appt.BusinessID.String(),
		AppointmentID: appt.ID.String(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(appt)
}

// CancelAppointment handles POST /v1/appointments/{id}/cancel
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid appointment ID", "ID must be a valid UUID")
		return
	}

	if err := h.svc.Cancel(ctx, appointmentID); err != nil {
		h.writeServiceError(w, err, "cancel")
		return
	}

	h.trail.Emit(ctx, audit.Event{
		Kind:          audit.KindAppointmentCanceled,
		AppointmentID: appointmentID.String(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps booking-layer errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, booking.ErrConflict):
		metrics.RecordBookingConflict()
		h.writeError(w, http.StatusConflict, "slot_conflict", "Slot no longer available", err.Error())
	case errors.Is(err, booking.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", err.Error())
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("operation", op),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
