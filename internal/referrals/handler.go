package referrals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

// CallDispatcher queues an outbound reschedule call for a missed referral.
// Implemented by the dispatch queue; nil disables automatic calling.
type CallDispatcher interface {
	EnqueueRescheduleCall(ctx context.Context, ref *Referral) error
}

// Handler handles HTTP requests for referrals.
type Handler struct {
	repo       Repository
	dispatcher CallDispatcher
	logger     *logging.Logger
}

// NewHandler creates a new referrals handler.
func NewHandler(repo Repository, dispatcher CallDispatcher, logger *logging.Logger) *Handler {
	return &Handler{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReferralNotFound):
		http.Error(w, "referral not found", http.StatusNotFound)
	case errors.Is(err, ErrNotSchedulable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Create handles POST /referrals requests.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create referral", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("referral created", "id", ref.ID, "specialty", ref.SpecialistType)
	h.writeJSON(w, http.StatusCreated, ref)
}

// ListReferralsResponse is the response for listing referrals.
type ListReferralsResponse struct {
	Referrals []*Referral `json:"referrals"`
	Count     int         `json:"count"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
}

// List handles GET /referrals requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Limit:  100,
		Offset: 0,
	}

	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 500 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	filter.Date = q.Get("date")
	filter.Status = Status(q.Get("status"))
	filter.SpecialistType = q.Get("specialist_type")
	if riskStr := q.Get("is_high_risk"); riskStr != "" {
		if risk, err := strconv.ParseBool(riskStr); err == nil {
			filter.HighRisk = &risk
		}
	}

	refs, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list referrals", "error", err)
		http.Error(w, "failed to list referrals", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListReferralsResponse{
		Referrals: refs,
		Count:     len(refs),
		Offset:    filter.Offset,
		Limit:     filter.Limit,
	})
}

// Get handles GET /referrals/{referralID} requests.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")
	ref, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ref)
}

// Update handles PATCH /referrals/{referralID} requests.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	var req UpdateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := h.repo.Update(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to update referral", "error", err, "id", id)
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ref)
}

// Schedule handles POST /referrals/{referralID}/schedule requests.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := h.repo.Schedule(r.Context(), id, req.ScheduledDate, req.Notes)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	h.logger.Info("referral scheduled", "id", ref.ID, "scheduled_date", req.ScheduledDate)
	h.writeJSON(w, http.StatusOK, ref)
}

// Reschedule handles POST /referrals/{referralID}/reschedule requests.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := h.repo.Reschedule(r.Context(), id, req.NewDatetime, req.Reason)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	h.logger.Info("referral rescheduled", "id", ref.ID, "new_datetime", req.NewDatetime)
	h.writeJSON(w, http.StatusOK, ref)
}

// MarkMissed handles POST /referrals/{referralID}/mark-missed requests.
// Marking a referral missed queues the automated reschedule call.
func (h *Handler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	ref, err := h.repo.MarkMissed(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	if h.dispatcher != nil {
		// Queue failure is not fatal; the overdue sweep re-surfaces the row.
		if err := h.dispatcher.EnqueueRescheduleCall(r.Context(), ref); err != nil {
			h.logger.Error("failed to queue reschedule call", "error", err, "referral_id", ref.ID)
		} else {
			h.logger.Info("reschedule call queued", "referral_id", ref.ID)
		}
	}

	h.writeJSON(w, http.StatusOK, ref)
}

// MarkAttended handles POST /referrals/{referralID}/mark-attended requests.
func (h *Handler) MarkAttended(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	ref, err := h.repo.MarkAttended(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ref)
}

// Cancel handles DELETE /referrals/{referralID} requests.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "referralID")

	if err := h.repo.Cancel(r.Context(), id); err != nil {
		h.writeRepoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OverdueResponse is the response for the overdue listing.
type OverdueResponse struct {
	Referrals     []*Referral `json:"referrals"`
	Count         int         `json:"count"`
	DaysThreshold int         `json:"days_threshold"`
}

// Overdue handles GET /referrals/overdue/list requests.
func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	days := 14
	if daysStr := r.URL.Query().Get("days_threshold"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d >= 1 && d <= 90 {
			days = d
		}
	}

	refs, err := h.repo.Overdue(r.Context(), days)
	if err != nil {
		h.logger.Error("failed to list overdue referrals", "error", err)
		http.Error(w, "failed to list overdue referrals", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, OverdueResponse{
		Referrals:     refs,
		Count:         len(refs),
		DaysThreshold: days,
	})
}
