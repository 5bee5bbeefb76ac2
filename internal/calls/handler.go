package calls

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Handler handles HTTP requests for call logs and live call state.
type Handler struct {
	repo      Repository
	initiator *Initiator
	live      *LiveStore
	logger    *logging.Logger
}

// NewHandler creates a new calls handler. initiator and live are optional;
// the corresponding endpoints return 503 when they are absent.
func NewHandler(repo Repository, initiator *Initiator, live *LiveStore, logger *logging.Logger) *Handler {
	return &Handler{
		repo:      repo,
		initiator: initiator,
		live:      live,
		logger:    logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCallNotFound):
		http.Error(w, "call not found", http.StatusNotFound)
	case errors.Is(err, ErrMissingPhone):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Place handles POST /calls requests. A provider rejection is a structured
// 502, not a 500: the request was fine, the far side said no.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	if h.initiator == nil {
		http.Error(w, "outbound calling is not configured", http.StatusServiceUnavailable)
		return
	}

	var req OutboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.initiator.PlaceCall(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to place call", "error", err)
		h.writeRepoError(w, err)
		return
	}
	if !result.Success {
		h.writeJSON(w, http.StatusBadGateway, result)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListCallsResponse is the response for listing call logs.
type ListCallsResponse struct {
	Calls []*CallLog `json:"calls"`
	Count int        `json:"count"`
	Limit int        `json:"limit"`
}

// List handles GET /calls requests. With referral_id set, the listing is
// every attempt for that referral; otherwise the most recent calls overall.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if referralID := q.Get("referral_id"); referralID != "" {
		logs, err := h.repo.ListByReferral(r.Context(), referralID)
		if err != nil {
			h.logger.Error("failed to list calls by referral", "error", err, "referral_id", referralID)
			http.Error(w, "failed to list calls", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, ListCallsResponse{Calls: logs, Count: len(logs), Limit: len(logs)})
		return
	}

	limit := 50
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	logs, err := h.repo.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list recent calls", "error", err)
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, ListCallsResponse{Calls: logs, Count: len(logs), Limit: limit})
}

// Get handles GET /calls/{callID} requests.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callID")
	log, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, log)
}

// LiveState handles GET /calls/live/{callSID} requests. The state is the
// ephemeral Redis view of a call in flight; it expires shortly after the
// call ends.
func (h *Handler) LiveState(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		http.Error(w, "live call state is not configured", http.StatusServiceUnavailable)
		return
	}

	callSID := chi.URLParam(r, "callSID")
	state, err := h.live.GetState(r.Context(), callSID)
	if err != nil {
		h.logger.Error("failed to read live call state", "error", err, "call_sid", callSID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if state == nil {
		http.Error(w, "no live call with that SID", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// LiveTranscriptResponse is the response for the live transcript listing.
type LiveTranscriptResponse struct {
	CallSID string            `json:"call_sid"`
	Entries []TranscriptEntry `json:"entries"`
	Count   int               `json:"count"`
}

// LiveTranscript handles GET /calls/live/{callSID}/transcript requests.
func (h *Handler) LiveTranscript(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		http.Error(w, "live call state is not configured", http.StatusServiceUnavailable)
		return
	}

	callSID := chi.URLParam(r, "callSID")
	entries, err := h.live.Transcript(r.Context(), callSID)
	if err != nil {
		h.logger.Error("failed to read live transcript", "error", err, "call_sid", callSID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, LiveTranscriptResponse{
		CallSID: callSID,
		Entries: entries,
		Count:   len(entries),
	})
}
