package flags

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Handler handles HTTP requests for flags.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a new flags handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFlagNotFound) {
		http.Error(w, "flag not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Create handles POST /flags requests.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flag, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create flag", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("flag created", "id", flag.ID, "patient", flag.PatientName, "priority", flag.Priority)
	h.writeJSON(w, http.StatusCreated, flag)
}

// ListFlagsResponse is the response for listing flags.
type ListFlagsResponse struct {
	Flags  []*Flag `json:"flags"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// List handles GET /flags requests.
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
	filter.Status = Status(q.Get("status"))
	filter.Priority = Priority(q.Get("priority"))
	filter.PatientName = q.Get("patient_name")

	flags, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list flags", "error", err)
		http.Error(w, "failed to list flags", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListFlagsResponse{
		Flags:  flags,
		Count:  len(flags),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

// ListOpen handles GET /flags/open requests, the nurse worklist.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	flags, err := h.repo.ListOpen(r.Context())
	if err != nil {
		h.logger.Error("failed to list open flags", "error", err)
		http.Error(w, "failed to list open flags", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListFlagsResponse{
		Flags: flags,
		Count: len(flags),
	})
}

// Get handles GET /flags/{flagID} requests.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flagID")
	flag, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, flag)
}

// Update handles PATCH /flags/{flagID} requests.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flagID")

	var req UpdateFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flag, err := h.repo.Update(r.Context(), id, &req)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, flag)
}

// Resolve handles POST /flags/{flagID}/resolve requests.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flagID")

	var req ResolveRequest
	if r.Body != nil {
		// An empty body resolves with no notes.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	flag, err := h.repo.Resolve(r.Context(), id, req.ResolvedBy, req.ResolutionNotes)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	h.logger.Info("flag resolved", "id", flag.ID, "resolved_by", req.ResolvedBy)
	h.writeJSON(w, http.StatusOK, flag)
}

// Dismiss handles POST /flags/{flagID}/dismiss requests.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flagID")

	var req DismissRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	flag, err := h.repo.Dismiss(r.Context(), id, req.Reason)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}

	h.logger.Info("flag dismissed", "id", flag.ID)
	h.writeJSON(w, http.StatusOK, flag)
}
